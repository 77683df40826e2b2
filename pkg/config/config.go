package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	MySQLAddr  string `mapstructure:"MYSQL_ADDR"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`

	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisSentinelAddrs string `mapstructure:"REDIS_SENTINEL_ADDRS"`
	RedisMasterName    string `mapstructure:"REDIS_MASTER_NAME"`

	RocketMQNameServer string `mapstructure:"ROCKETMQ_NAMESERVER"`

	JWTSecret    string        `mapstructure:"JWT_SECRET"`
	AuthTokenTTL time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	CookieSecure bool          `mapstructure:"COOKIE_SECURE"`

	StaticDir string `mapstructure:"STATIC_DIR"`

	EnableTracing        bool   `mapstructure:"ENABLE_TRACING"`
	CollectorServiceAddr string `mapstructure:"COLLECTOR_SERVICE_ADDR"`
	DisableProfiler      bool   `mapstructure:"DISABLE_PROFILER"`

	RateLimitIPRPS   float64 `mapstructure:"RATELIMIT_IP_RPS"`
	RateLimitIPBurst int     `mapstructure:"RATELIMIT_IP_BURST"`
}

var defaults = map[string]interface{}{
	"PORT":                   "8080",
	"DB_DRIVER":              "mysql",
	"MYSQL_ADDR":             "root:root_password@tcp(127.0.0.1:3307)/litrevu?charset=utf8mb4&parseTime=True&loc=Local",
	"SQLITE_PATH":            "litrevu.db",
	"REDIS_ADDR":             "localhost:6380",
	"REDIS_SENTINEL_ADDRS":   "",
	"REDIS_MASTER_NAME":      "mymaster",
	"ROCKETMQ_NAMESERVER":    "",
	"JWT_SECRET":             "",
	"AUTH_TOKEN_TTL":         "24h",
	"COOKIE_SECURE":          false,
	"STATIC_DIR":             "static",
	"ENABLE_TRACING":         false,
	"COLLECTOR_SERVICE_ADDR": "",
	"DISABLE_PROFILER":       false,
	"RATELIMIT_IP_RPS":       5.0,
	"RATELIMIT_IP_BURST":     10,
}

// Load reads an optional .env file, an optional config.yaml in the working
// directory, then the process environment. Later sources win.
func Load() (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config.yaml")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver != "mysql" && c.DBDriver != "sqlite" {
		return errors.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.AuthTokenTTL <= 0 {
		return errors.Errorf("AUTH_TOKEN_TTL must be positive, got %v", c.AuthTokenTTL)
	}
	return nil
}

func (c *Config) SentinelAddrs() []string {
	if strings.TrimSpace(c.RedisSentinelAddrs) == "" {
		return nil
	}
	return strings.Split(c.RedisSentinelAddrs, ",")
}
