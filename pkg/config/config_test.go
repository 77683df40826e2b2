package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("AUTH_TOKEN_TTL", "90m")
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("RATELIMIT_IP_BURST", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.AuthTokenTTL != 90*time.Minute {
		t.Errorf("AuthTokenTTL = %v, want 90m", cfg.AuthTokenTTL)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.RateLimitIPBurst != 3 {
		t.Errorf("RateLimitIPBurst = %d, want 3", cfg.RateLimitIPBurst)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want default 8080", cfg.Port)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "DB_DRIVER": "postgres"}},
		{"negative ttl", map[string]string{"JWT_SECRET": "x", "AUTH_TOKEN_TTL": "-1h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestSentinelAddrs(t *testing.T) {
	c := &Config{}
	if got := c.SentinelAddrs(); got != nil {
		t.Errorf("SentinelAddrs() = %v, want nil", got)
	}
	c.RedisSentinelAddrs = "a:26379,b:26379"
	if got, want := c.SentinelAddrs(), []string{"a:26379", "b:26379"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SentinelAddrs() = %v, want %v", got, want)
	}
}
