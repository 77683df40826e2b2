// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/config"
	"github.com/C-eorl/P9---LITRevu/pkg/repository"
	"github.com/C-eorl/P9---LITRevu/pkg/service"
	"github.com/C-eorl/P9---LITRevu/pkg/worker"

	"cloud.google.com/go/profiler"
	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/pkg/errors"
	redisotel "github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	serviceName    = "litrevu"
	serviceVersion = "1.0.0"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %+v", err)
	}

	if cfg.EnableTracing {
		tp, err := initTracing(ctx, cfg.CollectorServiceAddr)
		if err != nil {
			log.Warnf("warn: failed to start tracer: %+v", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					log.Errorf("Error shutting down tracer provider: %v", err)
				}
			}()
		}

		mp, err := initMetrics(ctx, cfg.CollectorServiceAddr)
		if err != nil {
			log.Warnf("warn: failed to start metric provider: %+v", err)
		} else {
			defer func() {
				if err := mp.Shutdown(context.Background()); err != nil {
					log.Errorf("Error shutting down metric provider: %v", err)
				}
			}()
		}
	}

	if !cfg.DisableProfiler {
		log.Info("Profiling enabled.")
		go initProfiling(serviceName, serviceVersion)
	} else {
		log.Info("Profiling disabled.")
	}

	// Propagate trace context
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))

	db := initDB(cfg)
	rdb := initRedis(cfg)

	pub, stopPublisher := initPublisher(ctx, &wg, db, cfg)

	srv := newServer(db, rdb, pub, cfg)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("starting http server at :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Info("Gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http server shutdown: %v", err)
	}
	cancel()
	// 等待 flusher 发完剩余事件再关闭 producer
	wg.Wait()
	stopPublisher()
}

// newServer wires repositories and services. rdb may be nil, in which case
// the graph cache and the rate limiter are disabled.
func newServer(db *gorm.DB, rdb redis.UniversalClient, pub service.Publisher, cfg *config.Config) *litrevuServer {
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	graphRepo := repository.NewGraphRepository(db)
	if rdb != nil {
		graphRepo = repository.NewCachedGraphRepo(graphRepo, rdb, log)
	}

	return &litrevuServer{
		auth:         service.NewAuthService(userRepo, cfg.JWTSecret, cfg.AuthTokenTTL, log),
		feed:         service.NewFeedService(postRepo, graphRepo, log),
		posts:        service.NewPostService(postRepo, pub, log),
		graph:        service.NewGraphService(userRepo, graphRepo, pub, log),
		limiter:      NewLimiter(rdb, cfg.RateLimitIPRPS, cfg.RateLimitIPBurst, log),
		log:          log,
		staticDir:    cfg.StaticDir,
		cookieSecure: cfg.CookieSecure,
	}
}

func initDB(cfg *config.Config) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		log.Infof("using sqlite database at %s", cfg.SQLitePath)
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		dialector = mysql.Open(cfg.MySQLAddr)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", cfg.DBDriver, err)
	}
	log.Infof("connected to %s", cfg.DBDriver)

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("failed to get sqlite handle: %v", err)
		}
		// sqlite 单写者
		sqlDB.SetMaxOpenConns(1)
	}

	// 监控 sql 语句执行时间
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		log.Fatalf("failed to initialize otelgorm plugin: %v", err)
	}

	// 自动迁移表结构
	if err := repository.AutoMigrate(db); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

// initRedis returns nil when redis cannot be reached; callers then run without cache.
func initRedis(cfg *config.Config) redis.UniversalClient {
	var rdb redis.UniversalClient

	if sentinels := cfg.SentinelAddrs(); len(sentinels) > 0 {
		// [模式 A] 哨兵模式
		log.Infof("Initializing Redis in Sentinel Mode. Sentinels: %v", sentinels)
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.RedisMasterName,
			SentinelAddrs: sentinels,
			DB:            0,
		})
	} else {
		// [模式 B] 单机模式
		log.Infof("Initializing Redis in Single Node Mode. Addr: %s", cfg.RedisAddr)
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
	}

	if err := redisotel.InstrumentTracing(rdb); err != nil {
		log.Warnf("failed to instrument redis: %v", err)
	}

	// 带重试的 Redis 连接
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			log.Info("connected to redis")
			return rdb
		}

		if i == maxRetries-1 {
			log.Warnf("failed to connect to redis after %d retries: %v, running without cache", maxRetries, err)
			rdb.Close()
			return nil
		}

		backoff := time.Duration(1<<i) * time.Second
		log.Warnf("redis not ready, retry in %v... (%d/%d)", backoff, i+1, maxRetries)
		time.Sleep(backoff)
	}
	return nil
}

// initPublisher starts the activity flusher on a RocketMQ producer. The returned
// func shuts the producer down and must run after the flusher has stopped.
func initPublisher(ctx context.Context, wg *sync.WaitGroup, db *gorm.DB, cfg *config.Config) (service.Publisher, func()) {
	if cfg.RocketMQNameServer == "" {
		log.Info("ROCKETMQ_NAMESERVER not set, activity events disabled")
		return worker.NopPublisher{}, func() {}
	}

	// RocketMQ Go 客户端不支持主机名，需要解析为 IP 地址
	resolvedAddr := resolveToIP(cfg.RocketMQNameServer)
	log.Infof("RocketMQ NameServer: %s -> %s", cfg.RocketMQNameServer, resolvedAddr)

	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{resolvedAddr}),
		producer.WithGroupName("litrevu_activity_producer"),
		producer.WithRetry(2),
	)
	if err != nil {
		log.Warnf("Failed to create RocketMQ producer: %v (activity events disabled)", err)
		return worker.NopPublisher{}, func() {}
	}
	if err := p.Start(); err != nil {
		log.Warnf("Failed to start RocketMQ producer: %v (activity events disabled)", err)
		return worker.NopPublisher{}, func() {}
	}

	activityRepo := repository.NewActivityRepository(db)
	flusher := worker.NewActivityFlusher(p, activityRepo, log)
	flusher.Start(ctx, wg)
	// 重发发送失败被落库的事件
	worker.NewActivityRecoverWorker(activityRepo, p, log).Start(ctx, wg)
	return flusher, func() {
		if err := p.Shutdown(); err != nil {
			log.Errorf("failed to shut down RocketMQ producer: %v", err)
		}
	}
}

func initTracing(ctx context.Context, collectorAddr string) (*sdktrace.TracerProvider, error) {
	collectorConn, err := connGRPC(collectorAddr)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithGRPCConn(collectorConn))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func initMetrics(ctx context.Context, collectorAddr string) (*sdkmetric.MeterProvider, error) {
	if collectorAddr == "" {
		return nil, errors.New("COLLECTOR_SERVICE_ADDR not set")
	}
	exporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(collectorAddr),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metric exporter")
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		log.Warnf("warn: Failed to create resource: %v", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func connGRPC(addr string) (*grpc.ClientConn, error) {
	if addr == "" {
		return nil, errors.New("COLLECTOR_SERVICE_ADDR not set")
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	if err != nil {
		return nil, errors.Wrapf(err, "grpc: failed to connect %s", addr)
	}
	return conn, nil
}

func initProfiling(service, version string) {
	for i := 1; i <= 3; i++ {
		if err := profiler.Start(profiler.Config{
			Service:        service,
			ServiceVersion: version,
		}); err != nil {
			log.Warnf("failed to start profiler: %+v", err)
		} else {
			log.Info("started Stackdriver profiler")
			return
		}
		d := time.Second * 10 * time.Duration(i)
		log.Infof("sleeping %v to retry initializing Stackdriver profiler", d)
		time.Sleep(d)
	}
	log.Warn("could not initialize Stackdriver profiler after retrying, giving up")
}

// resolveToIP 将 hostname:port 解析为 ip:port
func resolveToIP(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); ip != nil {
		return addr
	}

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return addr
	}
	// 优先使用 IPv4 地址
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return net.JoinHostPort(ip4.String(), port)
		}
	}
	return net.JoinHostPort(ips[0].String(), port)
}
