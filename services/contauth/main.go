package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"xama/pkg/metrics"
	"xama/pkg/observability/otelobs"
	"xama/pkg/ratelimit"
	"xama/pkg/xama"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var store Store
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, falling back to in-memory store", zap.Error(err))
			store = NewMemoryStore()
			limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
		} else {
			store = NewRedisStore(rdb)
			limiter = ratelimit.NewRedisLimiter(rdb,
				int64(cfg.RateLimitPerMinute), int64(cfg.RateLimitPerMinute), time.Minute, "contauth:rl")
		}
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory store")
		store = NewMemoryStore()
		limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	reg := prometheus.NewRegistry()
	server := NewServer(store, xama.DefaultPolicies(), cfg, log, reg)

	mux := http.NewServeMux()
	server.Routes(mux, func(h http.HandlerFunc) http.HandlerFunc {
		return ratelimit.Middleware(limiter, h)
	})
	mux.Handle("/metrics", metrics.Handler(reg))

	shutdown, err := otelobs.InitTracer(ctx, "contauth", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	sweeper := NewSweeper(store, log, cfg.SweepInterval, cfg.StaleAfter)
	go sweeper.Run(ctx)

	httpMetrics := metrics.NewHTTPMetrics(reg, "contauth")
	var h http.Handler = mux
	h = httpMetrics.Middleware(h)
	h = otelobs.AccessLogMiddleware(log, h)
	h = otelobs.WrapHTTPHandler("contauth", h)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("continuous auth service starting", zap.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
