package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"xama/pkg/database"
	"xama/pkg/geoip"
	"xama/pkg/metrics"
	"xama/pkg/observability/otelobs"
	"xama/pkg/ratelimit"
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
	if cfg.DatabaseURL != "" {
		db, err := database.Open(database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		defer db.Close()
		if err := MigrateSchema(db); err != nil {
			log.Fatal("apply migrations", zap.Error(err))
		}
		store = NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store = NewMemoryStore()
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using in-process rate limiter", zap.Error(err))
			limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
		} else {
			limiter = ratelimit.NewRedisLimiter(rdb,
				int64(cfg.RateLimitPerMinute), int64(cfg.RateLimitPerMinute), time.Minute, "riskeval:rl")
		}
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	geo := geoip.NewClient(cfg.GeoIPBaseURL)
	assessor := NewAssessor(store, geo, cfg.TrustedCountries, log)
	challenges := NewChallengeManager(store, []byte(cfg.JWTSecret), cfg.EmailFunctionURL, cfg.ChallengeTTL, log)

	reg := prometheus.NewRegistry()
	server := NewServer(assessor, challenges, log, reg)

	mux := http.NewServeMux()
	server.Routes(mux, func(h http.HandlerFunc) http.HandlerFunc {
		return ratelimit.Middleware(limiter, h)
	})
	mux.Handle("/metrics", metrics.Handler(reg))

	shutdown, err := otelobs.InitTracer(ctx, "riskeval", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	httpMetrics := metrics.NewHTTPMetrics(reg, "riskeval")
	var h http.Handler = mux
	h = httpMetrics.Middleware(h)
	h = otelobs.AccessLogMiddleware(log, h)
	h = otelobs.WrapHTTPHandler("riskeval", h)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("risk evaluation service starting", zap.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
