package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/autoparts-store/internal/ads"
	"github.com/safar/autoparts-store/internal/cache"
	"github.com/safar/autoparts-store/internal/config"
	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/httpapi"
	"github.com/safar/autoparts-store/internal/logging"
	"github.com/safar/autoparts-store/internal/orders"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := cfg.RequireSecrets(); err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.NewConnection(ctx, &cfg.Database)
	cancel()
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()
	log.Info("connected to database")

	var adsRepo ads.Repository = ads.NewRepository(db)
	if rdb := connectRedis(cfg.Redis, log); rdb != nil {
		defer rdb.Close()
		adsRepo = cache.NewCreativeCache(adsRepo, rdb, cfg.Redis.CacheTTL, log)
	}

	adsSvc := ads.NewService(adsRepo, ads.NewSigner(cfg.Ads.SigningKey, cfg.Ads.LinkTTL), ads.Options{
		ClickBaseURL: cfg.Ads.PublicBaseURL,
	}, log)
	orderSvc := orders.NewService(db, orders.Options{
		Currency: cfg.Orders.Currency,
		Policy:   pricing.Policy{ClampNegative: cfg.Orders.ClampNegativeTotal},
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewServer(orderSvc, adsSvc, cfg.Auth.JWTSecret, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("server starting on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
}

// connectRedis returns nil when the cache is disabled or unreachable; ads are
// then served straight from Postgres.
func connectRedis(cfg config.RedisConfig, log *logrus.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Info("REDIS_ADDR not set, creative cache disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnf("redis unreachable at %s, creative cache disabled: %v", cfg.Addr, err)
		rdb.Close()
		return nil
	}
	return rdb
}
