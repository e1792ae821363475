package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mkopaji/internal/config"
	"mkopaji/internal/core/sweep"
	httpx "mkopaji/internal/http"
	"mkopaji/internal/logging"
	"mkopaji/internal/pending"
	"mkopaji/internal/provider"
	"mkopaji/internal/provider/mock"
	"mkopaji/internal/provider/mpesa"
	paysvc "mkopaji/internal/services/payment"
	"mkopaji/internal/store/postgres"
	"mkopaji/internal/store/repositories"
)

func main() {
	cfg := config.Load()

	closer, err := logging.Setup(cfg.Log, cfg.App.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pending requests live in Redis when configured, otherwise in memory.
	var store pending.Store = pending.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping fail")
		}
		defer rdb.Close()
		store = pending.NewRedisStore(rdb, cfg.Payment.PendingTimeout)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("pending requests stored in redis")
	}
	tracker := pending.NewTracker(store, cfg.Payment.PendingTimeout)

	// History is optional.
	var history repositories.PaymentRequestRepository
	if cfg.DB.DSN != "" {
		pool := postgres.MustOpen(ctx, cfg.DB.DSN)
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("schema setup failed")
		}
		history = postgres.NewPaymentRequestRepository(pool)
	}

	mp := mpesa.New(cfg.Mpesa, cfg.Retry)
	if !mp.IsConfigured() {
		log.Warn().Msg("M-Pesa credentials incomplete; STK pushes will fail until configured")
	}

	registry := provider.NewRegistry()
	registry.RegisterProvider(mp)
	registry.RegisterProvider(mock.New())

	svc, err := paysvc.NewServiceFromRegistry(registry, tracker, history, paysvc.Options{
		Shortcode:    cfg.Mpesa.Shortcode,
		Environment:  cfg.Mpesa.Environment,
		MockMode:     cfg.Payment.MockMode,
		AutoFallback: cfg.Payment.AutoFallback,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("payment service setup failed")
	}

	worker := sweep.NewWorker(tracker, cfg.Payment.SweepInterval)
	go worker.Run(ctx)

	r := httpx.NewRouter(httpx.RouterDependencies{Config: cfg, Payments: svc})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("mkopaji listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}
