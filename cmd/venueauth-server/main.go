// Command venueauth-server serves the venueauth HTTP API.
//
// Configuration comes from the environment, optionally seeded from a .env
// file. DATABASE_URL, REDIS_URL and the JWT_* secrets are required.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MrEthical07/venueauth"
	"github.com/MrEthical07/venueauth/google"
	"github.com/MrEthical07/venueauth/gormstore"
	"github.com/MrEthical07/venueauth/internal/logging"
	promexport "github.com/MrEthical07/venueauth/metrics/export/prometheus"
	"github.com/MrEthical07/venueauth/notify"
	"github.com/MrEthical07/venueauth/transport/httpapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "venueauth-server: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg serverConfig, log *zap.Logger) error {
	db, err := gormstore.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	if err := gormstore.Migrate(db); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var workers sync.WaitGroup
	defer workers.Wait()

	sender, closeSender, err := buildNotifier(ctx, cfg, log, &workers)
	if err != nil {
		return err
	}
	defer closeSender()

	builder := venueauth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithAccountStore(gormstore.NewAccountStore(db)).
		WithTokenStore(gormstore.NewTokenStore(db)).
		WithNotifier(sender).
		WithLogger(log)

	if cfg.Google.ClientID != "" {
		provider, err := google.New(cfg.Google)
		if err != nil {
			return err
		}
		defer provider.Close()
		builder = builder.WithOAuthProvider(provider)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sweeper := venueauth.NewSweeper(engine)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", httpapi.NewRouter(engine, cfg.HTTP, log))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifier wires AMQP when configured, else direct SMTP/Twilio delivery,
// else a logging sender for local development.
func buildNotifier(ctx context.Context, cfg serverConfig, log *zap.Logger, workers *sync.WaitGroup) (venueauth.NotificationSender, func(), error) {
	direct, err := directSender(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if cfg.AMQPURL == "" {
		return direct, func() {}, nil
	}

	queue, err := notify.DialQueue(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunRelay {
		relay := queue.Relay(direct, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification relay stopped", zap.Error(err))
			}
		}()
	}
	return queue.Publisher(), func() { _ = queue.Close() }, nil
}

func directSender(cfg serverConfig, log *zap.Logger) (venueauth.NotificationSender, error) {
	var router notify.Router
	if cfg.SMTP.Host != "" {
		router.Email = notify.NewSMTP(cfg.SMTP)
	}
	if cfg.Twilio.AccountSID != "" {
		sms, err := notify.NewTwilio(cfg.Twilio)
		if err != nil {
			return nil, err
		}
		router.SMS = sms
	}
	if router.Email == nil && router.SMS == nil {
		log.Warn("no delivery channel configured; notifications are only logged")
		return notify.NewLogSender(log), nil
	}
	return notify.NewRetrying(router, cfg.Retry, log), nil
}
