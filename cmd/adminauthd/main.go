// Command adminauthd serves the superadmin authentication API.
//
// With REDIS_ADDR unset it starts an in-process miniredis, and with
// DB_DIALECT=memory accounts live in memory; together with BOOTSTRAP_EMAIL
// and BOOTSTRAP_PASSWORD this gives a self-contained demo server. Without
// SMTP_HOST, outbound mail is written to the log instead of sent.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/adminauth"
	"github.com/MrEthical07/adminauth/audit/snssink"
	"github.com/MrEthical07/adminauth/credstore/memstore"
	"github.com/MrEthical07/adminauth/credstore/sqlstore"
	"github.com/MrEthical07/adminauth/internal/config"
	"github.com/MrEthical07/adminauth/internal/httpapi"
	"github.com/MrEthical07/adminauth/mail"
	otelexport "github.com/MrEthical07/adminauth/metrics/export/otel"
	"github.com/MrEthical07/adminauth/metrics/export/prometheus"
	"github.com/MrEthical07/adminauth/qr"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		slog.Error("adminauthd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	mailer, closeMailer, err := openMailer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeMailer()

	sinks := adminauth.MultiSink{adminauth.NewSlogSink(logger)}
	if cfg.AuditSNSTopicARN != "" {
		sns, err := snssink.New(ctx, cfg.AWSRegion, snssink.Options{TopicARN: cfg.AuditSNSTopicARN, Logger: logger})
		if err != nil {
			return err
		}
		sinks = append(sinks, sns)
	}

	engine, err := adminauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithQREncoder(qr.PNGEncoder{}).
		WithLogger(logger).
		WithAuditSink(sinks).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := bootstrap(ctx, engine, cfg, logger); err != nil {
		return err
	}

	exporter, err := otelexport.NewOTelExporter(otel.GetMeterProvider().Meter("adminauth"), engine)
	if err != nil {
		return err
	}
	defer exporter.Close()

	router := httpapi.NewRouter(engine, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		TrustProxy:     cfg.TrustProxy,
		RateLimit:      rate.Limit(cfg.RateLimitRPS),
		Burst:          cfg.RateLimitBurst,
		Logger:         logger,
		Metrics:        prometheus.NewPrometheusExporter(engine).Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "env", cfg.AppEnv)
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

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("REDIS_ADDR not set, using in-process miniredis; state is lost on exit")
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return rdb, func() { _ = rdb.Close(); mr.Close() }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

func openStore(ctx context.Context, cfg *config.Config) (adminauth.CredentialStore, func(), error) {
	if cfg.DBDialect == "memory" {
		return memstore.New(), func() {}, nil
	}
	s, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.DBDialect), cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func openMailer(cfg *config.Config, logger *slog.Logger) (mail.Sender, func(), error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP_HOST not set, outbound mail is logged instead of sent")
		return logMailer{logger: logger}, func() {}, nil
	}
	m, err := mail.NewSMTPMailer(cfg.SMTP, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}

// logMailer prints messages for local development.
type logMailer struct {
	logger *slog.Logger
}

func (m logMailer) Send(ctx context.Context, msg mail.Message) error {
	m.logger.InfoContext(ctx, "outbound mail", "to", msg.To, "kind", msg.Kind, "subject", msg.Subject, "body", msg.Text)
	return nil
}

// bootstrap creates the first superadmin from BOOTSTRAP_EMAIL and
// BOOTSTRAP_PASSWORD. An existing account is left untouched.
func bootstrap(ctx context.Context, engine *adminauth.Engine, cfg *config.Config, logger *slog.Logger) error {
	if cfg.BootstrapEmail == "" || cfg.BootstrapPassword == "" {
		return nil
	}
	acct, err := engine.CreateSuperadmin(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword)
	switch {
	case errors.Is(err, adminauth.ErrEmailInUse):
		return nil
	case err != nil:
		return err
	}
	logger.Info("bootstrap superadmin created", "account_id", acct.ID)
	return nil
}
