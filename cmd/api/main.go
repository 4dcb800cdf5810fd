package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"studiobook/internal/api"
	"studiobook/internal/auth"
	"studiobook/internal/booking"
	"studiobook/internal/cache"
	"studiobook/internal/calendar"
	"studiobook/internal/config"
	"studiobook/internal/database"
	"studiobook/internal/events"
	"studiobook/internal/ledger"
	"studiobook/internal/metrics"
	"studiobook/internal/notify"
	"studiobook/internal/repair"
	"studiobook/internal/report"
	"studiobook/internal/users"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("environment", cfg.App.Environment).Str("version", cfg.App.Version).Msg("starting studiobook")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
	}
	store := cache.New(rdb, cfg.CacheTTL(), logger)

	cal := newCalendar(ctx, cfg, &logger)

	var mailer notify.Mailer
	if cfg.Mail.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	} else {
		logger.Warn().Msg("mail.smtp_host not set, emails are only logged")
		mailer = notify.NewLogMailer(&logger)
	}
	retries, _ := cfg.Mail.Retries()
	notifier := notify.NewNotifier(mailer, notify.Composer{
		OperatorEmail: cfg.Auth.OperatorEmail,
		FrontendURL:   cfg.Mail.FrontendURL,
	}, notify.Config{
		Workers:     cfg.Mail.Workers,
		QueueSize:   cfg.Mail.QueueSize,
		Rate:        cfg.Mail.RatePerSecond,
		Burst:       cfg.Mail.Burst,
		RetryDelays: retries,
	}, &logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	bus := events.NewEventBus(logger)
	bus.Subscribe(events.All, func(e events.Event) error {
		dates := []string{e.Booking.Date}
		if e.Previous != nil && e.Previous.Date != e.Booking.Date {
			dates = append(dates, e.Previous.Date)
		}
		store.InvalidateSlots(context.Background(), dates...)
		return nil
	})

	catalog, err := config.LoadEquipment(cfg.Pricing.EquipmentPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load equipment catalog")
	}

	bookings := booking.NewService(db, db, cal, notifier, bus, store, booking.Config{
		Prices:          cfg.PriceList(catalog),
		CalendarTimeout: cfg.CalendarTimeout(),
	}, logger)

	accounts := users.NewService(db, notifier, cfg.Auth.OperatorEmail, logger)
	if err := accounts.EnsureOperator(ctx, cfg.Auth.OperatorPassword); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed operator account")
	}

	maintenance := ledger.NewMaintenance(db, store, logger)
	maintenance.Watch(ctx)

	if cfg.Repair.Enabled {
		worker := repair.NewWorker(db, bookings, cfg.RepairInterval(), 2*cfg.CalendarTimeout(), logger)
		worker.Start(ctx)
		defer worker.Stop()
	}

	backups := database.NewBackupService(db, cfg.Backup, cfg.BackupInterval(), &logger)
	backups.Start(ctx)
	defer backups.Stop()

	checks := []api.Check{
		{Name: "database", Probe: db.Ping},
		{Name: "redis", Probe: store.Ping},
	}

	server := api.NewServer(api.Config{
		Address:        cfg.HTTP.Address,
		RequestTimeout: cfg.RequestTimeout(),
	}, api.Deps{
		Gate:        auth.NewGate(auth.NewTokens(cfg.Auth.JWTSecret, cfg.TokenTTL(), cfg.App.Name), db, cfg.Auth.OperatorEmail, logger),
		Bookings:    bookings,
		Users:       accounts,
		Credits:     ledger.NewCredits(db, logger),
		Maintenance: maintenance,
		Exporter:    report.NewExporter(bookings),
		Checks:      checks,
	}, logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}
	if cfg.Monitoring.GRPCHealthPort != 0 {
		go startHealthServer(ctx, cfg.Monitoring.GRPCHealthPort, checks, &logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("studiobook stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Logger()
}

func newCalendar(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) booking.Calendar {
	if cfg.Google.CredentialsFile == "" {
		logger.Warn().Msg("google.credentials_file not set, calendar sync disabled")
		return calendar.Disabled{}
	}
	svc, err := calendar.NewServiceFromCredentials(ctx, cfg.Google.CredentialsFile, calendar.Options{
		CalendarID: cfg.Google.CalendarID,
		Location:   cfg.Location(),
		Timeout:    cfg.CalendarTimeout(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Google Calendar")
	}
	return svc
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// startHealthServer serves grpc.health.v1 and flips the overall status
// whenever one of the readiness checks fails.
func startHealthServer(ctx context.Context, port int, checks []api.Check, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Msg("health listener error")
		return
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			hs.SetServingStatus("", probe(ctx, checks, logger))
			select {
			case <-ctx.Done():
				hs.Shutdown()
				s.GracefulStop()
				return
			case <-ticker.C:
			}
		}
	}()

	logger.Info().Int("port", port).Msg("gRPC health server listening")
	if err := s.Serve(lis); err != nil {
		logger.Error().Err(err).Msg("health server error")
	}
}

func probe(ctx context.Context, checks []api.Check, logger *zerolog.Logger) healthpb.HealthCheckResponse_ServingStatus {
	ctxPing, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for _, c := range checks {
		if err := c.Probe(ctxPing); err != nil {
			logger.Warn().Err(err).Str("check", c.Name).Msg("readiness check failed")
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
