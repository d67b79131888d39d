package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carebridgehq/carebridge/internal/access"
	"github.com/carebridgehq/carebridge/internal/config"
	v1 "github.com/carebridgehq/carebridge/internal/handler/v1"
	"github.com/carebridgehq/carebridge/internal/notify"
	"github.com/carebridgehq/carebridge/internal/repository/postgres"
	"github.com/carebridgehq/carebridge/internal/service"
	"github.com/carebridgehq/carebridge/pkg/auth"
	"github.com/carebridgehq/carebridge/pkg/database"
	"github.com/carebridgehq/carebridge/pkg/logger"
	"github.com/carebridgehq/carebridge/pkg/metrics"
	"github.com/carebridgehq/carebridge/pkg/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "carebridge-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting carebridge-api",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(db, log); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	collector := metrics.NewCollector("carebridge")
	if err := database.InstrumentQueries(db, collector.DBQueryDuration); err != nil {
		return fmt.Errorf("instrumenting database: %w", err)
	}
	stopPoolMonitor, err := database.MonitorPool(db, collector.DBConnections, 15*time.Second)
	if err != nil {
		return fmt.Errorf("monitoring connection pool: %w", err)
	}
	defer stopPoolMonitor()

	connectionRepo := postgres.NewConnectionRepository(db)
	consultationRepo := postgres.NewConsultationRepository(db)
	recordRepo := postgres.NewRecordRepository(db)
	userRepo := postgres.NewUserRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, log)
	auditSvc.Instrument(collector.AuditEntriesTotal, collector.AuditBufferDropped)
	defer auditSvc.Shutdown()

	// TODO: replace the log sink with the push-notification sink once the
	// mobile gateway is provisioned.
	dispatcher := notify.NewAsyncDispatcher(
		notify.NewLogSink(log),
		connectionRepo,
		log,
		cfg.Notify.BufferSize,
		cfg.Notify.EnqueueTimeout,
	)
	dispatcher.Instrument(collector.NotificationsDropped)
	defer dispatcher.Shutdown(cfg.Notify.ShutdownTimeout)

	gate := access.NewGate(connectionRepo)
	gate.Instrument(collector.AccessDecisionsTotal)
	jwtManager := auth.NewJWTManager(cfg.JWT)

	authSvc := service.NewAuthService(userRepo, jwtManager, log)
	connectionSvc := service.NewConnectionService(connectionRepo, dispatcher, auditSvc, log)
	connectionSvc.Instrument(collector.ConnectionTransitionsTotal)
	consultationSvc := service.NewConsultationService(consultationRepo, gate, auditSvc, log)
	recordSvc := service.NewRecordService(recordRepo, consultationRepo, gate, auditSvc, log)

	router := v1.NewRouter(v1.RouterDeps{
		Config:       cfg,
		Logger:       log,
		Collector:    collector,
		JWTManager:   jwtManager,
		Auth:         v1.NewAuthHandler(authSvc),
		Connection:   v1.NewConnectionHandler(connectionSvc),
		Consultation: v1.NewConsultationHandler(consultationSvc),
		Record:       v1.NewRecordHandler(recordSvc),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info("server stopped cleanly")
	return nil
}
