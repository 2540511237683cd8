package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"

	"corebank.io/internal/audit"
	"corebank.io/internal/auth"
	"corebank.io/internal/config"
	"corebank.io/internal/httpapi"
	"corebank.io/internal/obs"
)

var version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := obs.InitLogger(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	obs.Init()

	// Without a DSN the service runs on the in-memory store, which is only
	// meant for local development.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		logger.Warn("COREBANK_PG_DSN not set, using in-memory store")
		store = auth.NewInMemory()
	}

	recorder := audit.NewRecorder(store.Audit(), logger)

	svc, err := auth.NewService(store, cfg.AuthSecret,
		auth.WithIssuerName(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithLockoutThreshold(cfg.LockoutThreshold),
		auth.WithRecorder(recorder),
	)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := svc.EnsureCatalog(ctx); err != nil {
		cancel()
		logger.Fatal("ensure catalog", zap.Error(err))
	}
	cancel()

	rbac, err := auth.NewRBACService(store, recorder)
	if err != nil {
		logger.Fatal("rbac service", zap.Error(err))
	}

	api := httpapi.New(svc, rbac, httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Version:        version,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, healthSrv := httpapi.NewGRPCServer()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("grpc listen", zap.Error(err))
		}
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc serve", zap.Error(err))
			}
		}()
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
	}

	pruneDone := make(chan struct{})
	if cfg.PruneInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-pruneDone:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					n, err := svc.PruneExpiredSessions(ctx, cfg.PruneGrace)
					cancel()
					if err != nil {
						logger.Warn("session prune", zap.Error(err))
					} else if n > 0 {
						logger.Info("session prune", zap.Int("deleted", n))
					}
				}
			}
		}()
	}

	logger.Info("starting corebank-auth",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	obs.SetReady(true)
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	close(pruneDone)
	obs.SetReady(false)
	healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}
