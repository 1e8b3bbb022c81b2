package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memberportal/internal/api"
	"memberportal/internal/config"
	"memberportal/internal/db"
	"memberportal/internal/logging"
	"memberportal/internal/notify"
	"memberportal/internal/obs"
	"memberportal/internal/retention"
	"memberportal/internal/service"
	"memberportal/internal/store"
	"memberportal/internal/vault"
	"memberportal/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := db.ParseDialect(cfg.DBDriver)
	if err != nil {
		return err
	}
	sqdb, err := openDatabase(cfg, dialect)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer sqdb.Close()
	if err := db.Migrate(ctx, sqdb, dialect); err != nil {
		return fmt.Errorf("migration: %w", err)
	}

	st := store.NewWithDialect(sqdb, dialect)
	v, err := vault.NewFileVault(cfg.MFAVaultPath, cfg.SecretsEncryptKey)
	if err != nil {
		return fmt.Errorf("mfa vault: %w", err)
	}
	svc := service.New(cfg, st, v, notify.NewSender(cfg, log), log)
	if err := svc.EnsureBootstrapAdmin(ctx); err != nil {
		return err
	}
	if cfg.MetricsEnabled {
		obs.Init()
	}

	worker := retention.NewWorker(svc.Sessions(), svc.Limiter(), svc.Audit(), log,
		cfg.RetentionInterval(), cfg.SessionRetentionDays, retention.WithTokenPurger(st))
	go worker.Run(ctx)

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(cfg, svc, log),
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		info := version.Current()
		log.Info(ctx, "listening", "addr", cfg.ListenAddr, "db", string(dialect), "version", info.Version, "commit", info.Commit)
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return hsrv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.Config, dialect db.Dialect) (*sql.DB, error) {
	if dialect == db.DialectSQLite {
		return db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	}
	return db.Open(dialect, cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
}
