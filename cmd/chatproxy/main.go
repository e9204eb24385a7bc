// Package main is the entry point for the metered completion proxy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatproxy/config"
	"chatproxy/internal/auditlog"
	"chatproxy/internal/keygen"
	"chatproxy/internal/logging"
	"chatproxy/internal/proxy"
	"chatproxy/internal/server"
	"chatproxy/internal/storage"
	"chatproxy/internal/store"
	"chatproxy/internal/upstream"
	"chatproxy/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration first so logging honors LOG_LEVEL / LOG_FORMAT
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	slog.Info("starting chatproxy",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	if cfg.OpenAI.APIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()

	// Shared storage connection for the user store and the audit ledger
	st, err := storage.New(ctx, storage.Config{
		Type:   cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{Path: cfg.Storage.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: int(cfg.Storage.PostgreSQL.MaxConns),
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	})
	if err != nil {
		slog.Error("failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer st.Close()

	users, err := store.New(ctx, st)
	if err != nil {
		slog.Error("failed to initialize user store", "error", err)
		os.Exit(1)
	}
	defer users.Close()

	audit, err := auditlog.New(st, auditlog.Config{
		Enabled:       cfg.Audit.Enabled,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
		RetentionDays: cfg.Audit.RetentionDays,
	})
	if err != nil {
		slog.Error("failed to initialize audit logging", "error", err)
		os.Exit(1)
	}
	defer func() {
		// Drains buffered entries before the storage connection goes away
		if err := audit.Close(); err != nil {
			slog.Error("audit logger close error", "error", err)
		}
	}()

	if cfg.Audit.Enabled {
		slog.Info("audit logging enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.Audit.BufferSize,
			"retention_days", cfg.Audit.RetentionDays,
		)
	} else {
		slog.Info("audit logging disabled")
	}

	keys, err := keygen.New(cfg.Proxy.Digest, cfg.Proxy.KeySalt)
	if err != nil {
		slog.Error("failed to initialize key generator", "error", err, "digest", cfg.Proxy.Digest)
		os.Exit(1)
	}

	client := upstream.New(upstream.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
	})

	p := proxy.New(users, keys, client, audit, proxy.Config{
		Model:        cfg.Proxy.Model,
		DefaultQuota: cfg.Proxy.DefaultQuota,
	})

	srv := server.New(p, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server",
		"address", addr,
		"model", cfg.Proxy.Model,
		"default_quota", cfg.Proxy.DefaultQuota,
		"storage", cfg.Storage.Type,
	)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}
