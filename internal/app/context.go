// Package app assembles the runtime: database, store, engine and the
// components that drive it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"sentinel/internal/advisor"
	"sentinel/internal/bridge"
	"sentinel/internal/config"
	"sentinel/internal/db"
	"sentinel/internal/engine"
	"sentinel/internal/events"
	"sentinel/internal/migrate"
	"sentinel/internal/overseer"
	"sentinel/internal/repo"
	"sentinel/internal/server"
	"sentinel/internal/telemetry"
)

type Options struct {
	Workspace string
	// Config defaults to the workspace's sentinel.yml.
	Config *config.Config
	Logger *slog.Logger
	// AdvisorAPIKey overrides the key read from advisor.api_key_env.
	AdvisorAPIKey string
}

// Runtime is an opened workspace with every component wired.
type Runtime struct {
	Config   *config.Config
	DB       *sql.DB
	Store    repo.Store
	Engine   *engine.Engine
	Metrics  *telemetry.Metrics
	Advisor  *advisor.Client
	Overseer *overseer.Overseer
	Bridge   *bridge.Bridge
	Logger   *slog.Logger

	closers []func() error
}

// Open prepares the workspace, migrates the database and loads the document,
// seeding it on first run.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, DB: conn, Logger: logger}
	rt.closers = append(rt.closers, conn.Close)
	if err := migrate.Migrate(ctx, conn); err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = repo.NewStore(conn)
	rt.Metrics = telemetry.New()

	sink, err := rt.sink(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = engine.New(rt.Store,
		engine.WithSink(sink),
		engine.WithMetrics(rt.Metrics),
		engine.WithLogger(logger.With("component", "engine")),
	)
	if err := rt.Engine.Open(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	key := opts.AdvisorAPIKey
	if key == "" && cfg.Advisor.APIKeyEnv != "" {
		key = os.Getenv(cfg.Advisor.APIKeyEnv)
	}
	rt.Advisor = advisor.New(advisor.Config{
		BaseURL:   cfg.Advisor.BaseURL,
		APIKey:    key,
		Model:     cfg.Advisor.Model,
		ChatModel: cfg.Advisor.ChatModel,
		Timeout:   cfg.Advisor.Timeout,
		Logger:    logger.With("component", "advisor"),
		Metrics:   rt.Metrics,
	})
	rt.Overseer = overseer.New(rt.Engine, rt.Advisor,
		overseer.WithLogger(logger.With("component", "overseer")),
		overseer.WithVerifyTimeout(cfg.Overseer.VerifyTimeout),
	)
	rt.Bridge = bridge.New(rt.Engine, bridge.Config{
		ReconnectDelay: cfg.Bridge.ReconnectDelay,
		TokenSecret:    cfg.Bridge.TokenSecret,
		AgentName:      cfg.Bridge.AgentName,
		Logger:         logger.With("component", "bridge"),
		Metrics:        rt.Metrics,
	})
	rt.closers = append(rt.closers,
		func() error { rt.Overseer.Close(); return nil },
		rt.Bridge.Close,
	)
	return rt, nil
}

func (rt *Runtime) sink(cfg *config.Config) (events.Sink, error) {
	var sinks events.Fanout
	if cfg.Events.NATSURL != "" {
		pub, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.NATSSubject)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pub.Close)
		sinks = append(sinks, pub)
	}
	if len(cfg.Events.Webhooks) > 0 {
		hooks := events.NewWebhookSink(cfg.Events.Webhooks, rt.Logger.With("component", "webhooks"))
		rt.closers = append(rt.closers, hooks.Close)
		sinks = append(sinks, hooks)
	}
	if len(sinks) == 0 {
		return events.Discard{}, nil
	}
	return sinks, nil
}

// Handler builds the local HTTP API over the runtime.
func (rt *Runtime) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:    rt.Engine,
		Overseer:  rt.Overseer,
		Bridge:    rt.Bridge,
		BridgeURL: rt.Config.Bridge.URL,
		Store:     rt.Store,
		Metrics:   rt.Metrics,
		BasePath:  rt.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:      rt.Config.Auth.JWTSecret,
			AllowAnonymous: rt.Config.Auth.AllowAnonymous,
			Logger:         rt.Logger.With("component", "api"),
		},
		Logger: rt.Logger,
	})
}

// Close releases components in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from logging.level and logging.format.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
