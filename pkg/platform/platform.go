// Package platform wires the session manager, its database driver and the
// health endpoints from configuration, and owns their lifecycle.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/txn2/dbsession/pkg/config"
	"github.com/txn2/dbsession/pkg/dbsession"
	"github.com/txn2/dbsession/pkg/dbsession/sqldriver"
	"github.com/txn2/dbsession/pkg/health"
)

// Platform is the service facade.
type Platform struct {
	config    *config.Config
	manager   *dbsession.Manager
	checker   *health.Checker
	lifecycle *Lifecycle
}

// New creates a new platform instance. Nothing connects to the database
// until the first session is acquired.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	factory := options.ClientFactory
	if factory == nil {
		factory = clientFactory(options.Config.Database)
	}

	p := &Platform{
		config: options.Config,
		manager: dbsession.New(factory, dbsession.Config{
			IdleTimeout:    options.Config.Sessions.IdleTimeout,
			ConnectTimeout: options.Config.Sessions.ConnectTimeout,
			Clock:          options.Clock,
		}),
		lifecycle: NewLifecycle(),
	}
	p.checker = health.NewChecker(p.manager)

	p.lifecycle.Append(Hook{
		Name: "session manager",
		Start: func(context.Context) error {
			p.manager.StartReaper()
			return nil
		},
		Stop: p.manager.Dispose,
	})
	p.lifecycle.Append(Hook{
		Name: "readiness",
		Start: func(context.Context) error {
			p.checker.SetReady()
			return nil
		},
		Stop: func(context.Context) error {
			p.checker.SetDraining()
			return nil
		},
	})

	return p, nil
}

// clientFactory builds the sqldriver factory for cfg.
func clientFactory(cfg config.DatabaseConfig) dbsession.ClientFactory {
	return sqldriver.Factory(sqldriver.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.ConnString(),
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

// Start starts the idle reaper and marks the service ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	slog.Info("platform started",
		"driver", p.config.Database.Driver,
		"idle_timeout", p.config.Sessions.IdleTimeout)
	return nil
}

// Stop marks the service draining, stops the reaper and disposes the
// database client.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Config returns the service configuration.
func (p *Platform) Config() *config.Config {
	return p.config
}

// Manager returns the session manager.
func (p *Platform) Manager() *dbsession.Manager {
	return p.manager
}

// Checker returns the readiness checker.
func (p *Platform) Checker() *health.Checker {
	return p.checker
}

// Handler returns the HTTP handler serving /healthz, /readyz and
// /debug/sessions.
func (p *Platform) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", p.checker.LivenessHandler())
	mux.Handle("GET /readyz", p.checker.ReadinessHandler())
	mux.Handle("GET /debug/sessions", p.checker.SessionsHandler())
	return mux
}
