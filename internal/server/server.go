// Package server runs the dbsessiond HTTP listener around a platform.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/txn2/dbsession/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

const readHeaderTimeout = 10 * time.Second

// New creates the HTTP server for p on its configured address.
func New(p *platform.Platform) *http.Server {
	return &http.Server{
		Addr:              p.Config().Server.Address,
		Handler:           p.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Run starts p, serves on ln until ctx is done, then shuts down: readiness
// turns to draining, the pre-shutdown delay elapses, the listener closes
// and the platform stops, all within the grace period.
func Run(ctx context.Context, p *platform.Platform, ln net.Listener) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	srv := New(p)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", ln.Addr().String(), "version", Version)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopErr := p.Stop(context.WithoutCancel(ctx))
		return errors.Join(fmt.Errorf("serving http: %w", err), stopErr)
	case <-ctx.Done():
	}

	shutdown := p.Config().Server.Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdown.GracePeriod)
	defer cancel()

	p.Checker().SetDraining()
	slog.Info("shutting down", "pre_shutdown_delay", shutdown.PreShutdownDelay)
	select {
	case <-time.After(shutdown.PreShutdownDelay):
	case <-shutdownCtx.Done():
	}

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down http server: %w", err))
	}
	if err := p.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
