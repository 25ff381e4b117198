// Package app wires the failover proxy's components together: the shared
// state cell, the upstream client, the health supervisor, the incident
// notifier, the request proxier, and the admin route table, then serves
// them behind one *http.Server. It is grounded in the teacher's
// Application struct (http.Server lifecycle, errCh-fed Start/Stop) but
// replaces the single health-check handler with the full component graph
// spec.md describes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/corvidae/relay/internal/config"
	"github.com/corvidae/relay/internal/health"
	"github.com/corvidae/relay/internal/logger"
	"github.com/corvidae/relay/internal/notifier"
	"github.com/corvidae/relay/internal/proxy"
	"github.com/corvidae/relay/internal/router"
	"github.com/corvidae/relay/internal/state"
	"github.com/corvidae/relay/internal/upstream"
	"github.com/corvidae/relay/pkg/eventbus"
)

// Application owns the full component graph and its HTTP listener.
type Application struct {
	cfg    *config.Config
	log    *logger.StyledLogger
	server *http.Server
	errCh  chan error

	cell       *state.Cell
	client     *upstream.Client
	supervisor *health.Supervisor
	notifier   *notifier.Notifier
	bus        *eventbus.EventBus[state.TransitionEvent]
}

// New wires the component graph from cfg but does not start anything yet.
func New(cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	cell := state.New(cfg.Primary, cfg.Backup, cfg.FailThreshold, cfg.RecoverThreshold)
	client := upstream.New(log)
	bus := eventbus.New[state.TransitionEvent]()

	sup := health.New(cell, client, bus, log,
		cfg.Primary, cfg.ProbeMethod, cfg.ProbePath,
		cfg.ProbeTimeout, cfg.CheckInterval)

	notify := notifier.New(cfg.WebhookURL, cfg.WebhookFormat, log)

	prox := proxy.New(cell, client, log, cfg.MaxBodyBytes, cfg.ForwardTimeout)

	registry := router.NewRouteRegistry(log)
	registry.RegisterWithMethod("/__failover/health", prox.ServeHTTP, "Liveness of the proxy process", "GET")
	registry.RegisterWithMethod("/__failover/state", prox.ServeHTTP, "Current failover state snapshot", "GET")
	registry.Register("/", prox.ServeHTTP, "Forwards to whichever upstream is currently authoritative")

	mux := http.NewServeMux()
	registry.WireUp(mux)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		server:     server,
		errCh:      make(chan error, 1),
		cell:       cell,
		client:     client,
		supervisor: sup,
		notifier:   notify,
		bus:        bus,
	}, nil
}

// Start runs the listener, the health supervisor, and the incident notifier
// concurrently. It returns once the listener goroutine has been launched.
func (a *Application) Start(ctx context.Context) error {
	a.log.InfoWithTarget("Starting proxy", a.cfg.Listen)

	a.notifier.Run(ctx, a.bus)
	a.supervisor.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server error", "error", err)
			a.errCh <- err
		}
	}()

	go func() {
		select {
		case err := <-a.errCh:
			a.log.Error("server startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.log.InfoWithTarget("Forwarding to primary", a.cfg.Primary)
	a.log.InfoWithTarget("Backup upstream", a.cfg.Backup)
	return nil
}

// Stop stops the health supervisor, drains the HTTP server within the
// configured shutdown grace period, then shuts the event bus down. The
// notifier goroutine exits when the ctx passed to Start is cancelled by the
// caller.
func (a *Application) Stop(ctx context.Context) error {
	a.supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGrace)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	a.bus.Shutdown()
	return nil
}
