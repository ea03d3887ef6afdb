// Package daemon wires the kurir gateway together: configuration,
// logging, metrics, the session manager, the router and every enabled
// channel adapter, plus process lifecycle around them.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/satrio/kurir/internal/config"
	"github.com/satrio/kurir/internal/logger"
	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/agent"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/router"
	"github.com/satrio/kurir/pkg/session"
)

const gcInterval = 5 * time.Minute

// Daemon is the long-running gateway process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	registry *channel.Registry
	sessions *session.Manager
	router   *router.Router

	metricsServer *http.Server
	lifecycle     *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Status is a point-in-time snapshot of the daemon.
type Status struct {
	Running        bool            `json:"running"`
	Uptime         time.Duration   `json:"uptime"`
	ActiveSessions int             `json:"active_sessions"`
	Channels       map[string]bool `json:"channels"` // name -> healthy
}

// New creates a daemon. The runner is the reply backend handed to the
// router; channel adapters are built from the enabled config sections.
func New(cfg *config.Config, log *logger.Logger, runner agent.Runner) (*Daemon, error) {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	sessions := session.NewManager(
		session.WithTimeout(time.Duration(cfg.Session.TimeoutMinutes)*time.Minute),
		session.WithMaxConcurrent(cfg.Session.MaxConcurrent),
	)

	d := &Daemon{
		config:   cfg,
		logger:   log,
		registry: channel.NewRegistry(),
		sessions: sessions,
		router:   router.New(sessions, runner, log.GetZerolog()),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.lifecycle = NewLifecycleManager(d)

	if err := d.buildChannels(); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

// Start brings the daemon up: PID file, session GC, metrics endpoint
// and every registered adapter. A subset of adapters failing to start
// is logged but does not abort the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	d.sessions.StartGC(gcInterval)

	if d.config.Metrics.Enabled {
		d.startMetricsServer()
	}

	if err := d.registry.StartAll(d.ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Some channel adapters failed to start")
	}

	d.logger.Info().
		Int("channels", len(d.registry.List(channel.SlotChannel))).
		Msg("Daemon started")
	return nil
}

// Stop tears everything down in reverse order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.registry.StopAll(stopCtx); err != nil {
		d.logger.Warn().Err(err).Msg("Some channel adapters failed to stop cleanly")
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(stopCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
		d.metricsServer = nil
	}

	d.sessions.StopGC()

	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Lifecycle cleanup failed")
	}

	d.cancel()
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	return d.Stop()
}

// Status reports the daemon's current state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	running := d.running
	start := d.startTime
	d.mu.RUnlock()

	channels := make(map[string]bool)
	for _, m := range d.registry.Manifests(channel.SlotChannel) {
		if a, ok := d.registry.Get(channel.SlotChannel, m.Name); ok {
			channels[m.Name] = a.Healthy()
		}
	}

	var uptime time.Duration
	if running {
		uptime = time.Since(start)
	}
	return Status{
		Running:        running,
		Uptime:         uptime,
		ActiveSessions: d.sessions.Count(),
		Channels:       channels,
	}
}

// Registry exposes the adapter registry, mainly for tests and status
// inspection.
func (d *Daemon) Registry() *channel.Registry { return d.registry }

func (d *Daemon) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	srv := &http.Server{
		Addr:    d.config.Metrics.ListenAddr,
		Handler: mux,
	}
	d.metricsServer = srv

	go func() {
		d.logger.Info().Str("addr", srv.Addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
