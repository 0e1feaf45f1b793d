// Package app wires the livevoice subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the archive, health
// checks and session manager, Run serves the HTTP API until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/livevoice/internal/config"
	"github.com/MrWong99/livevoice/internal/health"
	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/pkg/archive"
	"github.com/MrWong99/livevoice/pkg/archive/postgres"
	"github.com/MrWong99/livevoice/pkg/audio"
	"github.com/MrWong99/livevoice/pkg/provider/s2s"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the backends built from the config registry.
type Providers struct {
	S2S   s2s.Provider
	Audio audio.Devices
}

// deviceChecker is implemented by device backends that can check the host.
type deviceChecker interface {
	Check(ctx context.Context) error
}

// App owns all subsystem lifetimes of the livevoice server.
type App struct {
	cfg       *config.Config
	providers *Providers

	archive  archive.Store
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	level    *slog.LevelVar
	health   *health.Handler
	sessions *SessionManager

	mu     sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects an archive store instead of creating one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics. Without it the route is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel lets config reloads adjust lvl.
func WithLogLevel(lvl *slog.LevelVar) Option {
	return func(a *App) { a.level = lvl }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: an s2s provider is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: audio devices are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider: providers.S2S,
		Devices:  providers.Audio,
		Archive:  a.archive,
		Metrics:  a.metrics,
		Session:  cfg.Session,
		Audio:    cfg.Audio,
	})

	a.initHealth()
	if c, ok := providers.Audio.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	return a, nil
}

// initArchive connects the PostgreSQL archive or falls back to memory.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}

	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.archive = archive.NewMemory(a.cfg.Archive.Retain)
		slog.Info("archive: keeping transcripts in memory", "retain", a.cfg.Archive.Retain)
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("archive: connected to postgres")
	return nil
}

// initHealth registers one readiness check per external dependency.
func (a *App) initHealth() {
	checks := []health.Checker{health.PingCheck("archive", a.archive)}
	if c, ok := a.providers.Audio.(deviceChecker); ok {
		checks = append(checks, health.Checker{Name: "audio", Check: c.Check})
	}
	a.health = health.New(checks, health.WithSessionStatus(a.sessions.Status))
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		errc <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is a
// [config.ChangeFunc].
func (a *App) ApplyConfig(_, newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.sessions.SetSessionConfig(newCfg.Session)
		slog.Info("session settings changed; applies to the next session",
			"voice", newCfg.Session.SelectedVoice(),
			"instructions_changed", d.Session.InstructionsChanged,
			"transcription_changed", d.Session.TranscriptionChanged,
		)
	}
}

// Shutdown stops the active session, the HTTP server and then all closers.
// It respects the context deadline: if ctx expires first, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Close(ctx); err != nil {
			slog.Warn("session close error", "err", err)
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
