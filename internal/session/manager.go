package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/certfetch/internal/apperr"
	"github.com/shehryarbajwa/certfetch/internal/browser"
)

// AttachFunc connects a Backend to a freshly launched browser.
type AttachFunc func(ctx context.Context, inst *browser.Instance, cfg Config) (Backend, error)

// Config is the immutable driver configuration shared by every acquisition.
type Config struct {
	// MaxSessions bounds concurrently running browsers. 0 = unbounded.
	MaxSessions int64

	// PollInterval is the period of the bounded waits. Default: 100ms.
	PollInterval time.Duration

	// Stealth patches common headless fingerprints where the engine supports it.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager hands out one fresh browser per Do call.
type Manager struct {
	launcher browser.Launcher
	attach   AttachFunc
	cfg      Config
	slots    *semaphore.Weighted
	active   atomic.Int64
}

// NewManager creates a Manager launching browsers with l and driving them
// through attach.
func NewManager(l browser.Launcher, attach AttachFunc, cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{
		launcher: l,
		attach:   attach,
		cfg:      cfg,
	}
	if cfg.MaxSessions > 0 {
		m.slots = semaphore.NewWeighted(cfg.MaxSessions)
	}
	return m
}

// Active returns the number of sessions currently alive.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// Do launches a browser, runs task against it and releases the browser
// process on every exit path, including panics, before returning.
func (m *Manager) Do(ctx context.Context, task func(ctx context.Context, s *Session) error) error {
	if err := m.acquireSlot(ctx); err != nil {
		return err
	}
	defer m.releaseSlot()

	inst, err := m.launcher.Launch(ctx)
	if err != nil {
		return apperr.E(apperr.KindInternal, "session.launch", fmt.Errorf("failed to launch browser: %w", err))
	}

	s := &Session{
		id:   inst.ID,
		poll: m.cfg.PollInterval,
		log:  m.cfg.Logger,
	}
	m.active.Add(1)
	defer func() {
		s.release(inst)
		m.active.Add(-1)
	}()

	backend, err := m.attach(ctx, inst, m.cfg)
	if err != nil {
		return apperr.E(apperr.KindInternal, "session.attach", fmt.Errorf("failed to attach to browser: %w", err))
	}
	s.mu.Lock()
	s.backend = backend
	s.mu.Unlock()

	m.cfg.Logger.Debug("session: started", "session", s.id)
	return task(ctx, s)
}

// acquireSlot waits for a free browser slot when a ceiling is configured.
func (m *Manager) acquireSlot(ctx context.Context) error {
	if m.slots == nil {
		return nil
	}
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return apperr.E(apperr.KindInternal, "session.acquire", fmt.Errorf("no browser slot available: %w", err))
	}
	return nil
}

func (m *Manager) releaseSlot() {
	if m.slots != nil {
		m.slots.Release(1)
	}
}

// AttachFor returns the AttachFunc for a named engine.
func AttachFor(engine string) (AttachFunc, error) {
	switch engine {
	case "", "rod":
		return AttachRod, nil
	case "chromedp":
		return AttachChromedp, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}
