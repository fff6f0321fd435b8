// ABOUTME: Manager tracks running bots and drives start, stop and status publication
// ABOUTME: Sessions are scheduled on an ants pool and stored in a concurrent map keyed by username

package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/store"
)

var (
	// ErrConfigNotFound is returned when no stored config matches a username.
	ErrConfigNotFound = errors.New("bot configuration not found")

	// ErrAlreadyRunning is returned by Start for a bot that has a live session.
	ErrAlreadyRunning = errors.New("bot already running")

	// ErrNotRunning is returned by Stop for a bot with no live session.
	ErrNotRunning = errors.New("bot not running")

	// ErrCapacity is returned by Start when the session pool is full.
	ErrCapacity = errors.New("bot capacity reached")
)

// DefaultLoginDelay is how long a session waits after login before sending
// the stored password.
const DefaultLoginDelay = time.Second

// ConfigSource is the subset of the config store the manager needs.
type ConfigSource interface {
	Get(username string) (store.BotConfig, error)
	SetEnabledPlugins(username string, plugins []string) error
}

// Activator applies a bot's enabled plugins to its agent.
type Activator interface {
	ActivateForAgent(agent pluginapi.Agent, cfg pluginapi.BotConfig) []string
}

// StatusPublisher receives the full running-bot snapshot after every
// transition.
type StatusPublisher interface {
	PublishStatus(snapshot map[string]agent.Record)
}

// Recorder receives lifecycle counts.
type Recorder interface {
	BotStart(err error)
	BotTransition(status string, running int)
}

// Options configure a Manager. Dialer is required.
type Options struct {
	Dialer     agent.Dialer
	Activator  Activator
	Publisher  StatusPublisher
	Recorder   Recorder
	LoginDelay time.Duration
	// MaxBots bounds concurrent sessions. Zero or less means unbounded.
	MaxBots int
	Logger  *slog.Logger
}

// Manager owns the running-bot map.
type Manager struct {
	configs    ConfigSource
	dialer     agent.Dialer
	activator  Activator
	publisher  StatusPublisher
	recorder   Recorder
	loginDelay time.Duration
	logger     *slog.Logger

	running cmap.ConcurrentMap[string, *session]
	pool    *ants.Pool
	wg      sync.WaitGroup
	pubMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager reading bot configs from configs.
func NewManager(configs ConfigSource, opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, errors.New("bots: dialer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bots")

	loginDelay := opts.LoginDelay
	if loginDelay <= 0 {
		loginDelay = DefaultLoginDelay
	}

	size := opts.MaxBots
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("session worker panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		configs:    configs,
		dialer:     opts.Dialer,
		activator:  opts.Activator,
		publisher:  opts.Publisher,
		recorder:   opts.Recorder,
		loginDelay: loginDelay,
		logger:     logger,
		running:    cmap.New[*session](),
		pool:       pool,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start creates a session for username from its stored config and returns
// immediately; the connection completes in the background.
func (m *Manager) Start(username string) (rec agent.Record, err error) {
	defer func() {
		if m.recorder != nil {
			m.recorder.BotStart(err)
		}
	}()

	cfg, err := m.configs.Get(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return agent.Record{}, fmt.Errorf("%w: %s", ErrConfigNotFound, username)
		}
		return agent.Record{}, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		handle: agent.NewHandle(cfg, m.logger),
		cancel: cancel,
	}
	if !m.running.SetIfAbsent(username, s) {
		cancel()
		return agent.Record{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, username)
	}

	m.publish(agent.StatusConnecting)

	m.wg.Add(1)
	if err := m.pool.Submit(func() {
		defer m.wg.Done()
		m.run(ctx, s)
	}); err != nil {
		m.wg.Done()
		cancel()
		if m.untrack(s) {
			m.publish(agent.StatusOffline)
		}
		if errors.Is(err, ants.ErrPoolOverload) {
			return agent.Record{}, fmt.Errorf("%w: %d bots running", ErrCapacity, m.pool.Running())
		}
		return agent.Record{}, fmt.Errorf("scheduling session: %w", err)
	}

	m.logger.Info("=== BOT STARTED ===",
		"bot", username,
		"server", cfg.Server,
		"session_id", s.handle.ID(),
		"total_bots", m.running.Count(),
	)
	return s.handle.Record(), nil
}

// Stop sends quit to a running bot and forgets it without waiting for the
// disconnect.
func (m *Manager) Stop(username string) error {
	s, ok := m.running.Get(username)
	if !ok || !m.untrack(s) {
		return fmt.Errorf("%w: %s", ErrNotRunning, username)
	}

	if err := s.handle.Quit(); err != nil && !errors.Is(err, agent.ErrNotConnected) {
		m.logger.Warn("quit failed", "bot", username, "error", err)
	}
	s.handle.SetStatus(agent.StatusOffline, "")
	s.cancel()

	m.logger.Info("=== BOT STOPPED ===",
		"bot", username,
		"session_id", s.handle.ID(),
		"total_bots", m.running.Count(),
	)
	m.publish(agent.StatusOffline)
	return nil
}

// Running reports whether username has a live session and returns its record.
func (m *Manager) Running(username string) (agent.Record, bool) {
	s, ok := m.running.Get(username)
	if !ok {
		return agent.Record{}, false
	}
	return s.handle.Record(), true
}

// ListRunningStatus returns the status record of every running bot.
func (m *Manager) ListRunningStatus() map[string]agent.Record {
	items := m.running.Items()
	out := make(map[string]agent.Record, len(items))
	for name, s := range items {
		out[name] = s.handle.Record()
	}
	return out
}

// Count returns the number of running bots.
func (m *Manager) Count() int {
	return m.running.Count()
}

// SetEnabledPlugins persists a bot's enabled-plugin list. Running sessions
// keep the plugins they were started with.
func (m *Manager) SetEnabledPlugins(username string, plugins []string) error {
	if plugins == nil {
		plugins = []string{}
	}
	if err := m.configs.SetEnabledPlugins(username, plugins); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, username)
		}
		return err
	}
	m.logger.Info("enabled plugins updated", "bot", username, "plugins", plugins)
	return nil
}

// StopAll stops every running bot.
func (m *Manager) StopAll() {
	for _, name := range m.running.Keys() {
		if err := m.Stop(name); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Warn("stopping bot", "bot", name, "error", err)
		}
	}
}

// Shutdown stops every bot, cancels all sessions and waits for their
// goroutines to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.StopAll()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
	m.pool.Release()
	return err
}

// untrack removes s from the running map if it is still the entry for its
// username.
func (m *Manager) untrack(s *session) bool {
	return m.running.RemoveCb(s.handle.Username(), func(_ string, cur *session, exists bool) bool {
		return exists && cur == s
	})
}

func (m *Manager) tracked(s *session) bool {
	cur, ok := m.running.Get(s.handle.Username())
	return ok && cur == s
}

// publish pushes the current snapshot. The lock keeps snapshots from
// reaching observers out of order.
func (m *Manager) publish(status agent.Status) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	snap := m.ListRunningStatus()
	if m.recorder != nil {
		m.recorder.BotTransition(string(status), len(snap))
	}
	if m.publisher != nil {
		m.publisher.PublishStatus(snap)
	}
}
