// ABOUTME: Test doubles for the bots package: status publisher, activator and fixture builder
// ABOUTME: Fixtures use a temp bots.json and the in-memory loopback dialer

package bots

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/store"
)

const testLoginDelay = 20 * time.Millisecond

type snapshotLog struct {
	mu    sync.Mutex
	snaps []map[string]agent.Record
}

func (l *snapshotLog) PublishStatus(s map[string]agent.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) all() []map[string]agent.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.snaps)
}

// statusesOf lists the status username had in each published snapshot,
// with "" where it was absent.
func (l *snapshotLog) statusesOf(username string) []agent.Status {
	var out []agent.Status
	for _, s := range l.all() {
		out = append(out, s[username].Status)
	}
	return out
}

type activation struct {
	agent       pluginapi.Agent
	cfg         pluginapi.BotConfig
	chatsBefore []string
}

// activationLog records every per-bot activation along with the chat lines
// the bot had sent when it happened.
type activationLog struct {
	dialer *agent.LoopbackDialer

	mu    sync.Mutex
	calls []activation
}

func (a *activationLog) ActivateForAgent(ag pluginapi.Agent, cfg pluginapi.BotConfig) []string {
	var chats []string
	if c, ok := a.dialer.Conn(ag.Username()); ok {
		chats = c.Chats()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, activation{agent: ag, cfg: cfg, chatsBefore: chats})
	return cfg.EnabledPlugins
}

func (a *activationLog) all() []activation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

type fixture struct {
	store     *store.BotStore
	dialer    *agent.LoopbackDialer
	publisher *snapshotLog
	activator *activationLog
	manager   *Manager
}

type fixtureOption func(*Options)

func withActivator(a Activator) fixtureOption { return func(o *Options) { o.Activator = a } }
func withMaxBots(n int) fixtureOption         { return func(o *Options) { o.MaxBots = n } }

func newFixture(t testing.TB, autoLogin bool, configs []store.BotConfig, opts ...fixtureOption) *fixture {
	t.Helper()
	bots, err := store.OpenBotStore(filepath.Join(t.TempDir(), "bots.json"), nil)
	require.NoError(t, err)
	for _, c := range configs {
		require.NoError(t, bots.Add(c))
	}

	dialer := agent.NewLoopbackDialer(autoLogin)
	pub := &snapshotLog{}
	act := &activationLog{dialer: dialer}

	o := Options{
		Dialer:     dialer,
		Activator:  act,
		Publisher:  pub,
		LoginDelay: testLoginDelay,
	}
	for _, fn := range opts {
		fn(&o)
	}

	m, err := NewManager(bots, o)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	return &fixture{store: bots, dialer: dialer, publisher: pub, activator: act, manager: m}
}

func botConfig(username string, plugins ...string) store.BotConfig {
	if plugins == nil {
		plugins = []string{}
	}
	return store.BotConfig{
		Username:       username,
		Server:         "mc.example.com",
		Port:           25565,
		Version:        "1.20.1",
		EnabledPlugins: plugins,
	}
}

// conn waits for the bot's loopback connection to be dialed.
func (f *fixture) conn(t testing.TB, username string) *agent.LoopbackConn {
	t.Helper()
	var c *agent.LoopbackConn
	require.Eventually(t, func() bool {
		var ok bool
		c, ok = f.dialer.Conn(username)
		return ok
	}, time.Second, 2*time.Millisecond)
	return c
}

func (f *fixture) waitStatus(t testing.TB, username string, want agent.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, ok := f.manager.Running(username)
		return ok && rec.Status == want
	}, time.Second, 2*time.Millisecond, "waiting for %s to be %s", username, want)
}

func (f *fixture) waitGone(t testing.TB, username string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := f.manager.Running(username)
		return !ok
	}, time.Second, 2*time.Millisecond, "waiting for %s to leave the running map", username)
}
