// ABOUTME: Per-bot session goroutine: dial, then consume the bot's events in order
// ABOUTME: Handles login (credential, plugin activation), faults and disconnects

package bots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/botfleet/internal/agent"
	"github.com/2389/botfleet/internal/pluginapi"
)

type session struct {
	handle *agent.Handle
	cancel context.CancelFunc

	// loggedIn is only touched by the session goroutine.
	loggedIn bool
}

func (m *Manager) run(ctx context.Context, s *session) {
	h := s.handle
	defer func() {
		if r := recover(); r != nil {
			m.fault(s, fmt.Errorf("session panicked: %v", r))
		}
		_ = h.Close()
	}()

	conn, err := m.dialer.Dial(ctx, agent.OptionsFrom(h.Config()))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fault(s, fmt.Errorf("dial: %w", err))
		return
	}
	h.Attach(conn)
	if ctx.Err() != nil {
		// Stopped while dialing.
		_ = conn.Quit()
		return
	}

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.disconnected(s, "connection closed")
				return
			}
			switch ev.Type {
			case pluginapi.EventLogin:
				if !m.login(ctx, s) {
					return
				}
				h.Dispatch(ev)
			case pluginapi.EventError:
				h.Dispatch(ev)
				m.fault(s, errors.New(ev.Reason))
				return
			case pluginapi.EventEnd:
				h.Dispatch(ev)
				m.disconnected(s, ev.Reason)
				return
			default:
				h.Dispatch(ev)
			}
		}
	}
}

// login marks the bot online, sends the stored password after the settle
// delay and activates the bot's enabled plugins. It reports false when the
// session is no longer tracked and should exit.
func (m *Manager) login(ctx context.Context, s *session) bool {
	h := s.handle
	if !m.tracked(s) {
		return false
	}
	if s.loggedIn {
		h.Logger().Debug("repeated login ignored")
		return true
	}
	s.loggedIn = true

	h.SetStatus(agent.StatusOnline, "")
	cfg := h.PluginConfig()
	m.logger.Info("=== BOT ONLINE ===",
		"bot", cfg.Username,
		"server", cfg.Server,
		"session_id", h.ID(),
	)
	m.publish(agent.StatusOnline)

	if cfg.Password != "" {
		timer := time.NewTimer(m.loginDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if err := h.Chat("/login " + cfg.Password); err != nil {
			h.Logger().Warn("sending login command failed", "error", err)
		}
	}

	if !m.tracked(s) {
		return false
	}
	if m.activator != nil && len(cfg.EnabledPlugins) > 0 {
		activated := m.activator.ActivateForAgent(h, cfg)
		h.Logger().Info("plugins activated",
			"enabled", cfg.EnabledPlugins,
			"activated", activated,
		)
	}
	return true
}

// fault records err on the handle and drops the session.
func (m *Manager) fault(s *session, err error) {
	h := s.handle
	if !m.tracked(s) {
		h.Logger().Debug("fault for untracked session ignored", "error", err)
		return
	}
	h.SetStatus(agent.StatusFaulted, err.Error())
	m.logger.Error("=== BOT FAULTED ===",
		"bot", h.Username(),
		"session_id", h.ID(),
		"error", err,
	)
	m.publish(agent.StatusFaulted)
	if m.untrack(s) {
		m.publish(agent.StatusFaulted)
	}
	s.cancel()
}

// disconnected handles a server-side end. Repeated or late calls are no-ops.
func (m *Manager) disconnected(s *session, reason string) {
	h := s.handle
	if !m.tracked(s) {
		return
	}
	h.SetStatus(agent.StatusOffline, reason)
	m.logger.Info("=== BOT DISCONNECTED ===",
		"bot", h.Username(),
		"session_id", h.ID(),
		"reason", reason,
	)
	m.publish(agent.StatusOffline)
	if m.untrack(s) {
		m.publish(agent.StatusOffline)
	}
	s.cancel()
}
