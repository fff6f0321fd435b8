// ABOUTME: Package bots owns the running-bot map and each bot's session lifecycle
// ABOUTME: Start and stop bots, apply enabled plugins on login and publish status transitions

// Package bots implements the bot lifecycle manager.
//
// A bot moves through absent, connecting, online, then offline or faulted,
// and back to absent. At most one session exists per username; the running
// map is the single source of truth for which bots are alive.
//
// Each session runs on its own goroutine drawn from a bounded worker pool.
// The goroutine dials the server and then consumes that bot's events in
// order, so the credential command and plugin activations for one login
// always complete before the same bot's disconnect is handled. Different
// bots proceed in parallel.
//
// A session removes itself from the running map only if it is still the
// entry stored under its username. Events that arrive after Stop, or after
// a newer session replaced it, are ignored.
package bots
