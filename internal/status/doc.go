// ABOUTME: Package status pushes bot status snapshots and plugin events to observers
// ABOUTME: A broadcaster fans frames out to subscribers and a websocket handler serves them

// Package status keeps observers informed about the bot fleet.
//
// Every bot status transition re-publishes the full map of running bots as a
// single "botStatus" frame; observers never receive deltas. A new subscriber
// gets the latest snapshot before anything else, so a page that connects late
// still renders the current fleet.
//
// Always-on plugins publish their own frames through Emit. Frames share the
// shape {"event": name, "data": payload}.
//
// Slow observers are never waited on: a subscriber whose buffer is full drops
// frames. The next status frame carries the full state again.
package status
