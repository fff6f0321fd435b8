// Package agent wraps live connections to game servers.
//
// # Overview
//
// The package separates what botfleet knows about a running bot from how
// the bot talks to its server:
//
//   - Dialer / Conn: the driver contract. A Conn emits lifecycle events
//     (login, spawn, chat, error, end) and accepts chat and quit commands.
//   - Handle: the runtime record of one running bot. It holds the config
//     copy the bot was started with, the current Status and the Conn, and it
//     implements pluginapi.Agent so per-bot plugins can chat and subscribe
//     to events.
//
// # Drivers
//
// Two drivers ship with botfleet:
//
//   - BridgeDialer opens a websocket to a bridge process that speaks the
//     game protocol. Frames are JSON objects with a "type" field:
//
//     outgoing: {"type":"hello","host":...,"port":...,"username":...,"version":...}
//     {"type":"chat","text":...}
//     {"type":"quit"}
//     incoming: {"type":"login"}, {"type":"spawn"}, {"type":"chat","from":...,"text":...},
//     {"type":"error","reason":...}, {"type":"end","reason":...}
//
//   - LoopbackDialer keeps everything in memory. It is used by
//     agents.driver=loopback and by tests, which script server behavior with
//     LoopbackConn.Emit.
//
// # Status
//
// A handle starts in StatusConnecting, moves to StatusOnline on login and
// ends in StatusOffline or StatusFaulted. Handles are never reused; a new
// start creates a new handle with a new session id.
//
// # Thread Safety
//
// Handle methods are safe for concurrent use. Plugin listeners registered
// with On are invoked from whichever goroutine calls Dispatch; botfleet
// calls it only from the bot's session goroutine, so listeners for one bot
// never run concurrently with each other.
package agent
