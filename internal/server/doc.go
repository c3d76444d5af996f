// Package server provides the HTTP side of translucent.
//
// This package is internal to translucent and handles all HTTP concerns:
//
//   - Page shell: serves the embedded page at "/"
//   - Program: serves the program text at "/index.star" and the stylesheet at "/index.css"
//   - Channel: one websocket [Session] per client at "/api"
//   - Inspection: JSON snapshot of server-wide values at "/api/env" and a
//     Server-Sent Events stream of every session's updates at "/api/events"
//
// The [Hub] owns the server-wide values (configured seeds and the latest
// feed values) and the set of open sessions. The server supports graceful
// shutdown via context cancellation, with a 5-second timeout for in-flight
// requests.
package server
