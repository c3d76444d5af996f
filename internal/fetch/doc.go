// Package fetch retrieves program text and feed values over HTTP.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-request timeouts and a body size limit
//   - [Scheduler]: polls feeds at their intervals with a bounded worker pool
//   - [FeedInfo]: what to poll and how to turn the response into a value
//   - [Result]: the outcome of polling one feed
//
// Users of the translucent library configure feeds through the root
// package; this package is internal.
package fetch
