// Package server owns the compositor side of the protocol core.
//
// Ownership boundary:
// - client store and per-client object tables
// - global registry: advertisement, visibility, bind checks, removal
// - request dispatch and the protocol error state machine
//
// Concurrency: one mutex inside Backend serialises every dispatch step and
// every registry mutation. Handlers run with it held and receive a *Handle,
// which must not be retained or used from other goroutines. Incoming buffers
// of a client belong to the goroutine serving that client; outgoing buffers
// are only touched under the Backend lock, so events to one client are never
// interleaved or reordered between writers.
package server
