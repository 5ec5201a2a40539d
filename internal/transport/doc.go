// Package transport resolves display socket paths and opens the unix stream
// sockets the server and client backends run on. Reconnect attempts follow
// an exponential backoff.
package transport
