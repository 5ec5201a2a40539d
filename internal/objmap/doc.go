// Package objmap owns the per-connection object table and id allocation.
//
// Ownership boundary:
// - client range [1, ServerIDStart) assigned by the client
// - server range [ServerIDStart, 0xFFFFFFFF] assigned by the server
// - explicit Live/Zombie/Free slot state
//
// A Map is owned by exactly one connection and is not safe for concurrent use.
package objmap
