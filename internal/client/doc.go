// Package client is the consumer side of the protocol core.
//
// It allocates client-range ids, decodes events, swallows events that race
// with local destruction and surfaces fatal server errors as *ProtocolError.
// Like the server package, every handler runs with the backend lock held
// and receives a *Handle.
package client
