// Package protocol owns the protocol description contract.
//
// Ownership boundary:
// - interface descriptors (name, version, request and event signatures)
// - argument kinds and typed argument values
// - signature checking of outgoing and decoded messages
//
// Interface tables are static data produced outside this module; the wire
// encoding of messages lives in protocol/wire.
package protocol
