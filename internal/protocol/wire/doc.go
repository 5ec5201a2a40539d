// Package wire owns the byte-level message codec and the buffered unix
// socket transport.
//
// Ownership boundary:
// - 8-byte message header {object id, size<<16 | opcode}, host byte order
// - argument encoding per signature, 4-byte aligned
// - file descriptors passed out of band as SCM_RIGHTS, in argument order
//
// A message the codec cannot frame leaves the stream in an unknown state;
// callers treat ErrMalformed as fatal for the connection.
package wire
