package wire

import "errors"

var (
	// ErrMissingData means the buffer ends inside a message; read more.
	ErrMissingData = errors.New("wire: missing data")
	// ErrMissingFd means a message declares more fds than have arrived.
	ErrMissingFd = errors.New("wire: missing file descriptor")
	// ErrMalformed means the bytes cannot be a valid message.
	ErrMalformed = errors.New("wire: malformed message")

	ErrMessageTooLarge = errors.New("wire: message too large")
	ErrTooManyFds      = errors.New("wire: too many file descriptors")
	ErrInvalidString   = errors.New("wire: string contains NUL byte")
	ErrSocketClosed    = errors.New("wire: socket closed")
)
