package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// MaxFdsOut bounds the fds attached to one sendmsg call.
const MaxFdsOut = 28

// Socket is a unix stream socket able to carry fds as ancillary data.
type Socket struct {
	conn *net.UnixConn
}

// NewSocket wraps conn. The caller must not use conn directly afterwards.
func NewSocket(conn *net.UnixConn) *Socket {
	return &Socket{conn: conn}
}

// SendMsg writes data with fds attached to the first byte.
func (s *Socket) SendMsg(data []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := s.conn.WriteMsgUnix(data, oob, nil)
	return n, err
}

// RecvMsg reads into buf and returns the fds received with it.
func (s *Socket) RecvMsg(buf, oob []byte) (int, []int, error) {
	n, oobn, _, _, err := s.conn.ReadMsgUnix(buf, oob)
	var fds []int
	if oobn > 0 {
		var perr error
		fds, perr = parseRights(oob[:oobn])
		if perr != nil {
			closeFds(fds)
			return 0, nil, perr
		}
	}
	if err != nil {
		if n <= 0 {
			closeFds(fds)
			return 0, nil, err
		}
		return n, fds, nil
	}
	if n == 0 && len(fds) == 0 {
		return 0, nil, io.EOF
	}
	return n, fds, nil
}

func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("wire: parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, fmt.Errorf("wire: parse unix rights: %w", err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// SetReadDeadline bounds the next RecvMsg.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds the next SendMsg.
func (s *Socket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// PeerCredentials returns the pid, uid and gid of the connected peer.
func (s *Socket) PeerCredentials() (*unix.Ucred, error) {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return cred, credErr
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func closeFds(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// DupFd returns a close-on-exec duplicate of fd.
func DupFd(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}
