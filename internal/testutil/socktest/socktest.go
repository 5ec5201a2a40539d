package socktest

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// Pair returns two connected unix stream sockets closed at test cleanup.
func Pair(t testing.TB) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	a := fileConn(t, fds[0], "socktest.a")
	b := fileConn(t, fds[1], "socktest.b")
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func fileConn(t testing.TB, fd int, name string) *net.UnixConn {
	t.Helper()
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		t.Fatalf("file conn %s: %v", name, err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		t.Fatalf("file conn %s: unexpected type %T", name, c)
	}
	return uc
}

// Pipe returns a pipe whose ends are closed at test cleanup. Useful as fd
// payload in tests.
func Pipe(t testing.TB) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}
