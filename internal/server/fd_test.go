package server

import "golang.org/x/sys/unix"

func writeFd(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func closeFd(fd int) {
	_ = unix.Close(fd)
}
