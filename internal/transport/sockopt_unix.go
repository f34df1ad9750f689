//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control sets SO_REUSEADDR on listening sockets so a restarted server
// can rebind while old connections sit in TIME_WAIT.
func control(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
