//go:build !unix

package wiz

import "syscall"

// enableBroadcast is a no-op; the runtime enables broadcast on UDP sockets.
func enableBroadcast(_, _ string, _ syscall.RawConn) error {
	return nil
}
