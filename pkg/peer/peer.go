// Package peer identifies the process on the other end of a unix socket.
package peer

import (
	"errors"
	"fmt"
	"net"

	"github.com/cuemby/paramd/pkg/types"
)

// ErrUnsupported is returned where the platform has no peer credentials
var ErrUnsupported = errors.New("peer credentials not supported on this platform")

// Credentials returns the pid, uid and gid of the process connected to conn.
// conn must be a unix domain socket.
func Credentials(conn net.Conn) (types.Credentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return types.Credentials{}, fmt.Errorf("peer credentials need a unix socket, got %T", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return types.Credentials{}, err
	}

	var cred types.Credentials
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = fromFD(int(fd))
	}); err != nil {
		return types.Credentials{}, err
	}
	if credErr != nil {
		return types.Credentials{}, fmt.Errorf("failed to read peer credentials: %w", credErr)
	}
	return cred, nil
}
