//go:build linux

package peer

import (
	"github.com/cuemby/paramd/pkg/types"
	"golang.org/x/sys/unix"
)

func fromFD(fd int) (types.Credentials, error) {
	ucred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}
