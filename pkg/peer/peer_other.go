//go:build !linux

package peer

import "github.com/cuemby/paramd/pkg/types"

func fromFD(int) (types.Credentials, error) {
	return types.Credentials{}, ErrUnsupported
}
