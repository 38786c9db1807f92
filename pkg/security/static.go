package security

import (
	"fmt"
	"strings"

	"github.com/cuemby/paramd/pkg/types"
)

// StaticBackend is an in-process backend with fixed contexts and deny
// lists. Tests and recovery images register it in place of a policy file.
type StaticBackend struct {
	Labels    []Context
	DenyWrite []string
	DenyRead  []string
	// Closed counts Close calls
	Closed int
}

// RegisterStaticBackend registers b under name, returning the same instance
// on every resolution
func RegisterStaticBackend(name string, b *StaticBackend) {
	RegisterBackend(name, func(BackendOptions) (Backend, error) {
		return b, nil
	})
}

func (b *StaticBackend) Contexts() ([]Context, error) {
	return b.Labels, nil
}

func (b *StaticBackend) CheckWrite(name string, cred types.Credentials) error {
	for _, p := range b.DenyWrite {
		if strings.HasPrefix(name, p) {
			return fmt.Errorf("write to %s denied by %q", name, p)
		}
	}
	return nil
}

func (b *StaticBackend) CheckRead(name string, cred types.Credentials) error {
	for _, p := range b.DenyRead {
		if strings.HasPrefix(name, p) {
			return fmt.Errorf("read of %s denied by %q", name, p)
		}
	}
	return nil
}

func (b *StaticBackend) Close() error {
	b.Closed++
	return nil
}
