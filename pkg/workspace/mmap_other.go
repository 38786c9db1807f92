//go:build !unix

package workspace

import "errors"

var errUnsupported = errors.New("shared workspace files require a unix platform")

// Create is not supported on this platform; use NewInMemory
func Create(path string, capacity uint32) (*Workspace, error) {
	return nil, errUnsupported
}

// Stage is not supported on this platform; use NewInMemory
func Stage(path string, capacity uint32) (*Workspace, error) {
	return nil, errUnsupported
}

// Publish is a no-op for workspaces that are never staged
func (w *Workspace) Publish() error {
	return nil
}

// Open is not supported on this platform
func Open(path string, readOnly bool) (*Workspace, error) {
	return nil, errUnsupported
}
