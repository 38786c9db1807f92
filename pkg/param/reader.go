package param

import (
	"fmt"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/workspace"
)

// Reader gives another process lock-free read access to a service's
// workspace file. Writes go through the service API.
type Reader struct {
	view
}

// OpenReader maps the workspace at path read-only. Every read is checked
// against perms in the reading process.
func OpenReader(path string, perms Permissions) (*Reader, error) {
	if perms == nil {
		return nil, fmt.Errorf("permissions are required")
	}
	ws, err := workspace.Open(path, true)
	if err != nil {
		return nil, err
	}
	return &Reader{view: view{
		ws:     ws,
		perms:  perms,
		logger: log.WithComponent("param-reader"),
	}}, nil
}

// Workspace returns the read-only mapping
func (r *Reader) Workspace() *workspace.Workspace {
	return r.ws
}

// Close unmaps the workspace
func (r *Reader) Close() error {
	return r.ws.Close()
}
