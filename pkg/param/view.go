package param

import (
	"errors"
	"fmt"

	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/workspace"
	"github.com/rs/zerolog"
)

// Permissions decides access for a caller
type Permissions interface {
	Check(cred types.Credentials, name string, mode types.AccessMode) error
}

// view implements the read operations shared by Service and Reader
type view struct {
	ws     *workspace.Workspace
	perms  Permissions
	logger zerolog.Logger
}

// GetParameter returns the current value of name
func (v *view) GetParameter(cred types.Credentials, name string) (string, error) {
	value, _, err := v.get(cred, name)
	metrics.ParamReadsTotal.WithLabelValues(resultLabel(err)).Inc()
	return value, err
}

// GetEntry returns the current value of name together with its commit id
func (v *view) GetEntry(cred types.Credentials, name string) (types.Entry, error) {
	value, commit, err := v.get(cred, name)
	metrics.ParamReadsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return types.Entry{}, err
	}
	return types.Entry{Name: name, Value: value, CommitID: commit}, nil
}

func (v *view) get(cred types.Credentials, name string) (string, uint32, error) {
	if err := types.ValidateName(name); err != nil {
		return "", 0, err
	}
	if err := v.perms.Check(cred, name, types.ModeRead); err != nil {
		return "", 0, err
	}
	h, ok := v.ws.Find(name)
	if !ok {
		return "", 0, fmt.Errorf("%s: %w", name, types.ErrNotFound)
	}
	return v.ws.Read(h)
}

// FindParameter resolves name to a handle for repeated commit id polling
func (v *view) FindParameter(cred types.Credentials, name string) (workspace.Handle, error) {
	if err := types.ValidateName(name); err != nil {
		return 0, err
	}
	if err := v.perms.Check(cred, name, types.ModeRead); err != nil {
		return 0, err
	}
	h, ok := v.ws.Find(name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, types.ErrNotFound)
	}
	return h, nil
}

// GetCommitID returns the commit id of a handle from FindParameter
func (v *view) GetCommitID(h workspace.Handle) (uint32, error) {
	return v.ws.CommitID(h)
}

// GetSystemCommitID returns the global commit counter, which advances on
// every write to any parameter
func (v *view) GetSystemCommitID() uint32 {
	return v.ws.Serial()
}

// TraverseParameters calls fn for every parameter cred may read. Parameters
// the caller may not read are skipped silently.
func (v *view) TraverseParameters(cred types.Credentials, fn func(types.Entry) error) error {
	return v.ws.Traverse(func(h workspace.Handle, name string) error {
		if v.perms.Check(cred, name, types.ModeRead) != nil {
			return nil
		}
		value, commit, err := v.ws.Read(h)
		if errors.Is(err, types.ErrTransientRead) {
			v.logger.Warn().Err(err).Str("param", name).Msg("skipping parameter under concurrent write")
			return nil
		}
		if err != nil {
			return err
		}
		return fn(types.Entry{Name: name, Value: value, CommitID: commit})
	})
}

// Capacity returns the number of workspace slots
func (v *view) Capacity() uint32 {
	return v.ws.Capacity()
}

// Used returns the number of allocated workspace slots
func (v *view) Used() uint32 {
	return v.ws.Used()
}

// Serial returns the global commit counter
func (v *view) Serial() uint32 {
	return v.ws.Serial()
}

// Count returns the number of parameters carrying a value
func (v *view) Count() int {
	n := 0
	v.ws.Traverse(func(workspace.Handle, string) error {
		n++
		return nil
	})
	return n
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrForbidden):
		return "forbidden"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrInvalidName), errors.Is(err, types.ErrInvalidValue):
		return "invalid"
	case errors.Is(err, types.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, types.ErrReadOnly):
		return "read_only"
	case errors.Is(err, types.ErrTransientRead):
		return "transient"
	default:
		return "error"
	}
}
