package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/paramd/pkg/api"
	"github.com/cuemby/paramd/pkg/param"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/watcher"
	"github.com/cuemby/paramd/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ watcher.Snapshot = (*Client)(nil)

type allowAll struct{}

func (allowAll) Check(types.Credentials, string, types.AccessMode) error { return nil }

func newTestClient(t *testing.T) (*Client, *param.Service) {
	t.Helper()

	dir, err := os.MkdirTemp("", "client")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "api.sock")

	ws, err := workspace.NewInMemory(4096)
	require.NoError(t, err)
	svc, err := param.NewService(param.Config{Workspace: ws, Permissions: allowAll{}})
	require.NoError(t, err)

	srv, err := api.NewServer(svc, api.ServerConfig{
		SocketPath: socket,
		Credentials: func(net.Conn) (types.Credentials, error) {
			return types.Credentials{PID: 1, UID: 1000, GID: 1000}, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go srv.Serve()

	c, err := NewClient(socket)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		svc.Close()
		ws.Close()
	})
	return c, svc
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("")
	assert.Error(t, err)
}

func TestClientSetGet(t *testing.T) {
	c, _ := newTestClient(t)

	commit, err := c.Set("test.param", "10")
	require.NoError(t, err)
	assert.NotZero(t, commit)

	value, err := c.Get("test.param")
	require.NoError(t, err)
	assert.Equal(t, "10", value)

	id, err := c.CommitID("test.param")
	require.NoError(t, err)
	assert.Equal(t, commit, id)

	system, err := c.SystemCommitID()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, system, commit)
}

func TestClientErrors(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Get("test.missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.Set("bad..name", "x")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	_, err = c.CommitID("")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	_, err = c.Set("const.once", "a")
	require.NoError(t, err)
	_, err = c.Set("const.once", "b")
	assert.ErrorIs(t, err, types.ErrReadOnly)
}

func TestClientListParameters(t *testing.T) {
	c, svc := newTestClient(t)
	cred := types.LocalCredentials()
	for _, name := range []string{"test.a", "test.b", "other.c"} {
		_, err := svc.SetParameter(cred, name, "v")
		require.NoError(t, err)
	}

	entries, err := c.ListParameters(context.Background(), "test.*")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
		assert.Equal(t, "v", e.Value)
	}
	assert.ElementsMatch(t, []string{"test.a", "test.b"}, names)
}

func TestClientWait(t *testing.T) {
	c, svc := newTestClient(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		svc.SetParameter(types.LocalCredentials(), "test.boot", "done")
	}()
	entry, err := c.Wait(context.Background(), "test.boot", "done", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", entry.Value)

	_, err = c.Wait(context.Background(), "test.never", "*", 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientNoServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "client")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c, err := NewClient(filepath.Join(dir, "none.sock"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get("test.param")
	assert.ErrorIs(t, err, types.ErrTransport)
}
