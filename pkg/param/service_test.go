package param

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/paramd/pkg/events"
	"github.com/cuemby/paramd/pkg/security"
	"github.com/cuemby/paramd/pkg/storage"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// permFunc adapts a function to Permissions
type permFunc func(cred types.Credentials, name string, mode types.AccessMode) error

func (f permFunc) Check(cred types.Credentials, name string, mode types.AccessMode) error {
	return f(cred, name, mode)
}

var allowAll = permFunc(func(types.Credentials, string, types.AccessMode) error { return nil })

func denyPrefix(prefix string, mode types.AccessMode) Permissions {
	return permFunc(func(_ types.Credentials, name string, m types.AccessMode) error {
		if m == mode && strings.HasPrefix(name, prefix) {
			return fmt.Errorf("%s: %w", name, types.ErrForbidden)
		}
		return nil
	})
}

var testCred = types.Credentials{PID: 100, UID: 1000, GID: 1000}

func newTestService(t *testing.T, capacity uint32, perms Permissions, store storage.ParamStore) *Service {
	t.Helper()
	ws, err := workspace.NewInMemory(capacity)
	require.NoError(t, err)
	svc, err := NewService(Config{Workspace: ws, Permissions: perms, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Close()
		ws.Close()
	})
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Permissions: allowAll})
	assert.Error(t, err)

	ws, err := workspace.NewInMemory(8)
	require.NoError(t, err)
	_, err = NewService(Config{Workspace: ws})
	assert.Error(t, err)
}

func TestSetGetParameter(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)

	c1, err := svc.SetParameter(testCred, "test.param", "10")
	require.NoError(t, err)
	value, err := svc.GetParameter(testCred, "test.param")
	require.NoError(t, err)
	assert.Equal(t, "10", value)

	c2, err := svc.SetParameter(testCred, "test.param", "11")
	require.NoError(t, err)
	assert.Greater(t, c2, c1)

	entry, err := svc.GetEntry(testCred, "test.param")
	require.NoError(t, err)
	assert.Equal(t, types.Entry{Name: "test.param", Value: "11", CommitID: c2}, entry)

	_, err = svc.GetParameter(testCred, "test")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = svc.GetParameter(testCred, "test.missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSetParameterErrors(t *testing.T) {
	svc := newTestService(t, 64, denyPrefix("ro.", types.ModeWrite), nil)

	tests := []struct {
		name    string
		param   string
		value   string
		wantErr error
	}{
		{"empty name", "", "1", types.ErrInvalidName},
		{"empty segment", "a..b", "1", types.ErrInvalidName},
		{"name too long", strings.Repeat("n", types.NameLenMax+1), "1", types.ErrInvalidName},
		{"value too long", "a.b", strings.Repeat("v", types.ValueLenMax+1), types.ErrInvalidValue},
		{"forbidden", "ro.build", "1", types.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetParameter(testCred, tt.param, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// rejected writes leave nothing behind
	assert.Equal(t, uint32(1), svc.Used())
	assert.Equal(t, uint32(0), svc.GetSystemCommitID())
}

func TestGetParameterForbidden(t *testing.T) {
	svc := newTestService(t, 64, denyPrefix("secret.", types.ModeRead), nil)

	_, err := svc.SetParameter(testCred, "secret.key", "x")
	require.NoError(t, err)
	_, err = svc.GetParameter(testCred, "secret.key")
	assert.ErrorIs(t, err, types.ErrForbidden)
	_, err = svc.FindParameter(testCred, "secret.key")
	assert.ErrorIs(t, err, types.ErrForbidden)

	// forbidden and missing are indistinguishable to the caller
	_, err = svc.GetParameter(testCred, "secret.missing")
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestConstWriteOnce(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)

	_, err := svc.SetParameter(testCred, "const.product.name", "paramd")
	require.NoError(t, err)
	_, err = svc.SetParameter(testCred, "const.product.name", "other")
	assert.ErrorIs(t, err, types.ErrReadOnly)

	value, err := svc.GetParameter(testCred, "const.product.name")
	require.NoError(t, err)
	assert.Equal(t, "paramd", value)
}

func TestConstWriteOnceConcurrent(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.SetParameter(testCred, "const.race", fmt.Sprint(i)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestFindParameterCommitPolling(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)

	_, err := svc.FindParameter(testCred, "poll.me")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = svc.SetParameter(testCred, "poll.me", "a")
	require.NoError(t, err)
	h, err := svc.FindParameter(testCred, "poll.me")
	require.NoError(t, err)

	before, err := svc.GetCommitID(h)
	require.NoError(t, err)
	system := svc.GetSystemCommitID()

	_, err = svc.SetParameter(testCred, "poll.me", "b")
	require.NoError(t, err)
	after, err := svc.GetCommitID(h)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, system+1, svc.GetSystemCommitID())

	// a write to another parameter leaves this commit id alone
	_, err = svc.SetParameter(testCred, "poll.other", "x")
	require.NoError(t, err)
	again, err := svc.GetCommitID(h)
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestCapacityExhaustion(t *testing.T) {
	// root plus "cap" plus four leaves
	svc := newTestService(t, 6, allowAll, nil)

	for i := 0; i < 4; i++ {
		_, err := svc.SetParameter(testCred, fmt.Sprintf("cap.p%d", i), "v")
		require.NoError(t, err)
	}
	_, err := svc.SetParameter(testCred, "cap.p4", "v")
	assert.ErrorIs(t, err, types.ErrCapacityExceeded)

	for i := 0; i < 4; i++ {
		_, err := svc.SetParameter(testCred, fmt.Sprintf("cap.p%d", i), "rewritten")
		require.NoError(t, err)
	}
	value, err := svc.GetParameter(testCred, "cap.p3")
	require.NoError(t, err)
	assert.Equal(t, "rewritten", value)
}

func TestTraverseParameters(t *testing.T) {
	svc := newTestService(t, 64, denyPrefix("hidden.", types.ModeRead), nil)

	for _, name := range []string{"a.one", "a.two", "b.one", "hidden.x"} {
		_, err := svc.SetParameter(testCred, name, "v-"+name)
		require.NoError(t, err)
	}

	seen := map[string]string{}
	err := svc.TraverseParameters(testCred, func(e types.Entry) error {
		seen[e.Name] = e.Value
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"a.one": "v-a.one",
		"a.two": "v-a.two",
		"b.one": "v-b.one",
	}, seen)
	assert.Equal(t, 4, svc.Count())

	stop := errors.New("stop")
	err = svc.TraverseParameters(testCred, func(types.Entry) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestSetPublishesEvent(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)
	sub := svc.Broker().Subscribe()
	defer svc.Broker().Unsubscribe(sub)

	commit, err := svc.SetParameter(testCred, "evt.name", "on")
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventParamChanged, ev.Type)
		assert.Equal(t, "evt.name", ev.Name)
		assert.Equal(t, "on", ev.Value)
		assert.Equal(t, commit, ev.CommitID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestPersistJournal(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	svc := newTestService(t, 64, allowAll, store)

	_, err = svc.SetParameter(testCred, "persist.sys.lang", "en")
	require.NoError(t, err)
	_, err = svc.SetParameter(testCred, "sys.volatile", "1")
	require.NoError(t, err)

	rec, ok, err := store.Get("persist.sys.lang")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "en", rec.Value)
	_, ok, err = store.Get("sys.volatile")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, svc.Close())

	// restart
	store, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	restarted := newTestService(t, 64, allowAll, store)
	n, err := restarted.LoadPersisted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	value, err := restarted.GetParameter(testCred, "persist.sys.lang")
	require.NoError(t, err)
	assert.Equal(t, "en", value)
	_, err = restarted.GetParameter(testCred, "sys.volatile")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	constDir := filepath.Join(root, "ohos_const")
	vendorDir := filepath.Join(root, "vendor")
	systemDir := filepath.Join(root, "system")
	for _, d := range []string{constDir, vendorDir, systemDir} {
		require.NoError(t, os.Mkdir(d, 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(constDir, "const.para"),
		[]byte("const.product.model = base\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(vendorDir, "vendor.para"),
		[]byte("const.product.model = vendor\nsys.usb.config = mtp\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(systemDir, "system.para"),
		[]byte("sys.usb.config = adb\nsys.language = en\nbad..line = x\n"), 0644))

	svc := newTestService(t, 64, allowAll, nil)
	n, err := svc.LoadDefaults([]types.Source{
		{Path: constDir, Mode: types.LoadOverride},
		{Path: vendorDir, Mode: types.LoadOverride},
		{Path: systemDir, Mode: types.LoadAddOnly},
		{Path: filepath.Join(root, "missing")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tests := map[string]string{
		"const.product.model": "base",
		"sys.usb.config":      "mtp",
		"sys.language":        "en",
	}
	for name, want := range tests {
		value, err := svc.GetParameter(testCred, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, value, name)
	}
}

func TestWaitParameter(t *testing.T) {
	svc := newTestService(t, 64, allowAll, nil)

	t.Run("already set", func(t *testing.T) {
		_, err := svc.SetParameter(testCred, "wait.ready", "1")
		require.NoError(t, err)
		entry, err := svc.WaitParameter(context.Background(), testCred, "wait.ready", "1")
		require.NoError(t, err)
		assert.Equal(t, "1", entry.Value)
	})

	t.Run("set later", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			svc.SetParameter(testCred, "wait.later", "no")
			svc.SetParameter(testCred, "wait.later", "yes")
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entry, err := svc.WaitParameter(ctx, testCred, "wait.later", "yes")
		require.NoError(t, err)
		assert.Equal(t, "yes", entry.Value)
	})

	t.Run("any value", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			svc.SetParameter(testCred, "wait.any", "whatever")
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entry, err := svc.WaitParameter(ctx, testCred, "wait.any", AnyValue)
		require.NoError(t, err)
		assert.Equal(t, "whatever", entry.Value)
	})

	t.Run("timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := svc.WaitParameter(ctx, testCred, "wait.never", "1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := svc.WaitParameter(context.Background(), testCred, "bad..", "1")
		assert.ErrorIs(t, err, types.ErrInvalidName)
	})
}

func TestWaitParameterForbidden(t *testing.T) {
	svc := newTestService(t, 64, denyPrefix("secret.", types.ModeRead), nil)
	_, err := svc.WaitParameter(context.Background(), testCred, "secret.x", AnyValue)
	assert.ErrorIs(t, err, types.ErrForbidden)
}

// TestEndToEndWithDAC drives a write and read through a real dispatcher
func TestEndToEndWithDAC(t *testing.T) {
	table, err := security.ParseDAC(strings.NewReader("test. = 1000:1000:0774\n"))
	require.NoError(t, err)
	d := security.NewDispatcher(false, security.NewDACCheckerFromTable(table))
	require.NoError(t, d.Init())

	svc := newTestService(t, 64, d, nil)

	_, err = svc.SetParameter(testCred, "test.param", "10")
	require.NoError(t, err)

	other := types.Credentials{UID: 2000, GID: 2000}
	_, err = svc.SetParameter(other, "test.param", "11")
	assert.ErrorIs(t, err, types.ErrForbidden)

	value, err := svc.GetParameter(other, "test.param")
	require.NoError(t, err)
	assert.Equal(t, "10", value)
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", types.ErrForbidden), "forbidden"},
		{types.ErrNotFound, "not_found"},
		{types.ErrInvalidName, "invalid"},
		{types.ErrInvalidValue, "invalid"},
		{types.ErrCapacityExceeded, "capacity"},
		{types.ErrReadOnly, "read_only"},
		{types.ErrTransientRead, "transient"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resultLabel(tt.err))
	}
}
