package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/paramd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDAC = `
# service control
ohos.servicectrl. = 1000:1001:0775
test.permission. = 0:0:0770
test.permission.read. = 0:0:0774
test.permission.write. = 0:1002:0772
test.permission.watch. = 0:0:0771
`

func TestParseDAC(t *testing.T) {
	table, err := ParseDAC(strings.NewReader(testDAC))
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())

	tests := []struct {
		name string
		want DACEntry
	}{
		{"ohos.servicectrl.reboot", DACEntry{Prefix: "ohos.servicectrl.", UID: 1000, GID: 1001, Mode: 0775}},
		{"test.permission.read.aaa", DACEntry{Prefix: "test.permission.read.", UID: 0, GID: 0, Mode: 0774}},
		{"test.permission.write.aaa", DACEntry{Prefix: "test.permission.write.", UID: 0, GID: 1002, Mode: 0772}},
		{"test.permission.other", DACEntry{Prefix: "test.permission.", UID: 0, GID: 0, Mode: 0770}},
		{"unrelated.name", DACEntry{Mode: DefaultDACMode}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Lookup(tt.name))
		})
	}
}

func TestParseDACMalformed(t *testing.T) {
	input := `
good.one = 0:0:0700
no equals sign
bad.fields = 0:0
bad.mode = 0:0:999
 = 0:0:0700
good.two = 10:20:0644
`
	table, err := ParseDAC(strings.NewReader(input))
	assert.Error(t, err)
	assert.Equal(t, 2, table.Len())
	assert.Equal(t, uint32(0644), table.Lookup("good.two.x").Mode)
}

func TestDACEntryAllows(t *testing.T) {
	entry := DACEntry{Prefix: "p.", UID: 1000, GID: 2000, Mode: 0751}

	tests := []struct {
		name string
		cred types.Credentials
		mode types.AccessMode
		want bool
	}{
		{"owner read", types.Credentials{UID: 1000, GID: 9}, types.ModeRead, true},
		{"owner write", types.Credentials{UID: 1000, GID: 9}, types.ModeWrite, true},
		{"owner watch", types.Credentials{UID: 1000, GID: 9}, types.ModeWatch, true},
		{"group read", types.Credentials{UID: 5, GID: 2000}, types.ModeRead, true},
		{"group write", types.Credentials{UID: 5, GID: 2000}, types.ModeWrite, false},
		{"group watch", types.Credentials{UID: 5, GID: 2000}, types.ModeWatch, true},
		{"other read", types.Credentials{UID: 5, GID: 6}, types.ModeRead, false},
		{"other watch", types.Credentials{UID: 5, GID: 6}, types.ModeWatch, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entry.Allows(tt.cred, tt.mode))
		})
	}
}

func TestDACChecker(t *testing.T) {
	table, err := ParseDAC(strings.NewReader(testDAC))
	require.NoError(t, err)
	c := NewDACCheckerFromTable(table)
	require.NoError(t, c.Init())
	assert.True(t, c.Available())

	root := types.Credentials{UID: 0, GID: 0}
	system := types.Credentials{UID: 1000, GID: 1000}
	other := types.Credentials{UID: 3000, GID: 3000}

	assert.Equal(t, types.Permit, c.CheckPermission(root, "test.permission.x", types.ModeWrite))
	assert.Equal(t, types.Permit, c.CheckPermission(system, "ohos.servicectrl.start", types.ModeWrite))
	assert.Equal(t, types.Forbid, c.CheckPermission(other, "ohos.servicectrl.start", types.ModeWrite))
	assert.Equal(t, types.Permit, c.CheckPermission(other, "ohos.servicectrl.start", types.ModeRead))
	assert.Equal(t, types.Forbid, c.CheckPermission(other, "test.permission.x", types.ModeRead))
	assert.Equal(t, types.Permit, c.CheckPermission(other, "test.permission.read.x", types.ModeRead))
	assert.Equal(t, types.Forbid, c.CheckPermission(other, "test.permission.read.x", types.ModeWrite))
	assert.Equal(t, types.Permit, c.CheckPermission(other, "test.permission.write.x", types.ModeWrite))
	assert.Equal(t, types.Permit, c.CheckPermission(other, "test.permission.watch.x", types.ModeWatch))

	// default mode 0775: others read and watch but cannot write
	assert.Equal(t, types.Permit, c.CheckPermission(other, "free.name", types.ModeRead))
	assert.Equal(t, types.Forbid, c.CheckPermission(other, "free.name", types.ModeWrite))
}

func TestDACCheckerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "param.dac")
	require.NoError(t, os.WriteFile(path, []byte(testDAC), 0644))

	c := NewDACChecker(path)
	assert.False(t, c.Available())
	assert.Equal(t, types.Forbid, c.CheckPermission(user1000, "free.name", types.ModeRead))

	require.NoError(t, c.Init())
	assert.True(t, c.Available())
	assert.Equal(t, types.Permit, c.CheckPermission(user1000, "ohos.servicectrl.x", types.ModeWrite))

	require.NoError(t, c.Free())
	assert.False(t, c.Available())
	require.NoError(t, c.Init())
	assert.True(t, c.Available())
}

func TestDACCheckerMissingFile(t *testing.T) {
	c := NewDACChecker(filepath.Join(t.TempDir(), "missing.dac"))
	require.NoError(t, c.Init())
	assert.True(t, c.Available())
	assert.Equal(t, types.Permit, c.CheckPermission(user1000, "any.name", types.ModeRead))
}
