package types

import (
	"fmt"
	"os"
)

// Parameter limits shared by the workspace layout and the wire protocol
const (
	NameLenMax  = 128
	ValueLenMax = 128
)

// Name prefixes with special handling
const (
	PersistPrefix = "persist."
	ConstPrefix   = "const."
)

// Credentials identifies the caller of a parameter operation
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// LocalCredentials returns the credentials of the current process
func LocalCredentials() Credentials {
	return Credentials{
		PID: int32(os.Getpid()),
		UID: uint32(os.Geteuid()),
		GID: uint32(os.Getegid()),
	}
}

// IsRoot reports whether the caller runs as uid 0
func (c Credentials) IsRoot() bool {
	return c.UID == 0
}

func (c Credentials) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", c.PID, c.UID, c.GID)
}

// AccessMode is the kind of access requested on a parameter.
// Values match the DAC permission bits of a single rwx-style triplet.
type AccessMode uint32

const (
	ModeWatch AccessMode = 1
	ModeWrite AccessMode = 2
	ModeRead  AccessMode = 4
)

func (m AccessMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeWatch:
		return "watch"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// Decision is the verdict of a security checker
type Decision int

const (
	Forbid Decision = iota
	Permit
)

func (d Decision) String() string {
	if d == Permit {
		return "permit"
	}
	return "forbid"
}

// LoadMode controls how a parameter source merges with values already loaded
type LoadMode string

const (
	// LoadOverride replaces existing values
	LoadOverride LoadMode = "override"
	// LoadAddOnly only adds names that are not present yet
	LoadAddOnly LoadMode = "add"
)

// Source is a file or directory of name=value parameter definitions
type Source struct {
	Path string   `yaml:"path"`
	Mode LoadMode `yaml:"mode"`
}

// Entry is a parameter observed during traversal or replay
type Entry struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	CommitID uint32 `json:"commit_id"`
}
