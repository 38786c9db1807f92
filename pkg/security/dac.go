package security

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/types"
)

// DefaultDACMode applies to names no table entry covers: owner and group
// may do anything, others may read and watch.
const DefaultDACMode = 0775

// DACEntry grants owner/group/other permissions on a name prefix
type DACEntry struct {
	Prefix string
	UID    uint32
	GID    uint32
	Mode   uint32
}

// Allows applies the owner, group or other permission triplet to cred
func (e DACEntry) Allows(cred types.Credentials, mode types.AccessMode) bool {
	var bits uint32
	switch {
	case cred.UID == e.UID:
		bits = (e.Mode >> 6) & 7
	case cred.GID == e.GID:
		bits = (e.Mode >> 3) & 7
	default:
		bits = e.Mode & 7
	}
	return bits&uint32(mode) != 0
}

// DACTable maps name prefixes to DAC entries, longest prefix first
type DACTable struct {
	entries []DACEntry
	def     DACEntry
}

// NewDACTable builds a table from entries
func NewDACTable(entries []DACEntry) *DACTable {
	t := &DACTable{
		entries: append([]DACEntry(nil), entries...),
		def:     DACEntry{Mode: DefaultDACMode},
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].Prefix) > len(t.entries[j].Prefix)
	})
	return t
}

// Lookup returns the entry with the longest prefix of name
func (t *DACTable) Lookup(name string) DACEntry {
	for _, e := range t.entries {
		if strings.HasPrefix(name, e.Prefix) {
			return e
		}
	}
	return t.def
}

// Len returns the number of explicit entries
func (t *DACTable) Len() int {
	return len(t.entries)
}

// ParseDAC reads lines of the form
//
//	prefix = owner:group:mode
//
// where owner and group are numeric ids or user/group names and mode is
// octal. Blank lines and '#' comments are ignored. Malformed lines are
// reported in the returned error and skipped.
func ParseDAC(r io.Reader) (*DACTable, error) {
	var entries []DACEntry
	var errs []error

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseDACLine(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNo, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return NewDACTable(entries), errors.Join(errs...)
}

func parseDACLine(line string) (DACEntry, error) {
	prefix, spec, ok := strings.Cut(line, "=")
	if !ok {
		return DACEntry{}, fmt.Errorf("missing '=' in %q", line)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DACEntry{}, fmt.Errorf("empty prefix in %q", line)
	}

	fields := strings.Split(strings.TrimSpace(spec), ":")
	if len(fields) != 3 {
		return DACEntry{}, fmt.Errorf("want owner:group:mode, got %q", spec)
	}
	uid, err := resolveID(strings.TrimSpace(fields[0]), lookupUser)
	if err != nil {
		return DACEntry{}, fmt.Errorf("owner %q: %w", fields[0], err)
	}
	gid, err := resolveID(strings.TrimSpace(fields[1]), lookupGroup)
	if err != nil {
		return DACEntry{}, fmt.Errorf("group %q: %w", fields[1], err)
	}
	mode, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 8, 32)
	if err != nil || mode > 0777 {
		return DACEntry{}, fmt.Errorf("invalid mode %q", fields[2])
	}
	return DACEntry{Prefix: prefix, UID: uid, GID: gid, Mode: uint32(mode)}, nil
}

func resolveID(s string, lookup func(string) (string, error)) (uint32, error) {
	if id, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(id), nil
	}
	idStr, err := lookup(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(id), nil
}

func lookupUser(name string) (string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return "", err
	}
	return u.Uid, nil
}

func lookupGroup(name string) (string, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return "", err
	}
	return g.Gid, nil
}

// DACChecker is the owner/group/mode checker
type DACChecker struct {
	path string

	mu    sync.RWMutex
	table *DACTable
}

// NewDACChecker creates a checker that loads its table from path on Init.
// A missing file yields a table with only the default entry.
func NewDACChecker(path string) *DACChecker {
	return &DACChecker{path: path}
}

// NewDACCheckerFromTable creates a checker around a prebuilt table
func NewDACCheckerFromTable(table *DACTable) *DACChecker {
	return &DACChecker{table: table}
}

func (c *DACChecker) Name() string {
	return "dac"
}

func (c *DACChecker) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		return nil
	}
	if c.path == "" {
		c.table = NewDACTable(nil)
		return nil
	}

	logger := log.WithComponent("security")
	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("path", c.path).Msg("DAC policy file missing, using default entry only")
		c.table = NewDACTable(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open DAC policy: %w", err)
	}
	defer f.Close()

	table, err := ParseDAC(f)
	if err != nil {
		logger.Warn().Err(err).Str("path", c.path).Msg("skipped malformed DAC entries")
	}
	c.table = table
	logger.Info().Int("entries", table.Len()).Str("path", c.path).Msg("DAC policy loaded")
	return nil
}

func (c *DACChecker) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table != nil
}

func (c *DACChecker) CheckPermission(cred types.Credentials, name string, mode types.AccessMode) types.Decision {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()
	if table == nil {
		return types.Forbid
	}
	if cred.IsRoot() {
		return types.Permit
	}
	if table.Lookup(name).Allows(cred, mode) {
		return types.Permit
	}
	return types.Forbid
}

func (c *DACChecker) Free() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "" {
		c.table = nil
	}
	return nil
}
