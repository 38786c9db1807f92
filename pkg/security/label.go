package security

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultLabel is the fallback label for names no context covers
const DefaultLabel = "u:object_r:default_param:s0"

// Context binds a name prefix to a security label
type Context struct {
	Prefix string `yaml:"prefix"`
	Label  string `yaml:"label"`
}

// LabelTable resolves names to labels by longest prefix. Labels are
// numbered in first-seen order after DefaultLabel, which is always 0; the
// number is what the workspace stores as a node's label reference.
type LabelTable struct {
	contexts []Context
	labels   []string
	index    map[string]uint32
}

// NewLabelTable builds a table from contexts
func NewLabelTable(contexts []Context) *LabelTable {
	t := &LabelTable{
		labels: []string{DefaultLabel},
		index:  map[string]uint32{DefaultLabel: 0},
	}
	for _, c := range contexts {
		if c.Prefix == "" || c.Label == "" {
			continue
		}
		t.contexts = append(t.contexts, c)
		if _, ok := t.index[c.Label]; !ok {
			t.index[c.Label] = uint32(len(t.labels))
			t.labels = append(t.labels, c.Label)
		}
	}
	sort.SliceStable(t.contexts, func(i, j int) bool {
		return len(t.contexts[i].Prefix) > len(t.contexts[j].Prefix)
	})
	return t
}

// Lookup returns the label for name and whether a context matched
func (t *LabelTable) Lookup(name string) (string, bool) {
	for _, c := range t.contexts {
		if strings.HasPrefix(name, c.Prefix) {
			return c.Label, true
		}
	}
	return DefaultLabel, false
}

// Index returns the label reference for name
func (t *LabelTable) Index(name string) uint32 {
	label, _ := t.Lookup(name)
	return t.index[label]
}

// Label returns the label for a reference, DefaultLabel when out of range
func (t *LabelTable) Label(ref uint32) string {
	if int(ref) >= len(t.labels) {
		return DefaultLabel
	}
	return t.labels[ref]
}

// Labels returns every distinct label, DefaultLabel first
func (t *LabelTable) Labels() []string {
	return append([]string(nil), t.labels...)
}

// Backend is a label policy engine. CheckWrite is mandatory; reading and
// grant handling are optional capabilities discovered with type assertions.
type Backend interface {
	// Contexts returns the prefix to label table
	Contexts() ([]Context, error)
	// CheckWrite returns nil when cred may write name
	CheckWrite(name string, cred types.Credentials) error
	Close() error
}

// ReadChecker is implemented by backends that can decide reads. Backends
// without it forbid every read.
type ReadChecker interface {
	CheckRead(name string, cred types.Credentials) error
}

// Granter is implemented by backends that control which labels may be
// opened for reading. Without it, any label from the backend's contexts and
// DefaultLabel may be opened.
type Granter interface {
	OpenGrant(label string) error
}

// BackendOptions is passed to backend factories
type BackendOptions struct {
	PolicyFile string
}

// BackendFactory constructs a backend
type BackendFactory func(opts BackendOptions) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// RegisterBackend makes a backend available by name. Registering a name
// again replaces the previous factory, which lets tests substitute fakes.
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// UnregisterBackend removes a backend registration
func UnregisterBackend(name string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	delete(backends, name)
}

func lookupBackend(name string) (BackendFactory, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	f, ok := backends[name]
	return f, ok
}

// LabelChecker is the label-based (MAC) checker. Its backend is resolved
// from the registry on first use and cached; while it cannot be resolved
// every check forbids.
type LabelChecker struct {
	backendName string
	opts        BackendOptions
	logger      zerolog.Logger

	mu         sync.RWMutex
	backend    Backend
	table      *LabelTable
	grants     map[string]bool
	nodeLabels NodeLabels
}

// NodeLabels returns the label reference stored on the workspace node for
// name, and false when the node does not exist
type NodeLabels func(name string) (uint32, bool)

// NewLabelChecker creates a label checker for the named backend
func NewLabelChecker(backendName string, opts BackendOptions) *LabelChecker {
	return &LabelChecker{
		backendName: backendName,
		opts:        opts,
		logger:      log.WithComponent("security"),
	}
}

// UseNodeLabels makes read checks open the grant for the label recorded on
// the parameter's node. Names without a node fall back to the label table.
func (c *LabelChecker) UseNodeLabels(fn NodeLabels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeLabels = fn
}

func (c *LabelChecker) Name() string {
	return "label"
}

func (c *LabelChecker) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil {
		return nil
	}

	factory, ok := lookupBackend(c.backendName)
	if !ok {
		return fmt.Errorf("backend %q not registered: %w", c.backendName, types.ErrPolicyUnavailable)
	}
	backend, err := factory(c.opts)
	if err != nil {
		return fmt.Errorf("backend %q: %v: %w", c.backendName, err, types.ErrPolicyUnavailable)
	}
	contexts, err := backend.Contexts()
	if err != nil {
		backend.Close()
		return fmt.Errorf("backend %q contexts: %v: %w", c.backendName, err, types.ErrPolicyUnavailable)
	}

	c.backend = backend
	c.table = NewLabelTable(contexts)
	c.grants = make(map[string]bool)
	c.logger.Info().
		Str("backend", c.backendName).
		Int("contexts", len(contexts)).
		Int("labels", len(c.table.Labels())).
		Msg("label policy loaded")
	return nil
}

func (c *LabelChecker) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// Table returns the loaded label table, nil while unavailable
func (c *LabelChecker) Table() *LabelTable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table
}

func (c *LabelChecker) CheckPermission(cred types.Credentials, name string, mode types.AccessMode) types.Decision {
	c.mu.RLock()
	backend := c.backend
	table := c.table
	nodeLabels := c.nodeLabels
	c.mu.RUnlock()
	if backend == nil {
		return types.Forbid
	}

	switch mode {
	case types.ModeWrite:
		if err := backend.CheckWrite(name, cred); err != nil {
			c.logger.Debug().Err(err).Str("param", name).Stringer("cred", cred).Msg("label write check failed")
			return types.Forbid
		}
		return types.Permit
	case types.ModeRead, types.ModeWatch:
		rc, ok := backend.(ReadChecker)
		if !ok {
			return types.Forbid
		}
		if err := rc.CheckRead(name, cred); err != nil {
			c.logger.Debug().Err(err).Str("param", name).Stringer("cred", cred).Msg("label read check failed")
			return types.Forbid
		}
		label := nodeLabel(table, nodeLabels, name)
		if err := c.openGrant(backend, table, label); err != nil {
			c.logger.Debug().Err(err).Str("param", name).Str("label", label).Msg("label grant unavailable")
			return types.Forbid
		}
		return types.Permit
	default:
		return types.Forbid
	}
}

// nodeLabel prefers the reference stored on the node over a fresh lookup
func nodeLabel(table *LabelTable, nodeLabels NodeLabels, name string) string {
	if nodeLabels != nil {
		if ref, ok := nodeLabels(name); ok {
			return table.Label(ref)
		}
	}
	label, _ := table.Lookup(name)
	return label
}

// openGrant opens read access to label once and caches the result. The
// fallback label goes through the same path as any other label.
func (c *LabelChecker) openGrant(backend Backend, table *LabelTable, label string) error {
	c.mu.RLock()
	granted := c.grants[label]
	c.mu.RUnlock()
	if granted {
		return nil
	}

	if g, ok := backend.(Granter); ok {
		if err := g.OpenGrant(label); err != nil {
			return err
		}
	} else if _, known := table.index[label]; !known {
		return fmt.Errorf("unknown label %q", label)
	}

	c.mu.Lock()
	if c.grants != nil {
		c.grants[label] = true
	}
	c.mu.Unlock()
	return nil
}

// LabelRef returns the label reference for name, 0 while unavailable
func (c *LabelChecker) LabelRef(name string) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.table == nil {
		return 0
	}
	return c.table.Index(name)
}

func (c *LabelChecker) Free() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil
	}
	err := c.backend.Close()
	c.backend = nil
	c.table = nil
	c.grants = nil
	return err
}
