package workspace

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/cuemby/paramd/pkg/types"
)

// ReadRetries bounds the number of attempts a reader makes before reporting
// ErrTransientRead
const ReadRetries = 100

// Handle addresses a node slot inside a workspace
type Handle uint32

// Workspace is a fixed-capacity arena of parameter nodes organized as a trie.
// Exactly one process writes; any number of processes read without locking.
type Workspace struct {
	mem      []byte
	file     *os.File
	path     string
	staged   string // temporary file until Publish
	readOnly bool
	unmap    func([]byte) error

	// serializes writers inside this process
	mu sync.Mutex
}

// NewInMemory creates a workspace backed by process memory
func NewInMemory(capacity uint32) (*Workspace, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("capacity must be at least 2 slots, got %d", capacity)
	}
	size := RegionSize(capacity)
	// []uint64 keeps the region 8-byte aligned for the atomic word accessors
	backing := make([]uint64, (size+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), size)

	w := &Workspace{mem: mem}
	w.initHeader(capacity)
	return w, nil
}

// Path returns the path the workspace is published at, empty for in-memory
// workspaces
func (w *Workspace) Path() string {
	return w.path
}

// ReadOnly reports whether the mapping rejects writes
func (w *Workspace) ReadOnly() bool {
	return w.readOnly
}

// Capacity returns the total number of slots, root included
func (w *Workspace) Capacity() uint32 {
	return w.load(offCapacity)
}

// Used returns the number of allocated slots, root included
func (w *Workspace) Used() uint32 {
	return w.load(offUsed)
}

// Serial returns the global commit counter, incremented on every write to
// any node
func (w *Workspace) Serial() uint32 {
	return w.load(offSerial)
}

// Close releases the mapping. Handles must not be used afterwards.
func (w *Workspace) Close() error {
	var err error
	if w.unmap != nil && w.mem != nil {
		err = w.unmap(w.mem)
	}
	w.mem = nil
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
		w.file = nil
	}
	if w.staged != "" {
		os.Remove(w.staged)
		w.staged = ""
	}
	return err
}

// Staged reports whether the workspace has not been published yet
func (w *Workspace) Staged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged != ""
}

func (w *Workspace) valid(h Handle) bool {
	idx := uint32(h)
	return idx != rootIndex && idx < w.Used()
}

func (w *Workspace) hasValue(idx uint32) bool {
	return w.slotLoad(idx, slotFlags)&flagHasValue != 0
}

// child returns the index of the child of parent named seg, or 0
func (w *Workspace) child(parent uint32, seg string, hash uint32) uint32 {
	for idx := w.slotLoad(parent, slotFirstChild); idx != 0; idx = w.slotLoad(idx, slotNextSibling) {
		if idx >= w.Capacity() {
			// corrupted link, never follow it
			return 0
		}
		if w.slotLoad(idx, slotHash) == hash && string(w.segment(idx)) == seg {
			return idx
		}
	}
	return 0
}

func (w *Workspace) lookup(name string) uint32 {
	idx := uint32(rootIndex)
	for seg := range strings.SplitSeq(name, ".") {
		idx = w.child(idx, seg, fnv32a(seg))
		if idx == 0 {
			return 0
		}
	}
	return idx
}

// Find resolves name to a node that carries a value. It never creates nodes.
func (w *Workspace) Find(name string) (Handle, bool) {
	if types.ValidateName(name) != nil {
		return 0, false
	}
	idx := w.lookup(name)
	if idx == 0 || !w.hasValue(idx) {
		return 0, false
	}
	return Handle(idx), true
}

// LabelFunc returns the label reference for a name or name prefix
type LabelFunc func(prefix string) uint32

// CreateOrFind resolves name, creating missing intermediate and leaf nodes.
// Every created node records labelOf of its own prefix ("a", "a.b", ...),
// which never changes afterwards; a nil labelOf records 0. If the remaining
// capacity cannot hold every missing segment no slot is consumed and
// ErrCapacityExceeded is returned.
func (w *Workspace) CreateOrFind(name string, labelOf LabelFunc) (Handle, error) {
	if err := types.ValidateName(name); err != nil {
		return 0, err
	}
	if w.readOnly {
		return 0, fmt.Errorf("workspace mapped read-only: %w", types.ErrReadOnly)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	segs := strings.Split(name, ".")
	idx := uint32(rootIndex)
	depth := 0
	for ; depth < len(segs); depth++ {
		next := w.child(idx, segs[depth], fnv32a(segs[depth]))
		if next == 0 {
			break
		}
		idx = next
	}
	if depth == len(segs) {
		return Handle(idx), nil
	}

	used := w.Used()
	need := uint32(len(segs) - depth)
	if used+need > w.Capacity() {
		return 0, fmt.Errorf("%w: %d of %d slots used, %q needs %d", types.ErrCapacityExceeded,
			used, w.Capacity(), name, need)
	}

	for ; depth < len(segs); depth++ {
		var ref uint32
		if labelOf != nil {
			ref = labelOf(strings.Join(segs[:depth+1], "."))
		}
		idx = w.allocate(idx, segs[depth], ref)
	}
	return Handle(idx), nil
}

// allocate appends a slot under parent. The slot is fully initialized before
// its index is published through the parent's child list.
func (w *Workspace) allocate(parent uint32, seg string, labelRef uint32) uint32 {
	idx := w.Used()
	base := slotOffset(idx)
	clear(w.mem[base : base+SlotSize])

	w.slotStore(idx, slotLabelRef, labelRef)
	w.slotStore(idx, slotParent, parent)
	w.slotStore(idx, slotHash, fnv32a(seg))
	copy(w.mem[base+slotSegment:], seg)
	w.slotStore(idx, slotSegLen, uint32(len(seg)))
	w.slotStore(idx, slotNextSibling, w.slotLoad(parent, slotFirstChild))

	w.store(offUsed, idx+1)
	w.slotStore(parent, slotFirstChild, idx)
	return idx
}

// Write stores value in the node and returns the new commit id
func (w *Workspace) Write(h Handle, value string) (uint32, error) {
	if err := types.ValidateValue(value); err != nil {
		return 0, err
	}
	if w.readOnly {
		return 0, fmt.Errorf("workspace mapped read-only: %w", types.ErrReadOnly)
	}
	if !w.valid(h) {
		return 0, fmt.Errorf("handle %d: %w", h, types.ErrNotFound)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	idx := uint32(h)
	old := w.slotLoad(idx, slotCommit) & commitMask
	w.slotStore(idx, slotCommit, old|commitDirty)
	w.copyValueIn(idx, value)
	next := (old + 1) & commitMask
	w.slotStore(idx, slotCommit, next)

	if !w.hasValue(idx) {
		w.slotStore(idx, slotFlags, w.slotLoad(idx, slotFlags)|flagHasValue)
	}
	w.store(offSerial, w.load(offSerial)+1)
	return next, nil
}

// Read copies the node's value without taking any lock. It retries while a
// write is in progress or the commit id changed during the copy, and gives
// up with ErrTransientRead after ReadRetries attempts.
func (w *Workspace) Read(h Handle) (string, uint32, error) {
	if !w.valid(h) || !w.hasValue(uint32(h)) {
		return "", 0, fmt.Errorf("handle %d: %w", h, types.ErrNotFound)
	}
	idx := uint32(h)
	var buf [types.ValueLenMax]byte
	for attempt := 0; attempt < ReadRetries; attempt++ {
		before := w.slotLoad(idx, slotCommit)
		if before&commitDirty != 0 {
			runtime.Gosched()
			continue
		}
		n := w.copyValueOut(idx, &buf)
		after := w.slotLoad(idx, slotCommit)
		if before == after && n <= types.ValueLenMax {
			return string(buf[:n]), before, nil
		}
		runtime.Gosched()
	}
	return "", 0, fmt.Errorf("handle %d after %d attempts: %w", h, ReadRetries, types.ErrTransientRead)
}

// CommitID returns the node's current commit id. Callers that cached a value
// compare it against the id they read with to detect staleness.
func (w *Workspace) CommitID(h Handle) (uint32, error) {
	if !w.valid(h) || !w.hasValue(uint32(h)) {
		return 0, fmt.Errorf("handle %d: %w", h, types.ErrNotFound)
	}
	return w.slotLoad(uint32(h), slotCommit) & commitMask, nil
}

// NodeLabelRef returns the label reference stored on the node for name,
// which need not carry a value, and false when no such node exists
func (w *Workspace) NodeLabelRef(name string) (uint32, bool) {
	if types.ValidateName(name) != nil {
		return 0, false
	}
	idx := w.lookup(name)
	if idx == 0 {
		return 0, false
	}
	return w.slotLoad(idx, slotLabelRef), true
}

// LabelRef returns the label reference recorded when the node was created
func (w *Workspace) LabelRef(h Handle) (uint32, error) {
	if !w.valid(h) {
		return 0, fmt.Errorf("handle %d: %w", h, types.ErrNotFound)
	}
	return w.slotLoad(uint32(h), slotLabelRef), nil
}

// Name rebuilds the full dotted name of a node
func (w *Workspace) Name(h Handle) (string, error) {
	if !w.valid(h) {
		return "", fmt.Errorf("handle %d: %w", h, types.ErrNotFound)
	}
	var segs []string
	for idx := uint32(h); idx != rootIndex; idx = w.slotLoad(idx, slotParent) {
		if len(segs) > types.NameLenMax {
			return "", fmt.Errorf("handle %d: parent chain too deep", h)
		}
		segs = append(segs, string(w.segment(idx)))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "."), nil
}

// Traverse calls fn for every node that carries a value. Returning an error
// from fn stops the walk and the error is returned.
func (w *Workspace) Traverse(fn func(h Handle, name string) error) error {
	type frame struct {
		idx    uint32
		prefix string
	}
	stack := []frame{{idx: rootIndex}}
	capacity := w.Capacity()
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for c := w.slotLoad(f.idx, slotFirstChild); c != 0 && c < capacity; c = w.slotLoad(c, slotNextSibling) {
			name := string(w.segment(c))
			if f.prefix != "" {
				name = f.prefix + "." + name
			}
			if w.hasValue(c) {
				if err := fn(Handle(c), name); err != nil {
					return err
				}
			}
			stack = append(stack, frame{idx: c, prefix: name})
		}
	}
	return nil
}
