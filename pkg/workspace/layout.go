package workspace

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cuemby/paramd/pkg/types"
)

// Region layout. Every field is addressed by byte offset from the start of
// the mapping so that independently mapped processes agree on it.
//
// Header (64 bytes):
//
//	0x00 magic     [8]byte  "PARAMWS\0"
//	0x08 version   uint32
//	0x0C slotSize  uint32
//	0x10 capacity  uint32   number of slots, root included
//	0x14 used      uint32   high-water mark, append only
//	0x18 serial    uint32   global commit counter
//	0x1C flags     uint32
//	0x20 reserved  [32]byte
//
// Slot (slotSize bytes, 8-byte aligned):
//
//	0x00 commit      uint32  bit 31 set while a write is in progress
//	0x04 labelRef    uint32
//	0x08 parent      uint32
//	0x0C firstChild  uint32  0 when there are no children
//	0x10 nextSibling uint32  0 terminates the sibling chain
//	0x14 hash        uint32  FNV-1a of the segment
//	0x18 flags       uint32
//	0x1C segLen      uint32
//	0x20 valueLen    uint32
//	0x24 segment     [NameLenMax]byte
//	     value       [ValueLenMax]byte
const (
	HeaderSize = 64
	Version    = uint32(1)

	offMagic    = 0x00
	offVersion  = 0x08
	offSlotSize = 0x0C
	offCapacity = 0x10
	offUsed     = 0x14
	offSerial   = 0x18
	offFlags    = 0x1C

	slotCommit      = 0x00
	slotLabelRef    = 0x04
	slotParent      = 0x08
	slotFirstChild  = 0x0C
	slotNextSibling = 0x10
	slotHash        = 0x14
	slotFlags       = 0x18
	slotSegLen      = 0x1C
	slotValueLen    = 0x20
	slotSegment     = 0x24
	slotValue       = slotSegment + types.NameLenMax

	// SlotSize is the size of one node slot
	SlotSize = (slotValue + types.ValueLenMax + 7) &^ 7

	rootIndex = 0
)

// Commit word flag bits
const (
	commitDirty = uint32(1) << 31
	commitMask  = commitDirty - 1
)

// Slot flag bits
const (
	flagHasValue = uint32(1) << 0
)

var magic = [8]byte{'P', 'A', 'R', 'A', 'M', 'W', 'S', 0}

// RegionSize returns the number of bytes needed for a workspace with the
// given slot capacity
func RegionSize(capacity uint32) int {
	return HeaderSize + int(capacity)*SlotSize
}

func (w *Workspace) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&w.mem[off]))
}

func (w *Workspace) load(off int) uint32 {
	return atomic.LoadUint32(w.word(off))
}

func (w *Workspace) store(off int, v uint32) {
	atomic.StoreUint32(w.word(off), v)
}

func slotOffset(idx uint32) int {
	return HeaderSize + int(idx)*SlotSize
}

func (w *Workspace) slotLoad(idx uint32, field int) uint32 {
	return w.load(slotOffset(idx) + field)
}

func (w *Workspace) slotStore(idx uint32, field int, v uint32) {
	w.store(slotOffset(idx)+field, v)
}

func (w *Workspace) segment(idx uint32) []byte {
	base := slotOffset(idx)
	n := int(w.slotLoad(idx, slotSegLen))
	if n > types.NameLenMax {
		n = types.NameLenMax
	}
	return w.mem[base+slotSegment : base+slotSegment+n]
}

// copyValueIn stores value into the slot's value area one 32-bit word at a
// time with atomic stores. Concurrent readers copy the same area with atomic
// loads and validate the result against the commit word.
func (w *Workspace) copyValueIn(idx uint32, value string) {
	base := slotOffset(idx) + slotValue
	var buf [types.ValueLenMax]byte
	copy(buf[:], value)
	for i := 0; i < types.ValueLenMax; i += 4 {
		w.store(base+i, binary.LittleEndian.Uint32(buf[i:i+4]))
	}
	w.slotStore(idx, slotValueLen, uint32(len(value)))
}

func (w *Workspace) copyValueOut(idx uint32, dst *[types.ValueLenMax]byte) int {
	n := int(w.slotLoad(idx, slotValueLen))
	base := slotOffset(idx) + slotValue
	words := (min(n, types.ValueLenMax) + 3) &^ 3
	for i := 0; i < words; i += 4 {
		binary.LittleEndian.PutUint32(dst[i:i+4], w.load(base+i))
	}
	return n
}

func (w *Workspace) initHeader(capacity uint32) {
	copy(w.mem[offMagic:offMagic+8], magic[:])
	w.store(offVersion, Version)
	w.store(offSlotSize, SlotSize)
	w.store(offCapacity, capacity)
	w.store(offSerial, 0)
	w.store(offFlags, 0)

	// root slot
	root := slotOffset(rootIndex)
	clear(w.mem[root : root+SlotSize])
	w.store(offUsed, 1)
}

func (w *Workspace) validateHeader() error {
	if len(w.mem) < HeaderSize {
		return fmt.Errorf("region too small: %d bytes", len(w.mem))
	}
	var got [8]byte
	copy(got[:], w.mem[offMagic:offMagic+8])
	if got != magic {
		return fmt.Errorf("bad magic %q", got[:])
	}
	if v := w.load(offVersion); v != Version {
		return fmt.Errorf("unsupported version %d", v)
	}
	if s := w.load(offSlotSize); s != SlotSize {
		return fmt.Errorf("slot size %d does not match %d", s, SlotSize)
	}
	capacity := w.load(offCapacity)
	if capacity == 0 || RegionSize(capacity) > len(w.mem) {
		return fmt.Errorf("capacity %d does not fit region of %d bytes", capacity, len(w.mem))
	}
	if used := w.load(offUsed); used == 0 || used > capacity {
		return fmt.Errorf("used %d out of range for capacity %d", used, capacity)
	}
	return nil
}

// fnv32a hashes a name segment
func fnv32a(b string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(b); i++ {
		h ^= uint32(b[i])
		h *= 16777619
	}
	return h
}
