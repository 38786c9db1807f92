/*
Package workspace implements the shared parameter arena and its
lock-minimized access protocol.

A workspace is one contiguous region, either a MAP_SHARED file mapping or a
block of process memory, holding a header and a fixed number of equally sized
slots. Slots form a trie keyed by name segment; parent, child and sibling
links are slot indices, never addresses, so every process that maps the file
sees the same structure regardless of where the mapping lands.

	┌──────────── header (64B) ────────────┐
	│ magic version slotSize capacity used │
	│ serial flags                         │
	├──────────── slot 0 (root) ───────────┤
	├──────────── slot 1 "sys" ────────────┤──┐ firstChild
	├──────────── slot 2 "usb" ────────────┤◄─┘
	├──────────── slot 3 "config" ─────────┤ commit | label | value
	│                 ...                  │
	└──────────────────────────────────────┘

Allocation only appends. A slot is never freed or reused while the region
exists, so a handle held by a reader can go stale but never dangle.

# Access protocol

Writers in the owning process serialize on a mutex. A write sets bit 31 of
the slot's commit word, copies the value, then stores the incremented commit
id with the bit cleared. Readers take no lock: they load the commit word,
copy the value, load the commit word again and retry if a write was in
progress or the id moved. After ReadRetries attempts they return
ErrTransientRead and the caller decides whether to retry.

Value bytes are moved with 32-bit atomic loads and stores, which keeps the
protocol free of data races as defined by the Go memory model.
*/
package workspace
