//go:build unix

package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Create builds a new workspace and publishes it at path. See Stage.
func Create(path string, capacity uint32) (*Workspace, error) {
	w, err := Stage(path, capacity)
	if err != nil {
		return nil, err
	}
	if err := w.Publish(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Stage creates and maps a workspace in a temporary file next to path. The
// file only appears at path when Publish renames it there, so readers never
// map a half-loaded workspace, and processes still mapping a previous file
// at path keep their inode. Only the parameter service stages workspaces.
func Stage(path string, capacity uint32) (*Workspace, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("capacity must be at least 2 slots, got %d", capacity)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace file in %s: %w", dir, err)
	}
	discard := func() {
		file.Close()
		os.Remove(file.Name())
	}
	if err := file.Chmod(0644); err != nil {
		discard()
		return nil, fmt.Errorf("failed to chmod workspace file: %w", err)
	}

	size := RegionSize(capacity)
	if err := file.Truncate(int64(size)); err != nil {
		discard()
		return nil, fmt.Errorf("failed to size workspace file: %w", err)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		discard()
		return nil, fmt.Errorf("failed to mmap workspace: %w", err)
	}

	w := &Workspace{
		mem:    mem,
		file:   file,
		path:   path,
		staged: file.Name(),
		unmap:  unix.Munmap,
	}
	w.initHeader(capacity)
	return w, nil
}

// Publish atomically renames a staged workspace onto its path. Publishing
// twice is a no-op.
func (w *Workspace) Publish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.staged == "" {
		return nil
	}
	if err := os.Rename(w.staged, w.path); err != nil {
		return fmt.Errorf("failed to publish workspace at %s: %w", w.path, err)
	}
	w.staged = ""
	return nil
}

// Open maps an existing workspace file. Reader processes pass readOnly so
// the mapping is PROT_READ and every mutating call is rejected.
func Open(path string, readOnly bool) (*Workspace, error) {
	flag, prot := os.O_RDWR, unix.PROT_READ|unix.PROT_WRITE
	if readOnly {
		flag, prot = os.O_RDONLY, unix.PROT_READ
	}

	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat workspace file: %w", err)
	}
	if info.Size() < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("workspace file too small: %d bytes", info.Size())
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap workspace: %w", err)
	}

	w := &Workspace{
		mem:      mem,
		file:     file,
		path:     path,
		readOnly: readOnly,
		unmap:    unix.Munmap,
	}
	if err := w.validateHeader(); err != nil {
		w.Close()
		return nil, fmt.Errorf("invalid workspace %s: %w", path, err)
	}
	return w, nil
}
