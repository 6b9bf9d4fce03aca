package heights

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// The ledger file holds exactly one fixed-width height value. It is the
// node's crash-recovery anchor: Info reports this height to the consensus
// engine after a restart, so a write must never be observable half-done.

const fileName = "committed_height"

var (
	// ErrNotRecorded is returned when no height has ever been persisted.
	ErrNotRecorded = errors.New("height ledger: no height recorded")
	// ErrCorrupt is returned when the ledger file exists but does not hold
	// a full height value.
	ErrCorrupt = errors.New("height ledger: corrupt record")
)

// Ledger persists the last durably committed block height in a single local
// file. The path is resolved once at construction; callers inject the
// directory rather than relying on process-global state.
type Ledger struct {
	path string
}

// New resolves a ledger rooted at dir, falling back to the OS temp directory
// when dir is empty.
func New(dir string) *Ledger {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Ledger{path: filepath.Join(dir, fileName)}
}

// Path returns the resolved ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Read returns the persisted height. A missing file maps to ErrNotRecorded, a
// short or oversized file to ErrCorrupt.
func (l *Ledger) Read() (uint64, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w at %s", ErrNotRecorded, l.path)
		}
		return 0, fmt.Errorf("height ledger: read %s: %w", l.path, err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: %d bytes at %s", ErrCorrupt, len(data), l.path)
	}
	return binary.NativeEndian.Uint64(data), nil
}

// Write durably records height. The value lands in a temp file first and is
// fsynced before the rename, so a crash leaves either the previous record or
// the new one, never a torn write.
func (l *Ledger) Write(height uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], height)

	tmp, err := os.CreateTemp(filepath.Dir(l.path), fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("height ledger: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(buf[:]); err != nil {
		cleanup()
		return fmt.Errorf("height ledger: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("height ledger: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("height ledger: close temp: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("height ledger: rename: %w", err)
	}
	return nil
}
