package serverctx

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// fileContextState is the on-disk JSON shape persisted by FileContext.
type fileContextState struct {
	StartingAddress uint64 `json:"starting_address"`
	TailSegment     uint64 `json:"tail_segment"`
}

// FileContext is a minimal Context backed by a single JSON metadata file
// plus a static set of string config values. Every setter rewrites the
// whole file and fsyncs it before returning, so a caller that cares about
// durability of starting_address/tail_segment across a crash gets it.
type FileContext struct {
	mu     sync.Mutex
	path   string
	config map[string]string
	state  fileContextState
}

// NewFileContext loads (or creates) the metadata file at path, seeding
// config as the static key/value store Get reads from.
func NewFileContext(path string, config map[string]string) (*FileContext, error) {
	fc := &FileContext{path: path, config: config}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &fc.state); err != nil {
			return nil, fmt.Errorf("serverctx: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := fc.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("serverctx: read %s: %w", path, err)
	}
	return fc, nil
}

func (fc *FileContext) persist() error {
	data, err := json.MarshalIndent(fc.state, "", "  ")
	if err != nil {
		return fmt.Errorf("serverctx: marshal state: %w", err)
	}

	f, err := os.OpenFile(fc.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("serverctx: open %s: %w", fc.path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("serverctx: write %s: %w", fc.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("serverctx: fsync %s: %w", fc.path, err)
	}
	return nil
}

// Get returns config[key], or "" if unset.
func (fc *FileContext) Get(key string) string { return fc.config[key] }

// StartingAddress returns the persisted trim mark.
func (fc *FileContext) StartingAddress() (uint64, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.state.StartingAddress, nil
}

// SetStartingAddress persists a new trim mark, fsyncing before return.
func (fc *FileContext) SetStartingAddress(v uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	prev := fc.state.StartingAddress
	fc.state.StartingAddress = v
	if err := fc.persist(); err != nil {
		fc.state.StartingAddress = prev
		return err
	}
	return nil
}

// TailSegment returns the persisted last-known tail segment id.
func (fc *FileContext) TailSegment() (uint64, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.state.TailSegment, nil
}

// SetTailSegment persists a new tail segment id, fsyncing before return.
func (fc *FileContext) SetTailSegment(v uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	prev := fc.state.TailSegment
	fc.state.TailSegment = v
	if err := fc.persist(); err != nil {
		fc.state.TailSegment = prev
		return err
	}
	return nil
}
