package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sharedlog/internal/codec"
	"sharedlog/internal/scan"
	"sharedlog/internal/segstore"
)

// Trim places an individual tombstone on address. A no-op if address
// is not known, or already pending-trim.
func (e *Engine) Trim(address uint64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	segID := address / e.config.RecordsPerSegment
	seg, err := e.cache.GetSegment(segID)
	if err != nil {
		return err
	}
	defer seg.Release()

	guard := e.locks.Lock(segID)
	defer guard.Unlock()

	if !seg.IsKnown(address) || seg.IsPendingTrim(address) {
		return nil
	}
	if err := seg.WritePendingTrim(address); err != nil {
		return err
	}
	e.markPendingDirty(seg)
	return nil
}

// PrefixTrim advances the trim mark to address+1. A no-op (with a
// warning) if address is already below the current trim mark.
func (e *Engine) PrefixTrim(address uint64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	start := e.startingAddress.Load()
	if address < start {
		e.log.Warnw("prefix_trim below current starting_address, ignoring",
			"address", address, "starting_address", start)
		return nil
	}

	newStart := address + 1
	if err := e.ctx.SetStartingAddress(newStart); err != nil {
		return fmt.Errorf("engine: persist starting_address: %w", err)
	}
	e.startingAddress.Store(newStart)
	return e.syncTailSegment(address)
}

// Compact runs prefix compaction when starting_address > 0, or sparse
// compaction (rewriting full segments to drop tombstoned records) when
// starting_address == 0. Prefix compaction evicts every cached segment
// with id <= starting_address/R - 1 and deletes the files of segments
// with id < starting_address/R - 1; the files of segment
// starting_address/R - 1 stay on disk. Serialized engine-wide.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.compactMu.Lock()
	defer e.compactMu.Unlock()

	if e.startingAddress.Load() == 0 {
		return e.compactSparse()
	}
	return e.compactPrefix()
}

func (e *Engine) compactPrefix() error {
	R := e.config.RecordsPerSegment
	start := e.startingAddress.Load()
	if start/R == 0 {
		return nil
	}
	endSegment := start/R - 1

	for _, id := range e.cache.Ids() {
		if id <= endSegment {
			if err := e.cache.Evict(id); err != nil {
				return fmt.Errorf("engine: prefix compact: evict segment %d: %w", id, err)
			}
		}
	}

	dirEntries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("engine: prefix compact: list %s: %w", e.dir, err)
	}

	var freed int64
	for _, ent := range dirEntries {
		if ent.IsDir() {
			continue
		}
		id, ok := parseSegmentID(ent.Name())
		if !ok || id >= endSegment {
			continue
		}
		if info, err := ent.Info(); err == nil {
			freed += info.Size()
		}
		path := filepath.Join(e.dir, ent.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.log.Warnw("prefix compact: failed to remove file", "path", path, "error", err)
			continue
		}
	}
	e.log.Infow("prefix compact complete", "end_segment", endSegment, "freed_bytes", freed)
	return nil
}

// parseSegmentID extracts the leading decimal segment id from a segment
// file name ("<id>.log", "<id>.log.trimmed", "<id>.log.pending",
// "<id>.log.copy").
func parseSegmentID(name string) (uint64, bool) {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(name[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (e *Engine) compactSparse() error {
	R := e.config.RecordsPerSegment
	threshold := e.config.TrimThreshold

	for _, id := range e.cache.Ids() {
		seg, ok := e.cache.Peek(id)
		if !ok {
			continue
		}

		guard := e.locks.Lock(id)

		full := uint64(seg.KnownCount()+seg.TrimmedCount()) == R
		if !full {
			guard.Unlock()
			continue
		}

		toTrim := make(map[uint64]struct{})
		for addr := range seg.PendingTrims() {
			if !seg.IsTrimmed(addr) {
				toTrim[addr] = struct{}{}
			}
		}

		if uint64(len(toTrim)) < threshold {
			guard.Unlock()
			// Deliberate early return, not continue: abandons the whole
			// sparse-compact pass at the first below-threshold segment
			// rather than moving on to later segments.
			return nil
		}

		if err := e.compactSegment(seg, toTrim); err != nil {
			guard.Unlock()
			return fmt.Errorf("engine: sparse compact segment %d: %w", id, err)
		}
		guard.Unlock()

		if err := e.cache.Evict(id); err != nil {
			return fmt.Errorf("engine: sparse compact: evict segment %d: %w", id, err)
		}
	}
	return nil
}

func (e *Engine) compactSegment(seg *segstore.Segment, toTrim map[uint64]struct{}) error {
	copyPath, dropped, err := seg.CompactSparse(toTrim)
	if err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}

	for addr := range dropped {
		if err := seg.WriteTrimmed(addr); err != nil {
			return fmt.Errorf("record trimmed address %d: %w", addr, err)
		}
	}
	if err := seg.SyncTrimmed(); err != nil {
		return fmt.Errorf("sync trimmed sidecar: %w", err)
	}

	if err := e.verifyRewrittenSegment(copyPath); err != nil {
		// Stale .copy is left in place; the next compact pass truncates
		// it when it reopens the same path for writing.
		return fmt.Errorf("verify rewritten segment: %w", err)
	}

	logPath := segstore.LogPath(e.dir, seg.ID())
	if err := os.Rename(copyPath, logPath); err != nil {
		return fmt.Errorf("rename rewritten segment into place: %w", err)
	}
	return nil
}

func (e *Engine) verifyRewrittenSegment(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = scan.File(path, f, fi.Size(), e.config.Version, e.config.NoVerify,
		func(int64, codec.Metadata, codec.LogEntry) error { return nil })
	return err
}
