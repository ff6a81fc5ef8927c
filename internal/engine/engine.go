// Package engine implements the segmented append-only log storage
// engine's public surface, plus its append path (append.go) and
// trim/compact path (trim.go). It ties together internal/segstore,
// internal/cache, internal/lock and internal/scan into the operations a
// caller actually calls: Append, Read, Trim, PrefixTrim, Compact, Sync,
// Close.
//
// Every segment access goes through the segment cache, since segments
// here are randomly addressable rather than append-only to a single
// active tail.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"sharedlog/internal/cache"
	"sharedlog/internal/codec"
	"sharedlog/internal/lock"
	"sharedlog/internal/segstore"
	"sharedlog/internal/serverctx"
)

// ReadResult is what Read returns: either a decoded entry, or Trimmed
// set to indicate the address is logically deleted (below the trim mark
// or individually tombstoned).
type ReadResult struct {
	Trimmed bool
	Entry   codec.LogEntry
}

// Engine is the storage engine's facade. It is safe for concurrent use
// by many callers.
type Engine struct {
	dir    string
	config Config
	ctx    serverctx.Context
	log    *zap.SugaredLogger

	cache *cache.Cache
	locks *lock.Table
	dirty *dirtySet

	globalTail      atomic.Int64  // monotonic max address ever appended, -1 if none
	startingAddress atomic.Uint64 // trim mark

	tailMu      sync.Mutex // guards lastSegment + its persistence
	lastSegment uint64

	compactMu sync.Mutex // serializes compact() engine-wide

	closed atomic.Bool
}

// New creates (or reopens) the engine rooted at ctx.Get("--log-path").
// It loads starting_address and tail_segment from ctx, then scans the
// segment at tail_segment (and tail_segment+1, if present) to initialize
// global_tail.
func New(config Config, ctx serverctx.Context, log *zap.SugaredLogger) (*Engine, error) {
	if config.RecordsPerSegment == 0 {
		config.RecordsPerSegment = DefaultRecordsPerSegment
	}
	if config.TrimThreshold == 0 {
		config.TrimThreshold = config.RecordsPerSegment / 4
	}
	if config.Version == 0 {
		config.Version = DefaultVersion
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	dir := filepath.Join(ctx.Get("--log-path"), "log")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create log directory %s: %w", dir, err)
	}

	startingAddress, err := ctx.StartingAddress()
	if err != nil {
		return nil, fmt.Errorf("engine: load starting_address: %w", err)
	}
	tailSegment, err := ctx.TailSegment()
	if err != nil {
		return nil, fmt.Errorf("engine: load tail_segment: %w", err)
	}

	e := &Engine{
		dir:         dir,
		config:      config,
		ctx:         ctx,
		log:         log,
		cache:       cache.New(dir, segstore.Config{Version: config.Version, NoVerify: config.NoVerify}, log),
		locks:       lock.NewTable(),
		dirty:       newDirtySet(),
		lastSegment: tailSegment,
	}
	e.globalTail.Store(-1)
	e.startingAddress.Store(startingAddress)

	for _, segID := range []uint64{tailSegment, tailSegment + 1} {
		if _, err := os.Stat(segstore.LogPath(dir, segID)); err != nil {
			continue
		}
		seg, err := e.cache.GetSegment(segID)
		if err != nil {
			return nil, fmt.Errorf("engine: scan segment %d on startup: %w", segID, err)
		}
		for _, addr := range seg.KnownAddresses() {
			e.bumpGlobalTail(addr)
		}
		seg.Release()
	}

	if startingAddress > 0 {
		want := int64(startingAddress - 1)
		if e.globalTail.Load() < want {
			if err := e.syncTailSegment(startingAddress - 1); err != nil {
				return nil, fmt.Errorf("engine: advance tail on startup: %w", err)
			}
		}
	}

	return e, nil
}

func (e *Engine) bumpGlobalTail(address uint64) {
	addr := int64(address)
	for {
		cur := e.globalTail.Load()
		if addr <= cur {
			return
		}
		if e.globalTail.CompareAndSwap(cur, addr) {
			return
		}
	}
}

// syncTailSegment accumulates global_tail and, if address's segment is
// past the last persisted tail segment, persists the new tail segment
// via the server context.
func (e *Engine) syncTailSegment(address uint64) error {
	e.bumpGlobalTail(address)

	segID := address / e.config.RecordsPerSegment
	e.tailMu.Lock()
	defer e.tailMu.Unlock()
	if segID > e.lastSegment {
		if err := e.ctx.SetTailSegment(segID); err != nil {
			return fmt.Errorf("engine: persist tail_segment: %w", err)
		}
		e.lastSegment = segID
	}
	return nil
}

func (e *Engine) markLogDirty(seg *segstore.Segment) {
	e.dirty.mark(fmt.Sprintf("log:%d", seg.ID()), seg.SyncLog)
}

func (e *Engine) markPendingDirty(seg *segstore.Segment) {
	e.dirty.mark(fmt.Sprintf("pending:%d", seg.ID()), seg.SyncPending)
}

// Read returns the record at address, or a Trimmed result if address is
// below the trim mark or carries a pending tombstone.
func (e *Engine) Read(address uint64) (ReadResult, error) {
	if e.closed.Load() {
		return ReadResult{}, ErrClosed
	}
	if address < e.startingAddress.Load() {
		return ReadResult{Trimmed: true}, nil
	}

	segID := address / e.config.RecordsPerSegment
	seg, err := e.cache.GetSegment(segID)
	if err != nil {
		return ReadResult{}, err
	}
	defer seg.Release()

	guard := e.locks.RLock(segID)
	defer guard.Unlock()

	if seg.IsPendingTrim(address) {
		return ReadResult{Trimmed: true}, nil
	}

	entry, ok, err := seg.ReadRecord(address)
	if err != nil {
		return ReadResult{}, err
	}
	if !ok {
		if seg.IsTrimmed(address) {
			return ReadResult{Trimmed: true}, nil
		}
		return ReadResult{}, ErrNotFound
	}
	return ReadResult{Entry: entry}, nil
}

// Sync clears the dirty set, forcing every dirty file to durable storage
// first when force is true.
func (e *Engine) Sync(force bool) error {
	return e.dirty.sync(force)
}

// GlobalTail returns the maximum address ever successfully appended, or
// -1 if none.
func (e *Engine) GlobalTail() int64 {
	return e.globalTail.Load()
}

// TrimMark returns the current starting_address (trim mark).
func (e *Engine) TrimMark() uint64 {
	return e.startingAddress.Load()
}

// Close closes every cached segment. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.cache.Close()
}
