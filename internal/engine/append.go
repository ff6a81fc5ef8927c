package engine

import (
	"bytes"

	"sharedlog/internal/codec"
	"sharedlog/internal/segstore"
)

// Append writes entry at address.
func (e *Engine) Append(address uint64, entry codec.LogEntry) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if address < e.startingAddress.Load() {
		return ErrOverwrite
	}

	segID := address / e.config.RecordsPerSegment
	seg, err := e.cache.GetSegment(segID)
	if err != nil {
		return err
	}
	defer seg.Release()

	guard := e.locks.Lock(segID)
	defer guard.Unlock()

	if err := e.checkOverwrite(seg, address, entry); err != nil {
		return err
	}

	if _, err := seg.AppendRecord(entry, address); err != nil {
		return err
	}
	e.markLogDirty(seg)
	return e.syncTailSegment(address)
}

// checkOverwrite applies the rank policy when address already has a
// known or trimmed entry. It returns nil when the write is permitted to
// proceed (including the common case of a genuinely new address, where
// it is a no-op).
func (e *Engine) checkOverwrite(seg *segstore.Segment, address uint64, entry codec.LogEntry) error {
	known := seg.IsKnown(address)
	trimmed := seg.IsTrimmed(address)
	if !known && !trimmed {
		return nil
	}
	if entry.Rank == nil {
		return ErrOverwrite
	}

	var existing *codec.LogEntry
	if known {
		got, ok, err := seg.ReadRecord(address)
		if err != nil {
			return err
		}
		if ok {
			existing = &got
		}
	}
	// If the address was only physically purged by a prior sparse
	// compaction (trimmed but no longer known), its former contents are
	// gone for good — there is nothing left to rank against, so a ranked
	// append is treated like a first write.
	return applyRankPolicy(existing, entry)
}

func applyRankPolicy(existing *codec.LogEntry, newEntry codec.LogEntry) error {
	if existing == nil || existing.Rank == nil {
		return nil // adopt
	}
	oldRank := existing.Rank
	newRank := newEntry.Rank
	switch {
	case newRank.Value > oldRank.Value:
		return nil
	case newRank.Value == oldRank.Value:
		if bytes.Equal(existing.Data, newEntry.Data) {
			return nil // idempotent
		}
		return ErrValueAdopted
	default:
		return ErrDataOutranked
	}
}

// AppendBatch writes a batch of entries. Entries marked DataTypeTrim are
// treated as prefix-trim markers: each triggers PrefixTrim(address) and
// is dropped from the batch rather than written.
func (e *Engine) AppendBatch(entries []codec.LogEntry) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}

	start := e.startingAddress.Load()
	processed := make([]codec.LogEntry, 0, len(entries))
	for _, en := range entries {
		if en.DataType == codec.DataTypeTrim {
			if err := e.PrefixTrim(en.GlobalAddress); err != nil {
				return err
			}
			continue
		}
		if en.GlobalAddress < start {
			continue
		}
		processed = append(processed, en)
	}
	if len(processed) == 0 {
		return nil
	}

	for i := 1; i < len(processed); i++ {
		if processed[i].GlobalAddress != processed[i-1].GlobalAddress+1 {
			return ErrIllegalArgument
		}
	}

	R := e.config.RecordsPerSegment
	first := processed[0].GlobalAddress
	last := processed[len(processed)-1].GlobalAddress
	firstSeg := first / R
	lastSeg := last / R
	if lastSeg-firstSeg > 1 {
		return ErrIllegalArgument
	}

	seg1, err := e.cache.GetSegment(firstSeg)
	if err != nil {
		return err
	}
	defer seg1.Release()

	var seg2 *segstore.Segment
	if lastSeg != firstSeg {
		seg2, err = e.cache.GetSegment(lastSeg)
		if err != nil {
			return err
		}
		defer seg2.Release()
	}

	var group1, group2 []codec.LogEntry
	for _, en := range processed {
		if en.GlobalAddress/R == firstSeg {
			group1 = append(group1, en)
		} else {
			group2 = append(group2, en)
		}
	}

	if len(group1) > 0 {
		if err := e.writeBatchToSegment(seg1, group1); err != nil {
			return err
		}
	}
	if len(group2) > 0 {
		if err := e.writeBatchToSegment(seg2, group2); err != nil {
			return err
		}
	}
	return nil
}

// writeBatchToSegment writes entries (all belonging to one segment) as a
// single buffered write, silently skipping any address already known to
// the segment (batch appends are idempotent against already-known
// addresses).
func (e *Engine) writeBatchToSegment(seg *segstore.Segment, entries []codec.LogEntry) error {
	guard := e.locks.Lock(seg.ID())
	defer guard.Unlock()

	toWrite := make([]codec.LogEntry, 0, len(entries))
	addrs := make([]uint64, 0, len(entries))
	for _, en := range entries {
		if seg.IsKnown(en.GlobalAddress) {
			continue
		}
		toWrite = append(toWrite, en)
		addrs = append(addrs, en.GlobalAddress)
	}
	if len(toWrite) == 0 {
		return nil
	}

	if _, err := seg.AppendBatch(toWrite, addrs); err != nil {
		return err
	}
	e.markLogDirty(seg)
	return e.syncTailSegment(addrs[len(addrs)-1])
}
