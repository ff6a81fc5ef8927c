// Package segstore owns the three files that back one segment: the
// primary .log, the .trimmed sidecar and the .pending sidecar, plus the
// in-memory indices recovered from them. One struct per open segment, a
// pre-created file, file-offset bookkeeping kept in memory rather than
// queried from the OS, and a recover step that rebuilds state by reading
// the file back.
package segstore

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"sharedlog/internal/codec"
	"sharedlog/internal/scan"
)

// AddressMetaData is what the segment remembers about one known address:
// enough to re-locate and re-validate its payload without rescanning.
type AddressMetaData struct {
	Checksum int32
	Length   int32
	// Offset is the byte offset of the payload, past the record's
	// delimiter and metadata block.
	Offset int64
}

// Segment owns one segment's three files and in-memory indices. All
// mutation methods assume the caller already holds the appropriate
// lock.Table guard for this segment's id (segstore itself does no locking:
// its maps and write cursors rely entirely on that guard — that is C4's
// job). Only the reference count is updated atomically.
type Segment struct {
	id     uint64
	dir    string
	config Config

	logFile     *os.File
	trimmedFile *os.File
	pendingFile *os.File

	logSize     int64 // logical size of the log file (bytes written, including header)
	trimmedSize int64
	pendingSize int64

	knownAddresses   map[uint64]AddressMetaData
	trimmedAddresses map[uint64]struct{}
	pendingTrims     map[uint64]struct{}

	refCount int32
	closed   bool
}

// Open opens (creating if necessary) the three files for segment id under
// dir, writes the file header if the log is new, and scans the log plus
// sidecars to rebuild all in-memory indices.
func Open(dir string, id uint64, config Config) (*Segment, error) {
	logFile, err := os.OpenFile(LogPath(dir, id), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("segstore: open log for segment %d: %w", id, err)
	}

	s := &Segment{
		id:               id,
		dir:              dir,
		config:           config,
		logFile:          logFile,
		knownAddresses:   make(map[uint64]AddressMetaData),
		trimmedAddresses: make(map[uint64]struct{}),
		pendingTrims:     make(map[uint64]struct{}),
	}

	if err := s.initLog(); err != nil {
		logFile.Close()
		return nil, err
	}

	trimmedFile, err := os.OpenFile(TrimmedPath(dir, id), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		s.logFile.Close()
		return nil, fmt.Errorf("segstore: open trimmed sidecar for segment %d: %w", id, err)
	}
	s.trimmedFile = trimmedFile
	if err := s.loadSidecar(trimmedFile, &s.trimmedSize, s.trimmedAddresses); err != nil {
		s.Close()
		return nil, err
	}

	pendingFile, err := os.OpenFile(PendingPath(dir, id), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("segstore: open pending sidecar for segment %d: %w", id, err)
	}
	s.pendingFile = pendingFile
	if err := s.loadSidecar(pendingFile, &s.pendingSize, s.pendingTrims); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// initLog writes the file header if the log is empty, then scans it to
// rebuild knownAddresses and logSize.
func (s *Segment) initLog() error {
	fi, err := s.logFile.Stat()
	if err != nil {
		return fmt.Errorf("segstore: stat log for segment %d: %w", s.id, err)
	}

	if fi.Size() == 0 {
		header := codec.EncodeHeader(codec.LogHeader{
			Version:        s.config.Version,
			VerifyChecksum: !s.config.NoVerify,
		})
		if _, err := s.logFile.WriteAt(header, 0); err != nil {
			return fmt.Errorf("segstore: write header for segment %d: %w", s.id, err)
		}
		if err := s.logFile.Sync(); err != nil {
			return fmt.Errorf("segstore: sync header for segment %d: %w", s.id, err)
		}
		fi, err = s.logFile.Stat()
		if err != nil {
			return fmt.Errorf("segstore: restat log for segment %d: %w", s.id, err)
		}
	}

	result, err := scan.File(LogPath(s.dir, s.id), s.logFile, fi.Size(), s.config.Version, s.config.NoVerify, func(offset int64, meta codec.Metadata, entry codec.LogEntry) error {
		s.knownAddresses[entry.GlobalAddress] = AddressMetaData{
			Checksum: meta.Checksum,
			Length:   meta.Length,
			Offset:   offset,
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logSize = result.EndPos
	return nil
}

// loadSidecar streams length-delimited TrimEntry records from f into set,
// tracking the number of valid bytes in *size. A sidecar that ends with a
// partial or malformed trailing record is truncated there rather than
// treated as corrupt — unlike the primary log, a torn sidecar write only
// loses a tombstone, which compaction will simply re-learn on the next
// trim; it does not call the segment's data into question.
func (s *Segment) loadSidecar(f *os.File, size *int64, set map[uint64]struct{}) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("segstore: stat sidecar %s: %w", f.Name(), err)
	}
	if fi.Size() == 0 {
		*size = 0
		return nil
	}

	buf := make([]byte, fi.Size())
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, fi.Size()), buf); err != nil {
		return fmt.Errorf("segstore: read sidecar %s: %w", f.Name(), err)
	}

	pos := int64(0)
	for int64(len(buf)) > pos {
		entry, n, ok := codec.DecodeTrimEntry(buf[pos:])
		if !ok {
			break
		}
		if codec.ChecksumAddress(entry.Address) != entry.Checksum {
			break
		}
		set[entry.Address] = struct{}{}
		pos += int64(n)
	}
	*size = pos
	return nil
}

// ID returns the segment's id.
func (s *Segment) ID() uint64 { return s.id }

// Dir returns the directory the segment's files live in.
func (s *Segment) Dir() string { return s.dir }

// Size returns the logical size of the log file in bytes.
func (s *Segment) Size() int64 { return s.logSize }

// KnownCount returns the number of addresses present in the log.
func (s *Segment) KnownCount() int { return len(s.knownAddresses) }

// TrimmedCount returns the number of addresses confirmed trimmed
// (physically removed by a prior sparse compaction).
func (s *Segment) TrimmedCount() int { return len(s.trimmedAddresses) }

// Lookup returns the stored metadata for address, if known.
func (s *Segment) Lookup(address uint64) (AddressMetaData, bool) {
	m, ok := s.knownAddresses[address]
	return m, ok
}

// IsKnown reports whether address has a stored record in this segment.
func (s *Segment) IsKnown(address uint64) bool {
	_, ok := s.knownAddresses[address]
	return ok
}

// IsTrimmed reports whether address has been physically removed by a
// prior sparse compaction.
func (s *Segment) IsTrimmed(address uint64) bool {
	_, ok := s.trimmedAddresses[address]
	return ok
}

// IsPendingTrim reports whether address carries a pending tombstone.
func (s *Segment) IsPendingTrim(address uint64) bool {
	_, ok := s.pendingTrims[address]
	return ok
}

// PendingTrims returns a snapshot of all pending-trim addresses.
func (s *Segment) PendingTrims() map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(s.pendingTrims))
	for a := range s.pendingTrims {
		out[a] = struct{}{}
	}
	return out
}

// KnownAddresses returns a snapshot of all known addresses.
func (s *Segment) KnownAddresses() []uint64 {
	out := make([]uint64, 0, len(s.knownAddresses))
	for a := range s.knownAddresses {
		out = append(out, a)
	}
	return out
}

// AppendRecord encodes and appends a single record at the end of the log,
// recording address in knownAddresses. It is the caller's responsibility
// to hold the segment's write lock and to have already decided address is
// permitted to be written (duplicate/rank checks happen in the append
// path, not here).
func (s *Segment) AppendRecord(entry codec.LogEntry, address uint64) (AddressMetaData, error) {
	if s.closed {
		return AddressMetaData{}, ErrClosed
	}
	frame, meta := codec.EncodeRecordWithMeta(entry)

	offset := s.logSize
	if _, err := s.logFile.WriteAt(frame, offset); err != nil {
		return AddressMetaData{}, fmt.Errorf("segstore: append record to segment %d: %w", s.id, err)
	}

	am := AddressMetaData{
		Checksum: meta.Checksum,
		Length:   meta.Length,
		Offset:   offset + 2 + int64(codec.MetadataSize),
	}
	s.logSize += int64(len(frame))
	s.knownAddresses[address] = am
	return am, nil
}

// AppendBatch writes entries as a single contiguous buffered write,
// returning the per-entry metadata in the same order. Addresses must
// already be paired 1:1 with entries by the caller (the engine's append
// path), which is also responsible for holding the write lock.
func (s *Segment) AppendBatch(entries []codec.LogEntry, addresses []uint64) ([]AddressMetaData, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if len(entries) != len(addresses) {
		return nil, fmt.Errorf("segstore: AppendBatch: %d entries but %d addresses", len(entries), len(addresses))
	}
	if len(entries) == 0 {
		return nil, nil
	}

	buf := bufferPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	defer func() {
		const maxPooled = 1 << 20
		if cap(*buf) <= maxPooled {
			bufferPool.Put(buf)
		}
	}()

	metas := make([]AddressMetaData, len(entries))
	offset := s.logSize
	cursor := offset
	for i, entry := range entries {
		frame, meta := codec.EncodeRecordWithMeta(entry)
		*buf = append(*buf, frame...)
		metas[i] = AddressMetaData{
			Checksum: meta.Checksum,
			Length:   meta.Length,
			Offset:   cursor + 2 + int64(codec.MetadataSize),
		}
		cursor += int64(len(frame))
	}

	if _, err := s.logFile.WriteAt(*buf, offset); err != nil {
		return nil, fmt.Errorf("segstore: append batch to segment %d: %w", s.id, err)
	}

	s.logSize = cursor
	for i, addr := range addresses {
		s.knownAddresses[addr] = metas[i]
	}
	return metas, nil
}

// ReadRecord returns the decoded LogEntry stored at address, or ok=false
// if address is not known to this segment. It memory-maps a fresh,
// short-lived read-only window over the valid byte range of the log
// rather than keeping a long-lived mapping, since concurrent appends
// extend the file.
func (s *Segment) ReadRecord(address uint64) (entry codec.LogEntry, ok bool, err error) {
	am, known := s.knownAddresses[address]
	if !known {
		return codec.LogEntry{}, false, nil
	}

	data, err := scan.MapRegion(s.logFile, s.logSize)
	if err != nil {
		return codec.LogEntry{}, false, fmt.Errorf("segstore: map segment %d for read: %w", s.id, err)
	}
	defer scan.Unmap(data)

	if am.Offset+int64(am.Length) > int64(len(data)) {
		return codec.LogEntry{}, false, fmt.Errorf("segstore: address %d metadata out of range in segment %d", address, s.id)
	}
	payload := data[am.Offset : am.Offset+int64(am.Length)]

	meta := codec.Metadata{Checksum: am.Checksum, Length: am.Length}
	decoded, err := codec.DecodeRecordPayload(meta, payload, !s.config.NoVerify)
	if err != nil {
		return codec.LogEntry{}, false, fmt.Errorf("segstore: decode address %d in segment %d: %w", address, s.id, err)
	}
	return decoded, true, nil
}

// WritePendingTrim appends a tombstone for address to the .pending
// sidecar. It is idempotent: a second call for an already-pending address
// is a no-op.
func (s *Segment) WritePendingTrim(address uint64) error {
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.pendingTrims[address]; ok {
		return nil
	}
	entry := codec.TrimEntry{Checksum: codec.ChecksumAddress(address), Address: address}
	enc := codec.EncodeTrimEntry(entry)
	if _, err := s.pendingFile.WriteAt(enc, s.pendingSize); err != nil {
		return fmt.Errorf("segstore: write pending trim for segment %d: %w", s.id, err)
	}
	s.pendingSize += int64(len(enc))
	s.pendingTrims[address] = struct{}{}
	return nil
}

// WriteTrimmed appends a confirmation record for address to the
// .trimmed sidecar, used when a sparse compaction physically removes it
// from the log.
func (s *Segment) WriteTrimmed(address uint64) error {
	if s.closed {
		return ErrClosed
	}
	entry := codec.TrimEntry{Checksum: codec.ChecksumAddress(address), Address: address}
	enc := codec.EncodeTrimEntry(entry)
	if _, err := s.trimmedFile.WriteAt(enc, s.trimmedSize); err != nil {
		return fmt.Errorf("segstore: write trimmed entry for segment %d: %w", s.id, err)
	}
	s.trimmedSize += int64(len(enc))
	s.trimmedAddresses[address] = struct{}{}
	return nil
}

// SyncLog forces the log file to durable storage.
func (s *Segment) SyncLog() error { return s.logFile.Sync() }

// SyncTrimmed forces the .trimmed sidecar to durable storage.
func (s *Segment) SyncTrimmed() error { return s.trimmedFile.Sync() }

// SyncPending forces the .pending sidecar to durable storage.
func (s *Segment) SyncPending() error { return s.pendingFile.Sync() }

// LogFile exposes the underlying log file handle for the compaction path,
// which needs to read raw framed bytes (not just decoded payloads) to
// copy them byte-for-byte into a rewritten segment.
func (s *Segment) LogFile() *os.File { return s.logFile }

// Retain increments the segment's reference count. Every handle obtained
// from the segment cache must be matched by exactly one Release.
func (s *Segment) Retain() { atomic.AddInt32(&s.refCount, 1) }

// Release decrements the reference count. It is an error to release a
// segment whose count is already zero.
func (s *Segment) Release() error {
	for {
		cur := atomic.LoadInt32(&s.refCount)
		if cur <= 0 {
			return ErrOverRelease
		}
		if atomic.CompareAndSwapInt32(&s.refCount, cur, cur-1) {
			return nil
		}
	}
}

// RefCount returns the current reference count.
func (s *Segment) RefCount() int32 { return atomic.LoadInt32(&s.refCount) }

// Close forces and closes all three files and clears the in-memory
// indices. Safe to call on an already-closed segment.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, f := range []*os.File{s.logFile, s.trimmedFile, s.pendingFile} {
		if f == nil {
			continue
		}
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.knownAddresses = nil
	s.trimmedAddresses = nil
	s.pendingTrims = nil
	return firstErr
}

// Delete closes the segment (if not already closed) and removes all of
// its files from disk, including sidecars. Prefix compaction does not use
// it; it removes segment files by name from the log directory instead.
func (s *Segment) Delete() error {
	_ = s.Close()
	var firstErr error
	for _, p := range []string{LogPath(s.dir, s.id), TrimmedPath(s.dir, s.id), PendingPath(s.dir, s.id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CompactSparse rewrites the segment's log into the segment's own
// .copy file (never the live .log, to avoid truncating a file this
// segment still has mapped for reading), keeping every known record
// except those whose address is in toTrim. It returns the path of the
// written .copy file and the set of addresses actually dropped; it does
// not touch this Segment's state or rename anything. The caller — the
// engine's trim path — scans the .copy path with scan.File to confirm it
// is well-formed, renames .copy over .log, and then evicts (closes) this
// segment so that the next access reopens and re-indexes the new file.
//
// Frames are copied with io.Copy over an io.SectionReader rather than
// decoded and re-encoded, so unaffected records transfer byte-for-byte
// and the kernel can satisfy the copy with sendfile(2) when supported.
func (s *Segment) CompactSparse(toTrim map[uint64]struct{}) (copyPath string, dropped map[uint64]struct{}, err error) {
	data, err := scan.MapRegion(s.logFile, s.logSize)
	if err != nil {
		return "", nil, fmt.Errorf("segstore: map segment %d for compaction: %w", s.id, err)
	}
	defer scan.Unmap(data)

	copyPath = CopyPath(s.dir, s.id)
	dst, err := os.OpenFile(copyPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", nil, fmt.Errorf("segstore: create compaction target for segment %d: %w", s.id, err)
	}

	headerMeta, ok := codec.DecodeMetadata(data[:codec.MetadataSize])
	if !ok {
		dst.Close()
		return "", nil, fmt.Errorf("segstore: segment %d: malformed header during compaction", s.id)
	}
	headerEnd := int64(codec.MetadataSize) + int64(headerMeta.Length)
	if _, err := io.Copy(dst, io.NewSectionReader(s.logFile, 0, headerEnd)); err != nil {
		dst.Close()
		return "", nil, fmt.Errorf("segstore: segment %d: copy header during compaction: %w", s.id, err)
	}

	// Frames must be copied in original file order, not map iteration
	// order, so the rewritten log's records stay in append (and thus
	// address) order for the next scan to rebuild cleanly.
	type addrOffset struct {
		addr uint64
		am   AddressMetaData
	}
	ordered := make([]addrOffset, 0, len(s.knownAddresses))
	for addr, am := range s.knownAddresses {
		ordered = append(ordered, addrOffset{addr, am})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].am.Offset < ordered[j].am.Offset })

	dropped = make(map[uint64]struct{})
	var writeErr error
	for _, o := range ordered {
		frameStart := o.am.Offset - 2 - int64(codec.MetadataSize)
		frameLen := 2 + int64(codec.MetadataSize) + int64(o.am.Length)

		if _, skip := toTrim[o.addr]; skip {
			dropped[o.addr] = struct{}{}
			continue
		}
		if _, err := io.Copy(dst, io.NewSectionReader(s.logFile, frameStart, frameLen)); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr != nil {
		dst.Close()
		os.Remove(copyPath)
		return "", nil, fmt.Errorf("segstore: segment %d: copy frame during compaction: %w", s.id, writeErr)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return "", nil, fmt.Errorf("segstore: segment %d: sync compaction target: %w", s.id, err)
	}
	dst.Close()

	return copyPath, dropped, nil
}
