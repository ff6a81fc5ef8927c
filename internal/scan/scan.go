// Package scan implements the sequential validate-and-rebuild pass over a
// segment's .log file. It is used both to rebuild a segment's in-memory
// index on open and to verify a freshly rewritten segment before it
// replaces the original during compaction.
//
// A scan reads a fixed header, then loops reading record headers and
// bodies until data runs out or a record fails to parse, at which point
// the scan stops with a *CorruptionError rather than guessing at the
// remainder of the file.
package scan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"sharedlog/internal/codec"
)

// CorruptionError is returned whenever a checksum, delimiter or parse
// check fails during a scan. A segment that produces this error is
// corrupt for the remainder of the process — callers must not attempt to
// heal it.
type CorruptionError struct {
	Path   string
	Offset int64
	Reason string
	Cause  error
}

func (e *CorruptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scan: %s: corruption at offset %d in %s: %v", e.Reason, e.Offset, e.Path, e.Cause)
	}
	return fmt.Sprintf("scan: %s: corruption at offset %d in %s", e.Reason, e.Offset, e.Path)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }

// VersionMismatchError is fatal: the engine refuses to open a segment whose
// header version doesn't match the running version.
type VersionMismatchError struct {
	Path      string
	Want, Got int32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("scan: %s: header version mismatch: want %d, got %d", e.Path, e.Want, e.Got)
}

// VerifyModeMismatchError is returned when a segment was written with
// verify_checksum=false but the engine was not started in no-verify mode.
type VerifyModeMismatchError struct {
	Path string
}

func (e *VerifyModeMismatchError) Error() string {
	return fmt.Sprintf("scan: %s: segment has verify_checksum=false but engine is not running in no-verify mode", e.Path)
}

// RecordAction is invoked once per valid record found during a scan, with
// the byte offset of its payload (past delimiter+metadata), the record's
// metadata and its decoded entry.
type RecordAction func(offset int64, meta codec.Metadata, entry codec.LogEntry) error

// Result summarizes a completed scan.
type Result struct {
	Header codec.LogHeader
	EndPos int64 // byte offset immediately past the last valid record
}

// MapRegion memory-maps f read-only over [0, size). A mapping is created
// fresh for each scan or point read rather than kept long-lived, since
// appends extend the file and would invalidate a stale mapping. Segment
// reads use this directly for point lookups rather than re-running a
// full scan.
func MapRegion(f *os.File, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}

// Unmap releases a mapping obtained from MapRegion.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

func mapFile(f *os.File, size int64) ([]byte, error) { return MapRegion(f, size) }
func unmapFile(data []byte)                          { _ = Unmap(data) }

// File performs a sequential scan of f, which must contain size bytes of
// written (not necessarily page-aligned preallocated) data. wantVersion is
// the running engine's VERSION constant; noVerify mirrors the engine's
// no-verify startup flag. action is invoked for every valid record; the
// scan stops at the first record that fails to parse or runs past size,
// without invoking action for it, and returns a *CorruptionError.
func File(path string, f *os.File, size int64, wantVersion int32, noVerify bool, action RecordAction) (Result, error) {
	data, err := mapFile(f, size)
	if err != nil {
		return Result{}, fmt.Errorf("scan: mmap %s: %w", path, err)
	}
	defer unmapFile(data)

	if len(data) < codec.MetadataSize {
		return Result{}, &CorruptionError{Path: path, Offset: 0, Reason: "file shorter than header metadata"}
	}

	headerMeta, ok := codec.DecodeMetadata(data[:codec.MetadataSize])
	if !ok {
		return Result{}, &CorruptionError{Path: path, Offset: 0, Reason: "malformed header metadata"}
	}

	pos := int64(codec.MetadataSize)
	if pos+int64(headerMeta.Length) > int64(len(data)) {
		return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "header payload runs past end of file"}
	}
	headerBytes := data[pos : pos+int64(headerMeta.Length)]

	if !noVerify {
		if codec.ChecksumCRC32C(headerBytes) != headerMeta.Checksum {
			return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "header checksum mismatch"}
		}
	}

	header, ok := codec.DecodeLogHeader(headerBytes)
	if !ok {
		return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "malformed header payload"}
	}
	if header.Version != wantVersion {
		return Result{}, &VersionMismatchError{Path: path, Want: wantVersion, Got: header.Version}
	}
	if !header.VerifyChecksum && !noVerify {
		return Result{}, &VerifyModeMismatchError{Path: path}
	}

	pos += int64(headerMeta.Length)

	for pos < int64(len(data)) {
		remaining := int64(len(data)) - pos
		if remaining < 2 {
			return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "truncated record delimiter"}
		}
		delim := uint16(data[pos])<<8 | uint16(data[pos+1])
		if delim != codec.RecordDelimiter {
			return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "bad record delimiter"}
		}
		pos += 2

		if int64(len(data))-pos < int64(codec.MetadataSize) {
			return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "truncated record metadata"}
		}
		recMeta, ok := codec.DecodeMetadata(data[pos : pos+int64(codec.MetadataSize)])
		if !ok {
			return Result{}, &CorruptionError{Path: path, Offset: pos, Reason: "malformed record metadata"}
		}
		pos += int64(codec.MetadataSize)

		payloadOffset := pos
		if int64(len(data))-pos < int64(recMeta.Length) {
			return Result{}, &CorruptionError{Path: path, Offset: payloadOffset, Reason: "truncated record payload"}
		}
		payload := data[pos : pos+int64(recMeta.Length)]

		entry, err := codec.DecodeRecordPayload(recMeta, payload, !noVerify)
		if err != nil {
			return Result{}, &CorruptionError{Path: path, Offset: payloadOffset, Reason: "record payload failed validation", Cause: err}
		}

		if err := action(payloadOffset, recMeta, entry); err != nil {
			return Result{}, fmt.Errorf("scan: %s: action at offset %d: %w", path, payloadOffset, err)
		}

		pos += int64(recMeta.Length)
	}

	return Result{Header: header, EndPos: pos}, nil
}
