package codec

import (
	"encoding/binary"
	"errors"
)

// RecordDelimiter marks the start of every record in a segment file.
const RecordDelimiter uint16 = 0x4C45

// ErrLengthMismatch is returned when a payload's actual length
// disagrees with the Metadata.Length that preceded it.
var ErrLengthMismatch = errors.New("codec: payload length does not match metadata length")

// EncodeRecord frames a LogEntry for disk: delimiter, fixed-width Metadata,
// then the entry's wire bytes. It performs no I/O.
func EncodeRecord(entry LogEntry) []byte {
	frame, _ := EncodeRecordWithMeta(entry)
	return frame
}

// EncodeRecordWithMeta is EncodeRecord, additionally returning the Metadata
// computed for the frame so a caller (the segment append path) doesn't
// need to re-decode it from the bytes just to learn the payload's
// checksum/length/offset.
func EncodeRecordWithMeta(entry LogEntry) ([]byte, Metadata) {
	payload := EncodeLogEntry(entry)
	meta := Metadata{
		Checksum: ChecksumCRC32C(payload),
		Length:   int32(len(payload)),
	}
	metaBytes := EncodeMetadata(meta)

	buf := make([]byte, 0, 2+len(metaBytes)+len(payload))
	var delim [2]byte
	binary.BigEndian.PutUint16(delim[:], RecordDelimiter)
	buf = append(buf, delim[:]...)
	buf = append(buf, metaBytes...)
	buf = append(buf, payload...)
	return buf, meta
}

// DecodeRecordPayload decodes a LogEntry from exactly meta.Length bytes of
// payload; a payload longer or shorter than meta.Length is rejected with
// ErrLengthMismatch. verifyChecksum controls whether the CRC
// is checked; callers pass false only for segments opened in no-verify
// (legacy-tolerance) mode.
func DecodeRecordPayload(meta Metadata, payload []byte, verifyChecksum bool) (LogEntry, error) {
	if int32(len(payload)) > meta.Length {
		return LogEntry{}, ErrLengthMismatch
	}
	if int32(len(payload)) < meta.Length {
		return LogEntry{}, ErrLengthMismatch
	}
	if verifyChecksum {
		if ChecksumCRC32C(payload) != meta.Checksum {
			return LogEntry{}, ErrChecksumMismatch
		}
	}
	return DecodeLogEntry(payload)
}

// EncodeHeader frames a LogHeader for disk: Metadata followed by the
// header's wire bytes.
func EncodeHeader(h LogHeader) []byte {
	payload := EncodeLogHeader(h)
	meta := Metadata{
		Checksum: ChecksumCRC32C(payload),
		Length:   int32(len(payload)),
	}
	metaBytes := EncodeMetadata(meta)

	buf := make([]byte, 0, len(metaBytes)+len(payload))
	buf = append(buf, metaBytes...)
	buf = append(buf, payload...)
	return buf
}

// ErrChecksumMismatch is returned when a payload's computed CRC-32C
// doesn't match its preceding Metadata.Checksum.
var ErrChecksumMismatch = errors.New("codec: checksum mismatch")
