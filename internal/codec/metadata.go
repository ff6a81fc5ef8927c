package codec

// Field numbers for the Metadata message.
const (
	metadataFieldChecksum = 1
	metadataFieldLength   = 2
)

// Metadata precedes every payload (a LogHeader or a LogEntry) on disk.
// Checksum is the CRC-32C of the payload bytes; Length is the payload's
// serialized length in bytes.
type Metadata struct {
	Checksum int32
	Length   int32
}

// MetadataSize is the fixed byte width of an encoded Metadata block. It is
// computed once (see init) against a canonical instance with both fields
// present, rather than hard-coded, so a change to the padding scheme can't
// silently desync the constant from the encoder.
var MetadataSize int

func init() {
	canonical := Metadata{Checksum: -1, Length: -1}
	MetadataSize = len(EncodeMetadata(canonical))
}

// EncodeMetadata serializes m as protobuf wire bytes. Both int32 fields are
// written as padded varints so every Metadata block is exactly
// MetadataSize bytes, which is what lets the scan/read path seek a fixed
// offset to find the next record without having parsed this one yet.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, 0, paddedVarintWidth*2+2)
	buf = appendTag(buf, metadataFieldChecksum)
	buf = appendPaddedVarint(buf, int32ToWire(m.Checksum))
	buf = appendTag(buf, metadataFieldLength)
	buf = appendPaddedVarint(buf, int32ToWire(m.Length))
	return buf
}

// DecodeMetadata parses exactly MetadataSize bytes into a Metadata. It
// returns false if b is shorter than MetadataSize or the wire bytes don't
// match the expected field layout.
func DecodeMetadata(b []byte) (Metadata, bool) {
	if len(b) < MetadataSize {
		return Metadata{}, false
	}
	b = b[:MetadataSize]

	var m Metadata
	num, v, n, ok := consumeVarintField(b)
	if !ok || num != metadataFieldChecksum {
		return Metadata{}, false
	}
	m.Checksum = wireToInt32(v)
	b = b[n:]

	num, v, n, ok = consumeVarintField(b)
	if !ok || num != metadataFieldLength {
		return Metadata{}, false
	}
	m.Length = wireToInt32(v)
	b = b[n:]

	if len(b) != 0 {
		return Metadata{}, false
	}
	return m, true
}
