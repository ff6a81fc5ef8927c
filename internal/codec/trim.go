package codec

import "google.golang.org/protobuf/encoding/protowire"

const (
	trimEntryFieldChecksum = 1
	trimEntryFieldAddress  = 2
)

// TrimEntry is appended to a segment's .trimmed and .pending sidecars.
// Checksum is the CRC-32C of the 8-byte big-endian encoding of Address.
type TrimEntry struct {
	Checksum int32
	Address  uint64
}

func encodeTrimEntryPayload(e TrimEntry) []byte {
	buf := make([]byte, 0, 16)
	buf = appendVarintField(buf, trimEntryFieldChecksum, int32ToWire(e.Checksum))
	buf = appendVarintField(buf, trimEntryFieldAddress, e.Address)
	return buf
}

func decodeTrimEntryPayload(b []byte) (TrimEntry, bool) {
	var e TrimEntry
	for len(b) > 0 {
		num, v, n, ok := consumeVarintField(b)
		if !ok {
			return TrimEntry{}, false
		}
		switch num {
		case trimEntryFieldChecksum:
			e.Checksum = wireToInt32(v)
		case trimEntryFieldAddress:
			e.Address = v
		}
		b = b[n:]
	}
	return e, true
}

// EncodeTrimEntry frames e as a length-delimited sidecar record: a varint
// byte length followed by the TrimEntry's wire bytes. Sidecars are a flat
// sequence of these records with no outer header.
func EncodeTrimEntry(e TrimEntry) []byte {
	payload := encodeTrimEntryPayload(e)
	return protowire.AppendBytes(nil, payload)
}

// DecodeTrimEntry consumes one length-delimited TrimEntry record from the
// front of b, returning the entry and the number of bytes consumed. It
// returns ok=false if b does not begin with a complete, well-formed record
// (including the case where b is empty).
func DecodeTrimEntry(b []byte) (e TrimEntry, n int, ok bool) {
	payload, consumed := protowire.ConsumeBytes(b)
	if consumed < 0 {
		return TrimEntry{}, 0, false
	}
	e, ok = decodeTrimEntryPayload(payload)
	if !ok {
		return TrimEntry{}, 0, false
	}
	return e, consumed, true
}
