// Package codec implements the on-disk framing for the log: the fixed-width
// Metadata block, the LogHeader written once per segment, the LogEntry
// envelope and the TrimEntry sidecar records. Every structured message is
// encoded as protobuf wire bytes via protowire, so the format is a valid
// (if hand-rolled) protobuf wire stream without needing a generated
// .pb.go file.
package codec

import "google.golang.org/protobuf/encoding/protowire"

// paddedVarintWidth is the number of bytes a padded varint always occupies.
// 10 bytes covers the worst case for a 64-bit sign-extended value, which is
// what a negative int32 protobuf field produces.
const paddedVarintWidth = 10

// appendPaddedVarint appends v as an overlong varint
// that always takes paddedVarintWidth bytes, regardless of v's magnitude.
// This is what lets Metadata have a single fixed byte width (METADATA_SIZE)
// even though the checksum/length values it carries vary per record:
// continuation bits are set on every byte but the last, so trailing groups
// that carry no value bits are simply zero.
func appendPaddedVarint(dst []byte, v uint64) []byte {
	for i := 0; i < paddedVarintWidth-1; i++ {
		dst = append(dst, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(dst, byte(v&0x7f))
}

// int32ToWire sign-extends a protobuf int32 field to the 64-bit varint
// payload the wire format actually carries.
func int32ToWire(v int32) uint64 {
	return uint64(int64(v))
}

// wireToInt32 reverses int32ToWire, truncating back to the original value.
func wireToInt32(v uint64) int32 {
	return int32(int64(v))
}

func appendTag(dst []byte, field protowire.Number) []byte {
	return protowire.AppendTag(dst, field, protowire.VarintType)
}

func appendBytesField(dst []byte, field protowire.Number, v []byte) []byte {
	dst = protowire.AppendTag(dst, field, protowire.BytesType)
	return protowire.AppendBytes(dst, v)
}

func appendVarintField(dst []byte, field protowire.Number, v uint64) []byte {
	dst = appendTag(dst, field)
	return protowire.AppendVarint(dst, v)
}

// consumeVarintField reads a (tag, varint) pair and returns the decoded
// value, the field number found, and the number of bytes consumed.
func consumeVarintField(b []byte) (num protowire.Number, val uint64, n int, ok bool) {
	num, typ, tn := protowire.ConsumeTag(b)
	if tn < 0 || typ != protowire.VarintType {
		return 0, 0, 0, false
	}
	v, vn := protowire.ConsumeVarint(b[tn:])
	if vn < 0 {
		return 0, 0, 0, false
	}
	return num, v, tn + vn, true
}

func consumeBytesField(b []byte) (num protowire.Number, val []byte, n int, ok bool) {
	num, typ, tn := protowire.ConsumeTag(b)
	if tn < 0 || typ != protowire.BytesType {
		return 0, nil, 0, false
	}
	v, vn := protowire.ConsumeBytes(b[tn:])
	if vn < 0 {
		return 0, nil, 0, false
	}
	return num, v, tn + vn, true
}
