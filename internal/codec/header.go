package codec

const (
	logHeaderFieldVersion        = 1
	logHeaderFieldVerifyChecksum = 2
)

// LogHeader is written once at byte 0 of every segment, preceded by its own
// Metadata block.
type LogHeader struct {
	Version        int32
	VerifyChecksum bool
}

// EncodeLogHeader serializes h as plain (non-padded) protobuf wire bytes.
// Unlike Metadata, the header's own length is carried by the preceding
// Metadata.Length field, so there is no need for a fixed width here.
func EncodeLogHeader(h LogHeader) []byte {
	buf := make([]byte, 0, 8)
	buf = appendVarintField(buf, logHeaderFieldVersion, int32ToWire(h.Version))
	verify := uint64(0)
	if h.VerifyChecksum {
		verify = 1
	}
	buf = appendVarintField(buf, logHeaderFieldVerifyChecksum, verify)
	return buf
}

func DecodeLogHeader(b []byte) (LogHeader, bool) {
	var h LogHeader
	for len(b) > 0 {
		num, v, n, ok := consumeVarintField(b)
		if !ok {
			return LogHeader{}, false
		}
		switch num {
		case logHeaderFieldVersion:
			h.Version = wireToInt32(v)
		case logHeaderFieldVerifyChecksum:
			h.VerifyChecksum = v != 0
		}
		b = b[n:]
	}
	return h, true
}
