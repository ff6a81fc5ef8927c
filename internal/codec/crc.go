package codec

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32cTable is the Castagnoli polynomial table used for record checksums.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumCRC32C returns the CRC-32C of b.
func ChecksumCRC32C(b []byte) int32 {
	return int32(crc32.Checksum(b, crc32cTable))
}

// ChecksumAddress returns the CRC-32C of the 8-byte big-endian encoding of
// addr, as required for a TrimEntry's Checksum field.
func ChecksumAddress(addr uint64) int32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], addr)
	return ChecksumCRC32C(buf[:])
}
