// Package inputdg implements the fixed binary framing used by producers to
// submit messages to feederd over a local datagram transport.
//
// A datagram is a contiguous big-endian byte sequence: total size, API key,
// API version, flags, topic length + bytes, timestamp, key length + bytes,
// value length + bytes. The any-partition form (API key 256) is implemented
// in anypartition.go; the partition-key form (API key 257, one extra field)
// lives in the partitionkey subpackage and shares the helpers here so the two
// codecs can't drift out of sync on byte layout.
package inputdg

import "encoding/binary"

// Fixed field widths, in bytes. These never vary between codec versions.
const (
	SizeFieldSize       = 4
	APIKeyFieldSize     = 2
	APIVersionFieldSize = 2
	FlagsFieldSize      = 2
	TopicSzFieldSize    = 1
	TimestampFieldSize  = 8
	KeySzFieldSize      = 4
	ValueSzFieldSize    = 4
)

// APIVersion is the only version this daemon writes or reads.
const APIVersion = 0

// MaxTopicSize is the largest topic a 1-byte unsigned length field can hold.
const MaxTopicSize = 255

// MaxFieldSize is the largest key or value representable by a signed 32-bit
// length field, independent of any fixed-header overhead.
const MaxFieldSize = 1<<31 - 1

// PutUint16 writes a big-endian uint16 header field.
func PutUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// PutInt32 writes a big-endian, signed-but-non-negative int32 header field.
func PutInt32(b []byte, v int32) {
	binary.BigEndian.PutUint32(b, uint32(v))
}

// PutInt64 writes a big-endian int64 header field.
func PutInt64(b []byte, v int64) {
	binary.BigEndian.PutUint64(b, uint64(v))
}

// GetUint16 reads a big-endian uint16 header field.
func GetUint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// GetInt32 reads a big-endian int32 header field.
func GetInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}

// GetInt64 reads a big-endian int64 header field.
func GetInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
