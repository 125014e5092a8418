package inputdg

import "fmt"

// APIKeyAnyPartition identifies the any-partition v0 datagram on the wire.
const APIKeyAnyPartition = 256

// fixedHeaderSize is every field except the variable topic/key/value
// payloads: size, api key, api version, flags, topic-len, timestamp,
// key-len, value-len.
const fixedHeaderSize = SizeFieldSize + APIKeyFieldSize + APIVersionFieldSize +
	FlagsFieldSize + TopicSzFieldSize + TimestampFieldSize + KeySzFieldSize +
	ValueSzFieldSize

// MaxKeySize and MaxValueSize are the largest key/value payloads that still
// fit a total datagram representable by the signed 32-bit size field.
const (
	MaxKeySize   = MaxFieldSize - fixedHeaderSize
	MaxValueSize = MaxFieldSize - fixedHeaderSize
)

// Decoded is the result of a successful Decode: slices reference (do not
// own) the input buffer.
type Decoded struct {
	Timestamp int64
	Topic     []byte
	Key       []byte
	Value     []byte
}

func clampSizes(topicSize, keySize, valueSize int, clamp bool) (int, int, int, error) {
	oversized := topicSize > MaxTopicSize || keySize > MaxKeySize || valueSize > MaxValueSize
	if !oversized {
		return topicSize, keySize, valueSize, nil
	}
	if !clamp {
		return topicSize, keySize, valueSize, ErrOversized
	}
	if topicSize > MaxTopicSize {
		topicSize = MaxTopicSize
	}
	if keySize > MaxKeySize {
		keySize = MaxKeySize
	}
	if valueSize > MaxValueSize {
		valueSize = MaxValueSize
	}
	return topicSize, keySize, valueSize, nil
}

func dgSize(topicSize, keySize, valueSize int) int {
	return fixedHeaderSize + topicSize + keySize + valueSize
}

// PredictSize returns the exact number of bytes a datagram with the given
// payload lengths will occupy. Lengths that exceed the limits in this
// package are clamped to the maximum; the caller sees the clamped size.
func PredictSize(topicSize, keySize, valueSize int) int {
	topicSize, keySize, valueSize, _ = clampSizes(topicSize, keySize, valueSize, true)
	return dgSize(topicSize, keySize, valueSize)
}

// Encode writes a datagram into out, which must be exactly
// PredictSize(len(topic), len(key), len(value)) bytes. topic must not be
// nil; key and value may be nil or empty. clamp controls whether oversized
// inputs are silently truncated (true) or rejected with ErrOversized
// (false) — the default for production callers should be false, since the
// condition indicates a programmer error upstream, not untrusted input.
func Encode(out []byte, timestamp int64, topic, key, value []byte, clamp bool) (int, error) {
	topicSize, keySize, valueSize, err := clampSizes(len(topic), len(key), len(value), clamp)
	if err != nil {
		return 0, err
	}
	if topicSize < len(topic) {
		topic = topic[:topicSize]
	}
	if keySize < len(key) {
		key = key[:keySize]
	}
	if valueSize < len(value) {
		value = value[:valueSize]
	}

	size := dgSize(topicSize, keySize, valueSize)
	if len(out) != size {
		return 0, fmt.Errorf("encode buffer must be exactly %d bytes, got %d", size, len(out))
	}

	pos := 0
	PutInt32(out[pos:], int32(size))
	pos += SizeFieldSize
	PutUint16(out[pos:], APIKeyAnyPartition)
	pos += APIKeyFieldSize
	PutUint16(out[pos:], APIVersion)
	pos += APIVersionFieldSize
	PutUint16(out[pos:], 0) // flags
	pos += FlagsFieldSize
	out[pos] = byte(topicSize)
	pos += TopicSzFieldSize
	copy(out[pos:], topic)
	pos += topicSize
	PutInt64(out[pos:], timestamp)
	pos += TimestampFieldSize
	PutInt32(out[pos:], int32(keySize))
	pos += KeySzFieldSize
	copy(out[pos:], key)
	pos += keySize
	PutInt32(out[pos:], int32(valueSize))
	pos += ValueSzFieldSize
	copy(out[pos:], value)

	return size, nil
}

// Decode consumes exactly one any-partition v0 datagram starting at the
// beginning of in. Returned slices reference in; the caller must not mutate
// in while the Decoded is in use if it intends to keep referencing it.
func Decode(in []byte) (Decoded, error) {
	if len(in) < SizeFieldSize {
		return Decoded{}, reject("buffer shorter than size field")
	}
	totalSize := int(GetInt32(in))
	if totalSize != len(in) {
		return Decoded{}, reject("declared size does not match buffer length")
	}

	minHeader := SizeFieldSize + APIKeyFieldSize + APIVersionFieldSize +
		FlagsFieldSize + TopicSzFieldSize
	if len(in) < minHeader {
		return Decoded{}, reject("buffer shorter than fixed header")
	}

	pos := SizeFieldSize
	apiKey := GetUint16(in[pos:])
	pos += APIKeyFieldSize
	if apiKey != APIKeyAnyPartition {
		return Decoded{}, reject("unexpected API key")
	}
	apiVersion := GetUint16(in[pos:])
	pos += APIVersionFieldSize
	if apiVersion != APIVersion {
		return Decoded{}, reject("unexpected API version")
	}
	pos += FlagsFieldSize // flags, ignored

	topicSize := int(in[pos])
	pos += TopicSzFieldSize
	if len(in) < pos+topicSize+TimestampFieldSize+KeySzFieldSize {
		return Decoded{}, reject("buffer too short for declared topic length")
	}
	topic := in[pos : pos+topicSize]
	pos += topicSize

	timestamp := GetInt64(in[pos:])
	pos += TimestampFieldSize

	keySize := GetInt32(in[pos:])
	pos += KeySzFieldSize
	if keySize < 0 {
		return Decoded{}, reject("negative key length")
	}
	if len(in) < pos+int(keySize)+ValueSzFieldSize {
		return Decoded{}, reject("buffer too short for declared key length")
	}
	key := in[pos : pos+int(keySize)]
	pos += int(keySize)

	valueSize := GetInt32(in[pos:])
	pos += ValueSzFieldSize
	if valueSize < 0 {
		return Decoded{}, reject("negative value length")
	}
	if len(in) < pos+int(valueSize) {
		return Decoded{}, reject("buffer too short for declared value length")
	}
	value := in[pos : pos+int(valueSize)]
	pos += int(valueSize)

	if pos != len(in) {
		return Decoded{}, reject("trailing bytes after declared fields")
	}

	return Decoded{
		Timestamp: timestamp,
		Topic:     topic,
		Key:       key,
		Value:     value,
	}, nil
}

