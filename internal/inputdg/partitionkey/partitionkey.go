// Package partitionkey implements the partition-key v0 datagram: structurally
// identical to the any-partition form in the parent inputdg package, with one
// extra fixed field — a signed 32-bit partition key — inserted after the
// flags field and before the topic length byte.
package partitionkey

import (
	"fmt"

	"github.com/influxdata/feederd/internal/inputdg"
)

// APIKeyPartitionKey identifies the partition-key v0 datagram on the wire.
const APIKeyPartitionKey = 257

const partitionKeyFieldSize = 4

const fixedHeaderSize = inputdg.SizeFieldSize + inputdg.APIKeyFieldSize +
	inputdg.APIVersionFieldSize + inputdg.FlagsFieldSize + partitionKeyFieldSize +
	inputdg.TopicSzFieldSize + inputdg.TimestampFieldSize + inputdg.KeySzFieldSize +
	inputdg.ValueSzFieldSize

const (
	MaxKeySize   = inputdg.MaxFieldSize - fixedHeaderSize
	MaxValueSize = inputdg.MaxFieldSize - fixedHeaderSize
)

// Decoded is the result of a successful Decode.
type Decoded struct {
	PartitionKey int32
	Timestamp    int64
	Topic        []byte
	Key          []byte
	Value        []byte
}

func clampSizes(topicSize, keySize, valueSize int, clamp bool) (int, int, int, error) {
	oversized := topicSize > inputdg.MaxTopicSize || keySize > MaxKeySize || valueSize > MaxValueSize
	if !oversized {
		return topicSize, keySize, valueSize, nil
	}
	if !clamp {
		return topicSize, keySize, valueSize, inputdg.ErrOversized
	}
	if topicSize > inputdg.MaxTopicSize {
		topicSize = inputdg.MaxTopicSize
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

// PredictSize returns the exact number of bytes a partition-key datagram
// with the given payload lengths will occupy.
func PredictSize(topicSize, keySize, valueSize int) int {
	topicSize, keySize, valueSize, _ = clampSizes(topicSize, keySize, valueSize, true)
	return dgSize(topicSize, keySize, valueSize)
}

// Encode writes a partition-key datagram into out, which must be exactly
// PredictSize(len(topic), len(key), len(value)) bytes.
func Encode(out []byte, partitionKey int32, timestamp int64, topic, key, value []byte, clamp bool) (int, error) {
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
	inputdg.PutInt32(out[pos:], int32(size))
	pos += inputdg.SizeFieldSize
	inputdg.PutUint16(out[pos:], APIKeyPartitionKey)
	pos += inputdg.APIKeyFieldSize
	inputdg.PutUint16(out[pos:], inputdg.APIVersion)
	pos += inputdg.APIVersionFieldSize
	inputdg.PutUint16(out[pos:], 0) // flags
	pos += inputdg.FlagsFieldSize
	inputdg.PutInt32(out[pos:], partitionKey)
	pos += partitionKeyFieldSize
	out[pos] = byte(topicSize)
	pos += inputdg.TopicSzFieldSize
	copy(out[pos:], topic)
	pos += topicSize
	inputdg.PutInt64(out[pos:], timestamp)
	pos += inputdg.TimestampFieldSize
	inputdg.PutInt32(out[pos:], int32(keySize))
	pos += inputdg.KeySzFieldSize
	copy(out[pos:], key)
	pos += keySize
	inputdg.PutInt32(out[pos:], int32(valueSize))
	pos += inputdg.ValueSzFieldSize
	copy(out[pos:], value)

	return size, nil
}

// Decode consumes exactly one partition-key v0 datagram starting at the
// beginning of in.
func Decode(in []byte) (Decoded, error) {
	if len(in) < inputdg.SizeFieldSize {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	totalSize := int(inputdg.GetInt32(in))
	if totalSize != len(in) {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}

	minHeader := inputdg.SizeFieldSize + inputdg.APIKeyFieldSize +
		inputdg.APIVersionFieldSize + inputdg.FlagsFieldSize + partitionKeyFieldSize +
		inputdg.TopicSzFieldSize
	if len(in) < minHeader {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}

	pos := inputdg.SizeFieldSize
	apiKey := inputdg.GetUint16(in[pos:])
	pos += inputdg.APIKeyFieldSize
	if apiKey != APIKeyPartitionKey {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	apiVersion := inputdg.GetUint16(in[pos:])
	pos += inputdg.APIVersionFieldSize
	if apiVersion != inputdg.APIVersion {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	pos += inputdg.FlagsFieldSize // flags, ignored

	partitionKey := inputdg.GetInt32(in[pos:])
	pos += partitionKeyFieldSize

	topicSize := int(in[pos])
	pos += inputdg.TopicSzFieldSize
	if len(in) < pos+topicSize+inputdg.TimestampFieldSize+inputdg.KeySzFieldSize {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	topic := in[pos : pos+topicSize]
	pos += topicSize

	timestamp := inputdg.GetInt64(in[pos:])
	pos += inputdg.TimestampFieldSize

	keySize := inputdg.GetInt32(in[pos:])
	pos += inputdg.KeySzFieldSize
	if keySize < 0 {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	if len(in) < pos+int(keySize)+inputdg.ValueSzFieldSize {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	key := in[pos : pos+int(keySize)]
	pos += int(keySize)

	valueSize := inputdg.GetInt32(in[pos:])
	pos += inputdg.ValueSzFieldSize
	if valueSize < 0 {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	if len(in) < pos+int(valueSize) {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}
	value := in[pos : pos+int(valueSize)]
	pos += int(valueSize)

	if pos != len(in) {
		return Decoded{}, inputdg.ErrMalformedDatagram
	}

	return Decoded{
		PartitionKey: partitionKey,
		Timestamp:    timestamp,
		Topic:        topic,
		Key:          key,
		Value:        value,
	}, nil
}
