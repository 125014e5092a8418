package broker

import (
	"errors"
	"hash/crc32"
	"math/rand"
	"time"

	"github.com/Shopify/sarama"
	kafka "github.com/segmentio/kafka-go"
)

var errNonPositivePartitions = errors.New("number of partitions must be positive")

// saramaBalancer adapts a sarama.Partitioner — sarama's compatibility type,
// not a live sarama producer — to kafka-go's kafka.Balancer interface, so
// the writer can keep the exact partition-assignment behavior older
// consumers of this daemon's output already depend on.
type saramaBalancer struct {
	p sarama.Partitioner
}

func (b saramaBalancer) Balance(msg kafka.Message, partitions ...int) int {
	numPartitions := int32(len(partitions))
	pm := &sarama.ProducerMessage{Key: sarama.ByteEncoder(msg.Key)}
	partition, err := b.p.Partition(pm, numPartitions)
	if err != nil || int(partition) >= len(partitions) || partition < 0 {
		return partitions[0]
	}
	return partitions[partition]
}

// NewMurmur2Balancer returns a balancer using the murmur2 hash, matching the
// partition assignment of older Java/librdkafka producers.
func NewMurmur2Balancer() kafka.Balancer {
	return saramaBalancer{p: newMurmur2()}
}

// NewCRC32Balancer returns a balancer using crc32, matching the partition
// assignment librdkafka's crc32 partitioner produces.
func NewCRC32Balancer() kafka.Balancer {
	return saramaBalancer{p: newCRCPartitioner()}
}

func newMurmur2() sarama.Partitioner {
	return (*murmur2)(rand.New(rand.NewSource(time.Now().UTC().UnixNano())))
}

func newCRCPartitioner() sarama.Partitioner {
	return (*crcPartitioner)(rand.New(rand.NewSource(time.Now().UTC().UnixNano())))
}

// murmur2 is a sarama.Partitioner using the murmur2 balance function from
// github.com/segmentio/kafka-go, used here only for its key-to-partition
// math so client.go can keep using kafka-go's Writer directly.
type murmur2 rand.Rand

func (b *murmur2) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if numPartitions == 0 {
		return 0, errNonPositivePartitions
	}
	if msg.Key == nil {
		return (*rand.Rand)(b).Int31n(numPartitions), nil
	}
	key, err := msg.Key.Encode()
	if err != nil {
		return 0, err
	}
	return int32((murmur2Hash(key) & 0x7fffffff) % uint32(numPartitions)), nil
}

func (*murmur2) RequiresConsistency() bool { return true }

// murmur2Hash is a go port of the Java client library's murmur2 function,
// https://github.com/apache/kafka/blob/1.0/clients/src/main/java/org/apache/kafka/common/utils/Utils.java#L353
func murmur2Hash(data []byte) uint32 {
	length := len(data)
	const (
		seed uint32 = 0x9747b28c
		m           = 0x5bd1e995
		r           = 24
	)

	h := seed ^ uint32(length)
	length4 := length / 4

	for i := 0; i < length4; i++ {
		i4 := i * 4
		k := (uint32(data[i4+0]) & 0xff) + ((uint32(data[i4+1]) & 0xff) << 8) + ((uint32(data[i4+2]) & 0xff) << 16) + ((uint32(data[i4+3]) & 0xff) << 24)
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
	}

	extra := length % 4
	if extra >= 3 {
		h ^= (uint32(data[(length & ^3)+2]) & 0xff) << 16
	}
	if extra >= 2 {
		h ^= (uint32(data[(length & ^3)+1]) & 0xff) << 8
	}
	if extra >= 1 {
		h ^= uint32(data[length & ^3]) & 0xff
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15

	return h
}

// crcPartitioner matches librdkafka's crc32 partitioner, which distributes
// hash results differently than sarama's own NewCustomHashPartitioner(crc32.NewIEEE).
type crcPartitioner rand.Rand

func (b *crcPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if numPartitions == 0 {
		return 0, errNonPositivePartitions
	}
	if msg.Key == nil || msg.Key.Length() == 0 {
		return (*rand.Rand)(b).Int31n(numPartitions), nil
	}
	key, err := msg.Key.Encode()
	if err != nil {
		return 0, err
	}
	return int32((crc32.ChecksumIEEE(key) % uint32(numPartitions)) & 0x7fffffff), nil
}

func (*crcPartitioner) RequiresConsistency() bool { return true }
