package broker

import (
	"reflect"
	"testing"

	"github.com/Shopify/sarama"
)

// TestPartitionRandomness checks the nil-key path spreads roughly evenly
// across partitions rather than silently collapsing to partition 0.
func TestPartitionRandomness(t *testing.T) {
	partitioners := []sarama.Partitioner{
		newCRCPartitioner(),
		newMurmur2(),
	}
	for _, p := range partitioners {
		msg := sarama.ProducerMessage{Key: nil}
		t.Run(reflect.TypeOf(p).Elem().Name(), func(t *testing.T) {
			sum := 0
			for i := 0; i < 1000; i++ {
				n, err := p.Partition(&msg, 10)
				if err != nil {
					t.Fatal(err)
				}
				sum += int(n)
			}
			avg := float64(sum) / 1000.0
			if avg >= 5.5 || avg <= 3.5 {
				t.Errorf("expected roughly uniform spread over 0-9, got average %f", avg)
			}
		})
	}
}

func TestMurmur2Hash(t *testing.T) {
	tests := []struct {
		data string
		want uint32
	}{
		{data: "21", want: uint32(-973932308)},
		{data: "foobar", want: uint32(-790332482)},
		{data: "a-little-bit-long-string", want: uint32(-985981536)},
		{data: "a-little-bit-longer-string", want: uint32(-1486304829)},
		{data: "lkjh234lh9fiuh90y23oiuhsafujhadof229phr9h19h89h8", want: uint32(-58897971)},
		{data: "abc", want: uint32(479470107)},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			if got := murmur2Hash([]byte(tt.data)); got != tt.want {
				t.Errorf("murmur2Hash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashPartitioners(t *testing.T) {
	tests := []struct {
		key           string
		numPartitions int32
		want          int32
		wantErr       bool
		partitioner   sarama.Partitioner
	}{
		{key: "hello", numPartitions: 1000, want: 870, partitioner: newCRCPartitioner()},
		{key: "hello", numPartitions: 0, want: 0, wantErr: true, partitioner: newCRCPartitioner()},
		{key: "hello2", numPartitions: 1000, want: 502, partitioner: newCRCPartitioner()},
		{key: "hello5", numPartitions: 1, want: 0, partitioner: newCRCPartitioner()},

		{key: "hello", numPartitions: 1000, want: 229, partitioner: newMurmur2()},
		{key: "hello", numPartitions: 0, want: 0, wantErr: true, partitioner: newMurmur2()},
		{key: "hello2", numPartitions: 1000, want: 907, partitioner: newMurmur2()},
		{key: "", numPartitions: 1000, want: 681, partitioner: newMurmur2()},
		{key: "hello5", numPartitions: 1, want: 0, partitioner: newMurmur2()},
	}
	for _, tt := range tests {
		t.Run(reflect.TypeOf(tt.partitioner).Elem().Name()+"/"+tt.key, func(t *testing.T) {
			msg := sarama.ProducerMessage{Key: sarama.ByteEncoder(tt.key)}
			got, err := tt.partitioner.Partition(&msg, tt.numPartitions)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Partition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Partition() got = %v, want %v", got, tt.want)
			}
			if !tt.partitioner.RequiresConsistency() {
				t.Errorf("hash partitioners should always require consistency")
			}
		})
	}
}
