package broker

import (
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Partitioner != PartitionerMurmur2 {
		t.Fatalf("expected default partitioner murmur2, got %s", cfg.Partitioner)
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Fatalf("expected default dial timeout 5s, got %s", cfg.DialTimeout)
	}
	if cfg.MaxElapsed != 30*time.Second {
		t.Fatalf("expected default max elapsed 30s, got %s", cfg.MaxElapsed)
	}
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Partitioner: PartitionerCRC32,
		DialTimeout: time.Second,
		MaxElapsed:  time.Minute,
	}.WithDefaults()
	if cfg.Partitioner != PartitionerCRC32 {
		t.Fatalf("expected explicit partitioner to survive, got %s", cfg.Partitioner)
	}
	if cfg.DialTimeout != time.Second {
		t.Fatalf("expected explicit dial timeout to survive, got %s", cfg.DialTimeout)
	}
}

func TestBalancerSelection(t *testing.T) {
	murmur := Config{Partitioner: PartitionerMurmur2}.balancer()
	if _, ok := murmur.(saramaBalancer); !ok {
		t.Fatalf("expected saramaBalancer, got %T", murmur)
	}
	crc := Config{Partitioner: PartitionerCRC32}.balancer()
	if _, ok := crc.(saramaBalancer); !ok {
		t.Fatalf("expected saramaBalancer, got %T", crc)
	}
}
