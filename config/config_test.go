package config_test

import (
	"os"
	"testing"

	"github.com/BurntSushi/toml"

	"github.com/influxdata/feederd/config"
)

func TestConfigParse(t *testing.T) {
	var c config.Config
	if _, err := toml.Decode(`
hostname = "feeder-1"

[broker]
brokers = ["localhost:9092"]

[[input]]
topic = "orders"
socket-path = "/tmp/orders.sock"
`, &c); err != nil {
		t.Fatal(err)
	}

	if c.Hostname != "feeder-1" {
		t.Fatalf("unexpected hostname: %s", c.Hostname)
	}
	if len(c.Broker.Brokers) != 1 || c.Broker.Brokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers: %v", c.Broker.Brokers)
	}
	if len(c.Inputs) != 1 || c.Inputs[0].Topic != "orders" {
		t.Fatalf("unexpected inputs: %+v", c.Inputs)
	}
}

func TestConfigWithDefaultsFillsSubsystems(t *testing.T) {
	c := &config.Config{}
	c.WithDefaults()

	if c.Pool.Capacity == 0 {
		t.Fatal("expected pool capacity to be defaulted")
	}
	if c.Dispatch.Workers == 0 {
		t.Fatal("expected dispatch workers to be defaulted")
	}
	if c.Broker.Partitioner == "" {
		t.Fatal("expected broker partitioner to be defaulted")
	}
}

func TestConfigValidateRejectsMissingBroker(t *testing.T) {
	c := config.NewConfig()
	c.Broker.Brokers = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for missing broker addresses")
	}
}

func TestConfigValidateRejectsDuplicateTopics(t *testing.T) {
	c := config.NewConfig()
	c.Broker.Brokers = []string{"localhost:9092"}
	c.Inputs = append(c.Inputs, c.Inputs[0])
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate input topics")
	}
}

func TestConfigParseEnvOverride(t *testing.T) {
	var c config.Config
	if _, err := toml.Decode(`
hostname = "feeder-1"

[broker]
brokers = ["localhost:9092"]

[dispatch]
workers = 4

[[input]]
topic = "orders"
socket-path = "/tmp/orders.sock"
`, &c); err != nil {
		t.Fatal(err)
	}

	if err := os.Setenv("FEEDERD_HOSTNAME", "feeder-2"); err != nil {
		t.Fatalf("failed to set env var: %v", err)
	}
	defer os.Unsetenv("FEEDERD_HOSTNAME")

	if err := os.Setenv("FEEDERD_DISPATCH_WORKERS", "8"); err != nil {
		t.Fatalf("failed to set env var: %v", err)
	}
	defer os.Unsetenv("FEEDERD_DISPATCH_WORKERS")

	if err := c.ApplyEnvOverrides(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Hostname != "feeder-2" {
		t.Fatalf("expected hostname override, got %s", c.Hostname)
	}
	if c.Dispatch.Workers != 8 {
		t.Fatalf("expected dispatch workers override, got %d", c.Dispatch.Workers)
	}
}
