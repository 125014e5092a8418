// Package config aggregates every component Config into the top-level
// structure the daemon loads at startup, in the shape of the teacher's
// server.Config: one TOML-tagged field per subsystem, a WithDefaults-style
// constructor, and environment-variable overrides applied after the file is
// parsed and before any CLI flag overrides.
package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/influxdata/feederd/internal/broker"
	"github.com/influxdata/feederd/internal/dispatch"
	"github.com/influxdata/feederd/internal/listener"
	"github.com/influxdata/feederd/internal/pool"
)

// EnvPrefix is the prefix every environment variable override must start
// with, mirroring the teacher's "KAPACITOR_"-prefixed convention.
const EnvPrefix = "FEEDERD"

// Config is the complete configuration for one feederd process.
type Config struct {
	Hostname string `toml:"hostname"`

	Pool     pool.Config       `toml:"pool"`
	Broker   broker.Config     `toml:"broker"`
	Dispatch dispatch.Config   `toml:"dispatch"`
	Inputs   []listener.Config `toml:"input" env-config:"implicit-index"`
}

// NewConfig returns a Config with every subsystem defaulted.
func NewConfig() *Config {
	return &Config{
		Hostname: "localhost",
		Pool:     pool.Config{}.WithDefaults(),
		Broker:   broker.Config{}.WithDefaults(),
		Dispatch: dispatch.Config{}.WithDefaults(),
		Inputs:   []listener.Config{{Topic: "default", SocketPath: "/tmp/feederd-default.sock"}.WithDefaults()},
	}
}

// WithDefaults fills in any zero-valued subsystem configs in place and
// returns c for chaining.
func (c *Config) WithDefaults() *Config {
	c.Pool = c.Pool.WithDefaults()
	c.Broker = c.Broker.WithDefaults()
	c.Dispatch = c.Dispatch.WithDefaults()
	for i := range c.Inputs {
		c.Inputs[i] = c.Inputs[i].WithDefaults()
	}
	return c
}

// Validate returns an error describing the first invalid field found, or
// nil if c is ready to run.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("must configure a valid hostname")
	}
	if len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("must configure at least one broker address")
	}
	if len(c.Inputs) == 0 {
		return fmt.Errorf("must configure at least one input")
	}
	seen := make(map[string]bool, len(c.Inputs))
	for _, in := range c.Inputs {
		if in.Topic == "" {
			return fmt.Errorf("input socket %q must name a topic", in.SocketPath)
		}
		if seen[in.Topic] {
			return fmt.Errorf("duplicate input topic %q", in.Topic)
		}
		seen[in.Topic] = true
	}
	return nil
}

// ApplyEnvOverrides walks c's fields and, for every leaf field with a
// non-empty environment variable named FEEDERD_<PATH>, overwrites that
// field with the parsed value. Struct nesting is joined with underscores,
// following the teacher's server.Config.ApplyEnvOverrides convention.
func (c *Config) ApplyEnvOverrides() error {
	return applyEnvOverrides(EnvPrefix, reflect.ValueOf(c))
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func applyEnvOverrides(prefix string, spec reflect.Value) error {
	s := spec
	if spec.Kind() == reflect.Ptr {
		s = spec.Elem()
	}

	if s.Kind() == reflect.Struct {
		if addr := addressable(s); addr.IsValid() && addr.Type().Implements(textUnmarshalerType) {
			return applyScalarEnv(prefix, s, addr)
		}
		return applyEnvOverridesToStruct(prefix, s)
	}

	return applyScalarEnv(prefix, s, addressable(s))
}

func addressable(s reflect.Value) reflect.Value {
	if s.CanAddr() {
		return s.Addr()
	}
	return reflect.Value{}
}

func applyScalarEnv(prefix string, s reflect.Value, addr reflect.Value) error {
	value := os.Getenv(prefix)
	if value == "" {
		return nil
	}

	if addr.IsValid() {
		if um, ok := addr.Interface().(encoding.TextUnmarshaler); ok {
			if err := um.UnmarshalText([]byte(value)); err != nil {
				return errors.Wrapf(err, "failed to apply %s", prefix)
			}
			return nil
		}
	}

	switch s.Kind() {
	case reflect.String:
		s.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s.Type() == reflect.TypeOf(time.Duration(0)) {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("failed to apply %s using type %s and value %q", prefix, s.Type(), value)
			}
			s.SetInt(int64(dur))
			return nil
		}
		intValue, err := strconv.ParseInt(value, 0, s.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to apply %s using type %s and value %q", prefix, s.Type(), value)
		}
		s.SetInt(intValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("failed to apply %s using type %s and value %q", prefix, s.Type(), value)
		}
		s.SetBool(boolValue)
	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, s.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to apply %s using type %s and value %q", prefix, s.Type(), value)
		}
		s.SetFloat(floatValue)
	}
	return nil
}

func applyEnvOverridesToStruct(prefix string, s reflect.Value) error {
	t := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if !f.CanSet() {
			continue
		}
		fieldType := t.Field(i)
		name := fieldType.Tag.Get("toml")
		if name == "" || name == "-" {
			name = fieldType.Name
		}
		name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		fieldPrefix := prefix + "_" + name

		switch f.Kind() {
		case reflect.Slice:
			for j := 0; j < f.Len(); j++ {
				if err := applyEnvOverrides(fmt.Sprintf("%s_%d", fieldPrefix, j), f.Index(j)); err != nil {
					return err
				}
			}
		case reflect.Struct:
			if err := applyEnvOverrides(fieldPrefix, f); err != nil {
				return err
			}
		default:
			if err := applyScalarEnv(fieldPrefix, f, addressable(f)); err != nil {
				return err
			}
		}
	}
	return nil
}
