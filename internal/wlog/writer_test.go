package wlog

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/influxdata/feederd/internal/clock"
	"github.com/influxdata/feederd/internal/ratelimit"
)

func newTestWriter(buf *bytes.Buffer, start time.Time) *Writer {
	limiter := ratelimit.New(DefaultRepeatInterval, clock.Mock(start))
	return NewRateLimitedWriter(buf, limiter)
}

func TestWriterFiltersBelowLevel(t *testing.T) {
	orig := LogLevel
	defer func() { LogLevel = orig }()
	LogLevel = WARN

	var buf bytes.Buffer
	logger := log.New(newTestWriter(&buf, time.Unix(0, 0)), "", 0)

	logger.Print("D! should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected debug line to be dropped, got %q", buf.String())
	}

	logger.Print("E! should pass")
	if !bytes.Contains(buf.Bytes(), []byte("should pass")) {
		t.Fatalf("expected error line to pass, got %q", buf.String())
	}
}

func TestWriterPassesAtOrAboveLevel(t *testing.T) {
	orig := LogLevel
	defer func() { LogLevel = orig }()
	LogLevel = INFO

	var buf bytes.Buffer
	logger := log.New(newTestWriter(&buf, time.Unix(0, 0)), "", 0)
	logger.Print("I! informational")

	if !bytes.Contains(buf.Bytes(), []byte("informational")) {
		t.Fatalf("expected info line to pass at INFO level, got %q", buf.String())
	}
}

func TestWriterFlagsInvalidPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(newTestWriter(&buf, time.Unix(0, 0)), "", 0)
	logger.Print("no level prefix here")

	if !bytes.Contains(buf.Bytes(), invalidMSG) {
		t.Fatalf("expected invalid-prefix marker, got %q", buf.String())
	}
}

func TestWriterCollapsesRepeatedLineWithinInterval(t *testing.T) {
	orig := LogLevel
	defer func() { LogLevel = orig }()
	LogLevel = INFO

	var buf bytes.Buffer
	start := time.Unix(0, 0)
	mc := clock.Mock(start)
	w := NewRateLimitedWriter(&buf, ratelimit.New(DefaultRepeatInterval, mc))
	logger := log.New(w, "", 0)

	logger.Print("E! disk full")
	first := buf.Len()
	if first == 0 {
		t.Fatal("expected first occurrence to pass")
	}

	logger.Print("E! disk full")
	if buf.Len() != first {
		t.Fatalf("expected repeated line within the interval to be dropped, buffer grew to %q", buf.String())
	}

	mc.Set(start.Add(2 * DefaultRepeatInterval))
	logger.Print("E! disk full")
	if buf.Len() == first {
		t.Fatal("expected line to pass again once the repeat interval has elapsed")
	}
}

func TestWriterDistinctLinesNeverCollapse(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(newTestWriter(&buf, time.Unix(0, 0)), "", 0)

	logger.Print("E! first failure")
	logger.Print("E! second failure")

	if !bytes.Contains(buf.Bytes(), []byte("first failure")) || !bytes.Contains(buf.Bytes(), []byte("second failure")) {
		t.Fatalf("expected both distinct lines to pass, got %q", buf.String())
	}
}
