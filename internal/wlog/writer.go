// Package wlog provides an io.Writer that filters log messages based on a
// log level and collapses a line that repeats verbatim in a short window:
// every call site writes a line prefixed with "D!", "I!", "W!" or "E!", a
// single process-wide level decides which of those prefixes actually reach
// the underlying writer, and a site-keyed rate limiter (the same one
// internal/ratelimit gives the anomaly tracker) drops repeats of a line
// that already passed recently, so one misbehaving producer can't flood the
// log with the same error once per datagram.
package wlog

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/influxdata/feederd/internal/clock"
	"github.com/influxdata/feederd/internal/ratelimit"
)

type Level int

const (
	_ Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	OFF
)

const Delimeter = '!'

var invalidMSG = []byte("log messages must have 'L!' prefix where L is one of 'D', 'I', 'W', 'E'")

var Levels = map[byte]Level{
	'D': DEBUG,
	'I': INFO,
	'W': WARN,
	'E': ERROR,
}
var ReverseLevels map[Level]byte

func init() {
	ReverseLevels = make(map[Level]byte, len(Levels))
	for k, l := range Levels {
		ReverseLevels[l] = k
	}
}

// LogLevel is the global and only log level; it is not implemented per writer.
var LogLevel = INFO

var levels = map[string]Level{
	"DEBUG": DEBUG,
	"INFO":  INFO,
	"WARN":  WARN,
	"ERROR": ERROR,
	"OFF":   OFF,
}

// SetLevel sets the log level via a string name. To set it directly use LogLevel.
func SetLevel(level string) error {
	l := levels[strings.ToUpper(level)]
	if l > 0 {
		LogLevel = l
	} else {
		return fmt.Errorf("invalid log level: %q", level)
	}
	return nil
}

// DefaultRepeatInterval bounds how often the exact same line, at the same
// level, is allowed through a Writer built with NewWriter.
const DefaultRepeatInterval = 5 * time.Second

// Writer implements io.Writer. It checks the first byte of a write for a
// log level, drops the write if that level is below LogLevel, and otherwise
// asks its limiter whether this exact line may pass, using the line itself
// (level byte onward) as the rate limiter's site key.
type Writer struct {
	start   int
	w       io.Writer
	limiter *ratelimit.Limiter
}

// New returns a *log.Logger that writes through a level-filtering,
// repeat-collapsing Writer using DefaultRepeatInterval.
func New(w io.Writer, prefix string, flag int) *log.Logger {
	return log.New(NewWriter(w), prefix, flag)
}

// NewWriter returns a Writer that collapses identical repeated lines no
// more often than once per DefaultRepeatInterval, paced by the wall clock.
func NewWriter(w io.Writer) *Writer {
	return NewRateLimitedWriter(w, ratelimit.New(DefaultRepeatInterval, clock.Wall()))
}

// NewRateLimitedWriter returns a Writer paced by limiter instead of the
// package default, so callers (and tests) can supply their own interval and
// clock.
func NewRateLimitedWriter(w io.Writer, limiter *ratelimit.Limiter) *Writer {
	return &Writer{start: -1, w: w, limiter: limiter}
}

func (w *Writer) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if w.start == -1 {
		for i, c := range buf {
			if c == Delimeter && i > 0 {
				l := buf[i-1]
				if Levels[l] > 0 {
					w.start = i - 1
					break
				}
			}
		}
		if w.start == -1 {
			return w.w.Write(append(invalidMSG, buf...))
		}
	}

	l := Levels[buf[w.start]]
	if l == 0 {
		return w.w.Write(append(invalidMSG, buf...))
	}
	if l < LogLevel {
		return 0, nil
	}
	if !w.limiter.Allow(string(buf[w.start:])) {
		return len(buf), nil
	}
	return w.w.Write(buf)
}

// StaticLevelWriter stamps every write with a fixed level prefix, for
// components that always log at one level regardless of message content.
type StaticLevelWriter struct {
	levelPrefix []byte
	w           io.Writer
}

func NewStaticLevelWriter(w io.Writer, level Level) *StaticLevelWriter {
	levelPrefix := []byte{ReverseLevels[level], '!', ' '}
	return &StaticLevelWriter{
		levelPrefix: levelPrefix,
		w:           w,
	}
}

func (w *StaticLevelWriter) Write(buf []byte) (int, error) {
	buf = append(w.levelPrefix, buf...)
	return w.w.Write(buf)
}
