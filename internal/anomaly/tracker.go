// Package anomaly implements the concrete sink the codec and message
// factories report into: malformed-datagram and discard-no-memory events.
// The original fragment treats this as an external collaborator referenced
// only by contract ("record_malformed(bytes)", "record_discard_no_mem(...)");
// this package supplies a minimal, concrete implementation so the core is
// runnable end to end.
package anomaly

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/influxdata/feederd/internal/clock"
	"github.com/influxdata/feederd/internal/ratelimit"
	"github.com/influxdata/feederd/internal/ring"
	"github.com/influxdata/feederd/internal/uuid"
)

// Kind discriminates an anomaly Event.
type Kind int

const (
	MalformedDatagram Kind = iota
	DiscardNoMemory
)

func (k Kind) String() string {
	switch k {
	case MalformedDatagram:
		return "malformed_datagram"
	case DiscardNoMemory:
		return "discard_no_memory"
	default:
		return "unknown"
	}
}

// Event is one recorded anomaly, kept around in the tracker's ring for
// operator inspection.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Timestamp int64
	Topic     string
	Size      int
	Reason    string
	At        time.Time
}

// DefaultRingCapacity is the default number of recent events kept for
// inspection.
const DefaultRingCapacity = 256

// DefaultLogInterval is the minimum spacing between log lines emitted for
// the same anomaly kind.
const DefaultLogInterval = 30 * time.Second

// Tracker records malformed-input and discard-no-memory events. It never
// blocks a caller and never allocates from the message pool itself.
type Tracker struct {
	malformedCount int64
	discardCount   int64

	ring    *ring.Buffer[Event]
	limiter *ratelimit.Limiter
	logger  *log.Logger
	clock   clock.Clock
}

// New returns a Tracker backed by logger for rate-limited diagnostics and
// limiter for pacing them. ringCapacity bounds how many recent events are
// retained for the Snapshot view. c stamps every recorded Event's At field;
// pass clock.Wall() in production and a clock.Mock in tests.
func New(logger *log.Logger, limiter *ratelimit.Limiter, c clock.Clock, ringCapacity int) *Tracker {
	if ringCapacity < 1 {
		ringCapacity = DefaultRingCapacity
	}
	return &Tracker{
		ring:    ring.New[Event](ringCapacity),
		limiter: limiter,
		logger:  logger,
		clock:   c,
	}
}

// RecordMalformed records that a datagram failed to decode. raw is kept
// only for its length; the bytes themselves are never retained, since
// untrusted payloads shouldn't pin arbitrary memory in an anomaly log.
func (t *Tracker) RecordMalformed(raw []byte, reason string) {
	atomic.AddInt64(&t.malformedCount, 1)
	id := uuid.New()
	t.ring.Push(Event{
		ID:     id,
		Kind:   MalformedDatagram,
		Size:   len(raw),
		Reason: reason,
		At:     t.clock.Now(),
	})
	if t.limiter.Allow("anomaly.malformed") {
		t.logger.Printf("E! [%s] malformed datagram discarded: %d bytes, %s", id.Short(), len(raw), reason)
	}
}

// DiscardNoMemory records that a message could not be created because the
// pool denied its reservation. It satisfies msg.AnomalyTracker.
func (t *Tracker) DiscardNoMemory(timestamp int64, topic string, key, value []byte) {
	atomic.AddInt64(&t.discardCount, 1)
	id := uuid.New()
	t.ring.Push(Event{
		ID:        id,
		Kind:      DiscardNoMemory,
		Timestamp: timestamp,
		Topic:     topic,
		Size:      len(topic) + len(key) + len(value),
		At:        t.clock.Now(),
	})
	if t.limiter.Allow("anomaly.discard_no_memory") {
		t.logger.Printf("E! [%s] discarding message for topic %q, no memory available", id.Short(), topic)
	}
}

// Snapshot reports the lifetime counts for each kind plus a copy of the
// recent-events ring, oldest first.
func (t *Tracker) Snapshot() (malformed, discard int64, recent []Event) {
	return atomic.LoadInt64(&t.malformedCount), atomic.LoadInt64(&t.discardCount), t.ring.Snapshot()
}
