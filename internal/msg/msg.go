// Package msg defines the Message handle produced by the input-datagram
// codec and factory, and consumed by the message-state tracker and the
// dispatch loop.
package msg

import "github.com/influxdata/feederd/internal/pool"

// State is a message's position in its lifecycle. The zero value is not a
// valid state; messages are always constructed directly into New.
type State int

const (
	_ State = iota
	New
	SendWait
	AckWait
	Processed
)

func (s State) String() string {
	switch s {
	case New:
		return "New"
	case SendWait:
		return "SendWait"
	case AckWait:
		return "AckWait"
	case Processed:
		return "Processed"
	default:
		return "Unknown"
	}
}

// Msg owns a single pool-carved byte region backing its topic, key, and
// value, plus the metadata needed to route and account for it. Ownership is
// exclusive: a Msg has a single owner at any instant, and that owner is
// responsible for calling Release once the message reaches Processed.
type Msg struct {
	Timestamp int64
	Topic     string

	key   []byte
	value []byte

	// region is the single pool reservation backing Topic, key, and value:
	// the factory carves all three out of one Reserve call.
	region pool.Region

	// PartitionKey is only meaningful for messages created via the
	// partition-key factory; it is the zero value otherwise.
	PartitionKey    int32
	HasPartitionKey bool

	state State
}

// Key returns the message's key payload. The returned slice must not be
// retained past Release.
func (m *Msg) Key() []byte { return m.key }

// Value returns the message's value payload. The returned slice must not be
// retained past Release.
func (m *Msg) Value() []byte { return m.value }

// State returns the message's current lifecycle state.
func (m *Msg) State() State { return m.state }

// SetState is used only by the message-state tracker to record a
// transition that has already been validated and accounted for.
func (m *Msg) SetState(s State) { m.state = s }

// Release returns the pool region this message owns. Calling Release more
// than once, or before the message reaches Processed, is a caller bug;
// Region.Release is itself idempotent so it will not double-free pool
// accounting, but the message's bytes must not be read after Release.
func (m *Msg) Release() {
	m.region.Release()
}
