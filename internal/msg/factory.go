package msg

import "github.com/influxdata/feederd/internal/pool"

// StateTracker is the subset of the message-state tracker the factories
// need: notification that a freshly allocated message has entered New.
type StateTracker interface {
	EnterNew()
}

// AnomalyTracker is the subset of the anomaly tracker the factories need:
// reporting pool exhaustion so a discard is never silent.
type AnomalyTracker interface {
	DiscardNoMemory(timestamp int64, topic string, key, value []byte)
}

// TryCreateAnyPartitionMsg allocates a message for the any-partition input
// path. It computes the bytes required from the pool, attempts a single
// reservation sufficient for topic+key+value, and on exhaustion reports a
// discard-no-memory event to anomalyTracker and returns (nil, false) rather
// than a partially constructed message. On success the message is
// constructed in state New and the state tracker is notified via EnterNew.
func TryCreateAnyPartitionMsg(
	timestamp int64,
	topic string,
	key, value []byte,
	p *pool.Pool,
	anomalyTracker AnomalyTracker,
	stateTracker StateTracker,
) (*Msg, bool) {
	total := len(topic) + len(key) + len(value)

	region, buf, err := p.Reserve(total)
	if err != nil {
		anomalyTracker.DiscardNoMemory(timestamp, topic, key, value)
		return nil, false
	}

	topicBuf := buf[:len(topic)]
	keyBuf := buf[len(topic) : len(topic)+len(key)]
	valueBuf := buf[len(topic)+len(key):]
	copy(topicBuf, topic)
	copy(keyBuf, key)
	copy(valueBuf, value)

	m := &Msg{
		Timestamp: timestamp,
		Topic:     string(topicBuf),
		key:       keyBuf,
		value:     valueBuf,
		region:    region,
		state:     New,
	}

	stateTracker.EnterNew()
	return m, true
}

// TryCreatePartitionKeyMsg is identical to TryCreateAnyPartitionMsg except
// that it accepts an explicit partition key, carried on the returned
// message. The dispatch pipeline and broker client do not read it: the
// broker's partitioner picks the partition from the message key. It shares the
// pool-failure and anomaly-reporting contract of the any-partition factory.
func TryCreatePartitionKeyMsg(
	partitionKey int32,
	timestamp int64,
	topic string,
	key, value []byte,
	p *pool.Pool,
	anomalyTracker AnomalyTracker,
	stateTracker StateTracker,
) (*Msg, bool) {
	m, ok := TryCreateAnyPartitionMsg(timestamp, topic, key, value, p, anomalyTracker, stateTracker)
	if !ok {
		return nil, false
	}
	m.PartitionKey = partitionKey
	m.HasPartitionKey = true
	return m, true
}
