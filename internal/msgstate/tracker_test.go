package msgstate

import (
	"sync"
	"testing"
	"time"

	"github.com/influxdata/feederd/internal/clock"
	"github.com/influxdata/feederd/internal/msg"
	"github.com/influxdata/feederd/internal/pool"
	"github.com/influxdata/feederd/internal/ratelimit"
)

func newTestTracker(t *testing.T) (*Tracker, *[]string) {
	t.Helper()
	c := clock.Mock(time.Unix(0, 0))
	lim := ratelimit.New(30*time.Second, c)
	var illegal []string
	tr := New(lim, func(from, into msg.State) {
		illegal = append(illegal, from.String()+"->"+into.String())
	})
	return tr, &illegal
}

func newMsg(t *testing.T, p *pool.Pool, topic string) *msg.Msg {
	t.Helper()
	fake := &fakeStateTracker{}
	fakeAnomaly := &fakeAnomalyTracker{}
	m, ok := msg.TryCreateAnyPartitionMsg(0, topic, nil, nil, p, fakeAnomaly, fake)
	if !ok {
		t.Fatalf("failed to create message for topic %q", topic)
	}
	return m
}

type fakeStateTracker struct{}

func (f *fakeStateTracker) EnterNew() {}

type fakeAnomalyTracker struct{}

func (f *fakeAnomalyTracker) DiscardNoMemory(timestamp int64, topic string, key, value []byte) {}

func TestFullLifecycle(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := pool.New(1024)

	tr.EnterNew()
	_, newCount := tr.GetStats()
	if newCount != 1 {
		t.Fatalf("expected NewCount 1, got %d", newCount)
	}

	m := newMsg(t, p, "x")

	tr.EnterSendWait(m)
	topics, newCount := tr.GetStats()
	if newCount != 0 {
		t.Fatalf("expected NewCount 0 after SendWait, got %d", newCount)
	}
	if len(topics) != 1 || topics[0].Topic != "x" || topics[0].Stats.SendWaitCount != 1 {
		t.Fatalf("expected SendWaitCount[x]=1, got %+v", topics)
	}

	tr.EnterAckWait(m)
	topics, _ = tr.GetStats()
	if len(topics) != 1 || topics[0].Stats.SendWaitCount != 0 || topics[0].Stats.AckWaitCount != 1 {
		t.Fatalf("expected only AckWaitCount[x]=1, got %+v", topics)
	}

	tr.EnterProcessed(m)
	topics, newCount = tr.GetStats()
	if len(topics) != 0 {
		t.Fatalf("expected empty stats after Processed, got %+v", topics)
	}
	if newCount != 0 {
		t.Fatalf("expected NewCount 0, got %d", newCount)
	}
}

func TestIllegalTransitionLeavesCountersUnchanged(t *testing.T) {
	tr, illegal := newTestTracker(t)
	p := pool.New(1024)

	tr.EnterNew()
	m := newMsg(t, p, "x")

	tr.EnterAckWait(m) // illegal: New -> AckWait
	if len(*illegal) != 1 {
		t.Fatalf("expected exactly one illegal-transition diagnostic, got %d", len(*illegal))
	}
	if m.State() != msg.New {
		t.Fatalf("expected message to remain in New after illegal transition, got %v", m.State())
	}
	topics, newCount := tr.GetStats()
	if len(topics) != 0 {
		t.Fatalf("expected no topic buckets created by illegal transition, got %+v", topics)
	}
	if newCount != 1 {
		t.Fatalf("expected NewCount unchanged at 1, got %d", newCount)
	}

	// subsequent legal transition still works.
	tr.EnterSendWait(m)
	topics, newCount = tr.GetStats()
	if newCount != 0 || len(topics) != 1 || topics[0].Stats.SendWaitCount != 1 {
		t.Fatalf("expected legal transition to proceed normally, got topics=%+v new=%d", topics, newCount)
	}
}

func TestAckWaitReentryIsIllegal(t *testing.T) {
	tr, illegal := newTestTracker(t)
	p := pool.New(1024)
	tr.EnterNew()
	m := newMsg(t, p, "x")
	tr.EnterSendWait(m)
	tr.EnterAckWait(m)

	tr.EnterAckWait(m) // illegal: AckWait -> AckWait
	if len(*illegal) != 1 {
		t.Fatalf("expected one illegal-transition diagnostic, got %d", len(*illegal))
	}
	topics, _ := tr.GetStats()
	if topics[0].Stats.AckWaitCount != 1 {
		t.Fatalf("expected AckWaitCount unchanged at 1, got %+v", topics)
	}
}

func TestAckWaitRetryGoesThroughSendWait(t *testing.T) {
	tr, illegal := newTestTracker(t)
	p := pool.New(1024)
	tr.EnterNew()
	m := newMsg(t, p, "x")
	tr.EnterSendWait(m)
	tr.EnterAckWait(m)

	// retry: AckWait -> SendWait -> AckWait, never AckWait -> AckWait directly.
	tr.EnterSendWait(m)
	tr.EnterAckWait(m)

	if len(*illegal) != 0 {
		t.Fatalf("expected no illegal transitions on a proper retry path, got %v", *illegal)
	}
	topics, _ := tr.GetStats()
	if topics[0].Stats.AckWaitCount != 1 || topics[0].Stats.SendWaitCount != 0 {
		t.Fatalf("expected steady state after retry, got %+v", topics)
	}
}

func TestPruneRetainsOutstandingTopics(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := pool.New(1024)

	tr.EnterNew()
	a1 := newMsg(t, p, "a")
	tr.EnterNew()
	a2 := newMsg(t, p, "a")
	tr.EnterNew()
	b := newMsg(t, p, "b")

	tr.EnterSendWait(a1)
	tr.EnterSendWait(a2)
	tr.EnterSendWait(b)
	tr.EnterProcessed(b) // b's bucket stays, with both counters zero, since nothing has marked it deletable yet.

	// A second SendWait/Processed pair on b leaves its bucket in the same
	// state, present with zero counters: "forced present by an earlier
	// transition" from the spec's scenario 5.
	tr.EnterNew()
	b2 := newMsg(t, p, "b")
	tr.EnterSendWait(b2)
	tr.EnterProcessed(b2)

	none := func(topic string) bool { return false }
	tr.Prune(none)

	topics, _ := tr.GetStats()
	foundA := false
	for _, item := range topics {
		if item.Topic == "a" {
			foundA = true
		}
	}
	// GetStats omits zero-count buckets, so look at the map itself.
	if _, ok := tr.topicStats["b"]; ok {
		t.Fatalf("expected topic b with zero counters to be pruned, got %+v", topics)
	}
	if !foundA {
		t.Fatalf("expected topic a with outstanding counters to survive prune, got %+v", topics)
	}

	tr.EnterProcessed(a1)
	tr.EnterProcessed(a2)
	topics, _ = tr.GetStats()
	if _, ok := tr.topicStats["a"]; ok {
		t.Fatalf("expected topic a to be pruned once its counters return to zero, got %+v", topics)
	}
}

func TestPruneIdempotent(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := pool.New(1024)
	tr.EnterNew()
	a := newMsg(t, p, "a")
	tr.EnterSendWait(a)

	exists := func(topic string) bool { return true }
	tr.Prune(exists)
	first, _ := tr.GetStats()
	tr.Prune(exists)
	second, _ := tr.GetStats()

	if len(first) != len(second) || first[0].Stats != second[0].Stats {
		t.Fatalf("expected prune to be idempotent with no intervening transitions, got %+v then %+v", first, second)
	}
}

func TestBulkTransitionAtomicity(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := pool.New(1 << 20)

	const n = 1000
	batch := make([]*msg.Msg, n)
	for i := range batch {
		tr.EnterNew()
		batch[i] = newMsg(t, p, "t")
	}
	tr.EnterSendWaitBatch(batch)

	topics, _ := tr.GetStats()
	if topics[0].Stats.SendWaitCount != n {
		t.Fatalf("expected SendWaitCount[t]=%d, got %+v", n, topics)
	}

	tr.EnterAckWaitBatch(batch)
	topics, _ = tr.GetStats()
	if topics[0].Stats.SendWaitCount != 0 || topics[0].Stats.AckWaitCount != n {
		t.Fatalf("expected bulk transition to move all %d messages atomically, got %+v", n, topics)
	}
}

func TestCountersNeverNegativeUnderConcurrency(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := pool.New(1 << 20)

	const n = 200
	msgs := make([]*msg.Msg, n)
	for i := range msgs {
		tr.EnterNew()
		msgs[i] = newMsg(t, p, "concurrent")
	}

	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m *msg.Msg) {
			defer wg.Done()
			tr.EnterSendWait(m)
			tr.EnterAckWait(m)
			tr.EnterProcessed(m)
		}(m)
	}
	wg.Wait()

	topics, newCount := tr.GetStats()
	if newCount < 0 {
		t.Fatalf("NewCount went negative: %d", newCount)
	}
	for _, item := range topics {
		if item.Stats.SendWaitCount < 0 || item.Stats.AckWaitCount < 0 {
			t.Fatalf("counters went negative: %+v", item)
		}
	}
	if len(topics) != 0 {
		t.Fatalf("expected all messages fully processed and pruned-by-zero, got %+v", topics)
	}
}
