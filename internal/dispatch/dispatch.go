// Package dispatch implements the worker pool that drains newly created
// messages and carries each one through SendWait, AckWait, and Processed as
// it hands the payload to the broker client. Grounded on the teacher's
// edge.go channelEdge: a buffered channel standing in for the connection
// between two pipeline stages, with the same open/close-once discipline.
package dispatch

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/influxdata/feederd/internal/msg"
)

// Publisher hands a message's payload to durable storage. Implemented by
// *broker.Client; kept as an interface here so tests can substitute a fake
// without importing the broker package.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Tracker is the subset of msgstate.Tracker the dispatch loop drives.
type Tracker interface {
	EnterSendWait(m *msg.Msg)
	EnterAckWait(m *msg.Msg)
	EnterProcessed(m *msg.Msg)
}

// AnomalySink is the subset of anomaly.Tracker the dispatch loop reports
// into once a message's retry budget is exhausted.
type AnomalySink interface {
	DiscardNoMemory(timestamp int64, topic string, key, value []byte)
}

// Config configures a Pipeline.
type Config struct {
	Workers      int           `toml:"workers"`
	QueueSize    int           `toml:"queue-size"`
	MaxAttempts  int           `toml:"max-attempts"`
	PublishDelay time.Duration `toml:"publish-delay"`
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// reasonable defaults, in the style of the teacher's per-service Config.
func (c Config) WithDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Pipeline is a fixed-size worker pool draining a New-message channel, each
// worker owning a message exclusively until it reaches Processed.
type Pipeline struct {
	cfg       Config
	publisher Publisher
	tracker   Tracker
	anomaly   AnomalySink
	logger    *log.Logger

	in      chan *msg.Msg
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New returns a Pipeline ready to Start. cfg should already have
// WithDefaults applied.
func New(cfg Config, publisher Publisher, tracker Tracker, anomaly AnomalySink, logger *log.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		publisher: publisher,
		tracker:   tracker,
		anomaly:   anomaly,
		logger:    logger,
		in:        make(chan *msg.Msg, cfg.QueueSize),
		closing:   make(chan struct{}),
	}
}

// Start launches the configured number of worker goroutines. Start must be
// called at most once.
func (p *Pipeline) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit hands m to the pipeline. It blocks until the queue has room or ctx
// is canceled. Submit must not be called concurrently with or after
// Close: that ordering is the caller's responsibility, the same discipline
// the teacher's channelEdge places on Collect versus Close.
func (p *Pipeline) Submit(ctx context.Context, m *msg.Msg) error {
	select {
	case p.in <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals every worker to stop accepting new work once its queue is
// drained, and waits for all in-flight and queued messages to finish. Close
// must be called at most once, and only after the caller has stopped
// calling Submit.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		close(p.closing)
	})
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.in:
			p.process(m)
		case <-p.closing:
			p.drain()
			return
		}
	}
}

// drain processes whatever is left in the queue without blocking, once
// shutdown has begun and no further Submits are expected.
func (p *Pipeline) drain() {
	for {
		select {
		case m := <-p.in:
			p.process(m)
		default:
			return
		}
	}
}

// process carries m from New through to Processed, retrying the publish up
// to MaxAttempts times; a message whose attempts are exhausted is reported
// as a discard and moved straight from SendWait to Processed. Every retry re-enters SendWait before any subsequent
// AckWait transition; a message is never driven directly from one AckWait
// attempt into another.
func (p *Pipeline) process(m *msg.Msg) {
	defer m.Release()

	ctx := context.Background()
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.tracker.EnterSendWait(m)

		err := p.publisher.Publish(ctx, m.Topic, m.Key(), m.Value())
		if err != nil {
			if attempt == p.cfg.MaxAttempts {
				p.logger.Printf("E! giving up publishing to topic %q after %d attempts: %v", m.Topic, attempt, err)
				p.anomaly.DiscardNoMemory(m.Timestamp, m.Topic, m.Key(), m.Value())
				p.tracker.EnterProcessed(m)
				return
			}
			if p.cfg.PublishDelay > 0 {
				time.Sleep(p.cfg.PublishDelay)
			}
			continue
		}

		p.tracker.EnterAckWait(m)
		p.tracker.EnterProcessed(m)
		return
	}
}
