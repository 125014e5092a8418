// Package broker implements the out-of-scope "broker client" collaborator
// the message-state tracker hands durable delivery off to: a per-topic
// Kafka-compatible writer with partitioner compatibility and retry-with-
// backoff, grounded on the teacher's services/kafka package.
package broker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	kafka "github.com/segmentio/kafka-go"

	"github.com/influxdata/feederd/internal/kexpvar"
	"github.com/influxdata/feederd/internal/stats"
)

// ErrUnavailable is returned once a publish attempt exhausts its retry
// budget without a single broker accepting the write.
var ErrUnavailable = errors.New("broker: no broker accepted the write before the retry budget was exhausted")

// Partitioner names the compatibility partitioner used to pick the
// destination partition for a keyed message.
type Partitioner string

const (
	PartitionerMurmur2 Partitioner = "murmur2"
	PartitionerCRC32   Partitioner = "crc32"
)

// Config configures a Client.
type Config struct {
	Brokers     []string      `toml:"brokers"`
	Partitioner Partitioner   `toml:"partitioner"`
	DialTimeout time.Duration `toml:"dial-timeout"`
	MaxElapsed  time.Duration `toml:"max-elapsed-time"`
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// reasonable defaults, in the style of the teacher's per-service Config.
func (c Config) WithDefaults() Config {
	if c.Partitioner == "" {
		c.Partitioner = PartitionerMurmur2
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 30 * time.Second
	}
	return c
}

func (c Config) balancer() kafka.Balancer {
	switch c.Partitioner {
	case PartitionerCRC32:
		return NewCRC32Balancer()
	default:
		return NewMurmur2Balancer()
	}
}

// Client publishes messages to one Kafka-compatible cluster, keeping one
// kafka.Writer per topic the way the teacher's Cluster keeps one writer per
// topic rather than one writer for the whole cluster.
type Client struct {
	cfg Config

	mu      sync.RWMutex
	writers map[string]*topicWriter
}

// New returns a Client for the given, defaulted Config.
func New(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		writers: make(map[string]*topicWriter),
	}
}

type topicWriter struct {
	writer *kafka.Writer
	topic  string

	messageCount int64
	errorCount   int64

	statsValues *kexpvar.Map
	ticker      *time.Ticker
	wg          sync.WaitGroup
}

func (c *Client) topicWriter(topic string) *topicWriter {
	c.mu.RLock()
	w, ok := c.writers[topic]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.writers[topic]; ok {
		return w
	}

	sorted := append([]string(nil), c.cfg.Brokers...)
	sort.Strings(sorted)

	kw := &kafka.Writer{
		Addr:         kafka.TCP(sorted...),
		Topic:        topic,
		Balancer:     c.cfg.balancer(),
		WriteTimeout: c.cfg.DialTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	w = &topicWriter{
		writer: kw,
		topic:  topic,
	}
	w.open()
	c.writers[topic] = w
	return w
}

func (w *topicWriter) open() {
	values := stats.NewStatistics("broker", map[string]string{"topic": w.topic})
	w.statsValues = values
	values.Set("write_messages", kexpvar.NewIntFuncGauge(func() int64 {
		return atomic.LoadInt64(&w.messageCount)
	}))
	values.Set("write_errors", kexpvar.NewIntFuncGauge(func() int64 {
		return atomic.LoadInt64(&w.errorCount)
	}))

	w.ticker = time.NewTicker(time.Second)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollStats()
	}()
}

// pollStats periodically reads kafka.Writer.Stats(), which resets the
// writer's internal counters on every read, and folds the delta into our
// own monotonic counters so concurrent expvar reads never see it reset.
func (w *topicWriter) pollStats() {
	for range w.ticker.C {
		s := w.writer.Stats()
		atomic.AddInt64(&w.messageCount, s.Messages)
		atomic.AddInt64(&w.errorCount, s.Errors)
	}
}

func (w *topicWriter) close() {
	w.ticker.Stop()
	w.writer.Close()
	w.wg.Wait()
}

// Publish writes one message to topic, retrying with exponential backoff
// until either the write succeeds or ctx's deadline / the configured
// MaxElapsed is reached. It never partially writes: a failed Publish after
// exhausting retries leaves the message exactly where the caller found it,
// free to be handed to the anomaly tracker as a discard.
func (c *Client) Publish(ctx context.Context, topic string, key, value []byte) error {
	w := c.topicWriter(topic)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsed
	bctx := backoff.WithContext(b, ctx)

	op := func() error {
		err := w.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
		if err != nil {
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return errors.Wrapf(ErrUnavailable, "topic %q: %v", topic, err)
	}
	return nil
}

// Close closes every open per-topic writer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, w := range c.writers {
		w.close()
		delete(c.writers, topic)
	}
	return nil
}
