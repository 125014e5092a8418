// Package listener implements the local transport described by the wire
// format: a Unix datagram socket per configured topic-input, each datagram
// decoded and handed to the message factory. Grounded on the teacher's
// services/udp.Service, with net.ListenUDP swapped for
// net.ListenUnixgram per the local-transport requirement.
package listener

import (
	"context"
	"log"
	"net"
	"os"
	"sync"

	"github.com/influxdata/feederd/internal/anomaly"
	"github.com/influxdata/feederd/internal/inputdg"
	"github.com/influxdata/feederd/internal/inputdg/partitionkey"
	"github.com/influxdata/feederd/internal/msg"
	"github.com/influxdata/feederd/internal/msgstate"
	"github.com/influxdata/feederd/internal/pool"
	"github.com/influxdata/feederd/internal/stats"
)

// DefaultDatagramBufferSize is the largest datagram a socket will read in
// one call; oversized input is rejected by the codec, not by this buffer.
const DefaultDatagramBufferSize = 65536

// Config configures one topic-input socket.
type Config struct {
	Topic        string `toml:"topic"`
	SocketPath   string `toml:"socket-path"`
	BufferSize   int    `toml:"buffer-size"`
	SocketBuffer int    `toml:"socket-read-buffer"`
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// reasonable defaults.
func (c Config) WithDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultDatagramBufferSize
	}
	return c
}

// Sink is where a successfully decoded message is handed off once built;
// satisfied by dispatch.Pipeline.Submit.
type Sink interface {
	Submit(ctx context.Context, m *msg.Msg) error
}

// Listener reads datagrams off one Unix datagram socket, decodes them, and
// hands successfully built messages to a Sink.
type Listener struct {
	cfg     Config
	conn    *net.UnixConn
	pool    *pool.Pool
	tracker *msgstate.Tracker
	anomaly *anomaly.Tracker
	sink    Sink
	logger  *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) add(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *counter) IntValue() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) String() string {
	return ""
}

// New returns a Listener for the given, defaulted Config.
func New(cfg Config, p *pool.Pool, tracker *msgstate.Tracker, anomalyTracker *anomaly.Tracker, sink Sink, logger *log.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		pool:    p,
		tracker: tracker,
		anomaly: anomalyTracker,
		sink:    sink,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Open binds the Unix datagram socket and starts the read loop. Any
// pre-existing socket file at SocketPath is removed first, since a stale
// file from a prior crashed process would otherwise make bind fail.
func (l *Listener) Open() error {
	values := stats.NewStatistics("listener", map[string]string{"topic": l.cfg.Topic})

	os.Remove(l.cfg.SocketPath)

	addr, err := net.ResolveUnixAddr("unixgram", l.cfg.SocketPath)
	if err != nil {
		return err
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return err
	}
	l.conn = conn

	if l.cfg.SocketBuffer > 0 {
		conn.SetReadBuffer(l.cfg.SocketBuffer)
	}

	received := &counter{}
	malformed := &counter{}
	discarded := &counter{}
	values.Set("datagrams_received", received)
	values.Set("datagrams_malformed", malformed)
	values.Set("messages_discarded", discarded)

	l.wg.Add(1)
	go l.serve(received, malformed, discarded)

	l.logger.Printf("I! listening on %s for topic %q", l.cfg.SocketPath, l.cfg.Topic)
	return nil
}

// Close stops the read loop and removes the socket file.
func (l *Listener) Close() error {
	close(l.done)
	err := l.conn.Close()
	l.wg.Wait()
	os.Remove(l.cfg.SocketPath)
	return err
}

func (l *Listener) serve(received, malformed, discarded *counter) {
	defer l.wg.Done()

	buf := make([]byte, l.cfg.BufferSize)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		n, err := l.conn.Read(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.logger.Printf("W! failed to read datagram on %q: %v", l.cfg.SocketPath, err)
			continue
		}
		received.add(1)

		raw := make([]byte, n)
		copy(raw, buf[:n])

		m, ok := l.decodeAndCreate(raw)
		if !ok {
			malformed.add(1)
			continue
		}

		if err := l.sink.Submit(context.Background(), m); err != nil {
			discarded.add(1)
			l.tracker.EnterProcessed(m)
			m.Release()
		}
	}
}

// decodeAndCreate tries the any-partition codec first, then the
// partition-key codec, since both may legitimately arrive on the same
// topic-input socket distinguished only by their API key field.
func (l *Listener) decodeAndCreate(raw []byte) (*msg.Msg, bool) {
	if d, err := inputdg.Decode(raw); err == nil {
		m, ok := msg.TryCreateAnyPartitionMsg(d.Timestamp, string(d.Topic), d.Key, d.Value, l.pool, l.anomaly, l.tracker)
		return m, ok
	}

	if d, err := partitionkey.Decode(raw); err == nil {
		m, ok := msg.TryCreatePartitionKeyMsg(d.PartitionKey, d.Timestamp, string(d.Topic), d.Key, d.Value, l.pool, l.anomaly, l.tracker)
		return m, ok
	}

	l.anomaly.RecordMalformed(raw, "datagram matched neither known API key/version pair")
	return nil, false
}
