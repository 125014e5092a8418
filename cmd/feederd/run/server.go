package run

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/influxdata/feederd/config"
	"github.com/influxdata/feederd/internal/anomaly"
	"github.com/influxdata/feederd/internal/broker"
	"github.com/influxdata/feederd/internal/clock"
	"github.com/influxdata/feederd/internal/dispatch"
	"github.com/influxdata/feederd/internal/kexpvar"
	"github.com/influxdata/feederd/internal/listener"
	"github.com/influxdata/feederd/internal/msg"
	"github.com/influxdata/feederd/internal/msgstate"
	"github.com/influxdata/feederd/internal/pool"
	"github.com/influxdata/feederd/internal/ratelimit"
	"github.com/influxdata/feederd/internal/stats"
)

// BuildInfo describes the binary's provenance, printed on startup the way
// the teacher's BuildInfo is.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
}

// Server owns every long-lived collaborator wired together from a single
// Config: the memory pool, the message-state tracker, the anomaly tracker,
// the broker client, the dispatch pipeline, one Listener per configured
// input, and a debug HTTP server exposing the expvar registry. Grounded on
// the teacher's run.Server, trimmed to feederd's own component set.
type Server struct {
	config *config.Config
	logger *log.Logger
	err    chan error

	pool     *pool.Pool
	tracker  *msgstate.Tracker
	anomaly  *anomaly.Tracker
	broker   *broker.Client
	pipeline *dispatch.Pipeline
	inputs   []*listener.Listener

	debugAddr string
	debugLn   net.Listener
}

// NewServer constructs a Server from cfg without opening any sockets or
// starting any goroutines; call Open to bring it up.
func NewServer(cfg *config.Config, build *BuildInfo, logger *log.Logger, debugAddr string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats.HostVar.Set(cfg.Hostname)
	stats.VersionVar.Set(build.Version)

	memPool := pool.NewFromConfig(cfg.Pool)

	limiter := ratelimit.New(30*time.Second, clock.Wall())

	onIllegal := func(from, into msg.State) {
		logger.Printf("E! illegal message state transition attempted: %s -> %s", from, into)
	}
	tracker := msgstate.New(limiter, onIllegal)

	processStats := stats.NewStatistics("process", map[string]string{"host": cfg.Hostname})
	processStats.Set("pool_used_bytes", kexpvar.NewIntFuncGauge(func() int64 { return int64(memPool.Used()) }))
	processStats.Set("pool_capacity_bytes", kexpvar.NewIntFuncGauge(func() int64 { return int64(memPool.Capacity()) }))
	processStats.Set("messages_new", kexpvar.NewIntFuncGauge(func() int64 {
		_, newCount := tracker.GetStats()
		return newCount
	}))

	anomalyTracker := anomaly.New(logger, limiter, clock.Wall(), anomaly.DefaultRingCapacity)

	brokerClient := broker.New(cfg.Broker)

	pipeline := dispatch.New(cfg.Dispatch, brokerClient, tracker, anomalyTracker, logger)

	inputs := make([]*listener.Listener, 0, len(cfg.Inputs))
	for _, inCfg := range cfg.Inputs {
		inputs = append(inputs, listener.New(inCfg, memPool, tracker, anomalyTracker, pipeline, logger))
	}

	return &Server{
		config:    cfg,
		logger:    logger,
		err:       make(chan error),
		pool:      memPool,
		tracker:   tracker,
		anomaly:   anomalyTracker,
		broker:    brokerClient,
		pipeline:  pipeline,
		inputs:    inputs,
		debugAddr: debugAddr,
	}, nil
}

// Open starts the dispatch workers, binds every configured input socket,
// and, if a debug address was configured, starts the expvar HTTP server.
func (s *Server) Open() error {
	s.pipeline.Start()

	for _, in := range s.inputs {
		if err := in.Open(); err != nil {
			return fmt.Errorf("open input: %w", err)
		}
	}

	if s.debugAddr != "" {
		ln, err := net.Listen("tcp", s.debugAddr)
		if err != nil {
			return fmt.Errorf("open debug listener: %w", err)
		}
		s.debugLn = ln
		go func() {
			srv := &http.Server{Handler: http.DefaultServeMux}
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.err <- err
			}
		}()
		s.logger.Printf("I! serving /debug/vars on %s", s.debugAddr)
	}

	s.logger.Printf("I! feederd ready: %d input socket(s), %d dispatch worker(s)", len(s.inputs), s.config.Dispatch.Workers)
	return nil
}

// Err returns the channel fatal background errors are reported on.
func (s *Server) Err() <-chan error {
	return s.err
}

// Close stops accepting new datagrams, drains the dispatch pipeline, and
// releases the broker client. It blocks until every in-flight message has
// reached Processed or been discarded.
func (s *Server) Close() error {
	if s.debugLn != nil {
		s.debugLn.Close()
	}

	for _, in := range s.inputs {
		in.Close()
	}

	s.pipeline.Close()

	return s.broker.Close()
}

// Reload is a no-op placeholder mirroring the teacher's SIGHUP handling
// hook; feederd has no on-disk task definitions to reread.
func (s *Server) Reload() {}
