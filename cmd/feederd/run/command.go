package run

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/influxdata/feederd/config"
	"github.com/influxdata/feederd/internal/wlog"
)

// Command represents the command executed by "feederd run".
type Command struct {
	Version string
	Branch  string
	Commit  string

	closing chan struct{}
	Closed  chan struct{}

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Server    *Server
	Logger    *log.Logger
	logWriter io.WriteCloser
}

// NewCommand returns a new instance of Command.
func NewCommand() *Command {
	return &Command{
		closing: make(chan struct{}),
		Closed:  make(chan struct{}),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Run parses the config from args and starts the server.
func (cmd *Command) Run(args ...string) error {
	options, err := cmd.ParseFlags(args...)
	if err != nil {
		return err
	}

	cfg, err := cmd.ParseConfig(options.ConfigPath)
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("apply env config: %v", err)
	}

	if options.Hostname != "" {
		cfg.Hostname = options.Hostname
	}

	if options.LogLevel != "" {
		if err := wlog.SetLevel(options.LogLevel); err != nil {
			return err
		}
	}

	logOut, err := cmd.openLogOutput(options.LogFile)
	if err != nil {
		return fmt.Errorf("open log output: %s", err)
	}
	cmd.logWriter = logOut
	cmd.Logger = wlog.New(logOut, "[feederd] ", log.LstdFlags)

	cmd.Logger.Printf("I! feederd starting, version %s, branch %s, commit %s", cmd.Version, cmd.Branch, cmd.Commit)
	cmd.Logger.Printf("I! Go version %s, GOMAXPROCS set to %d", runtime.Version(), runtime.GOMAXPROCS(0))

	if err := cmd.writePIDFile(options.PIDFile); err != nil {
		return fmt.Errorf("write pid file: %s", err)
	}

	build := &BuildInfo{Version: cmd.Version, Commit: cmd.Commit, Branch: cmd.Branch}
	s, err := NewServer(cfg, build, cmd.Logger, options.DebugAddr)
	if err != nil {
		return fmt.Errorf("create server: %s", err)
	}
	if err := s.Open(); err != nil {
		return fmt.Errorf("open server: %s", err)
	}
	cmd.Server = s

	go cmd.monitorServerErrors()

	return nil
}

// Close shuts down the server.
func (cmd *Command) Close() error {
	defer close(cmd.Closed)
	close(cmd.closing)
	var err error
	if cmd.Server != nil {
		err = cmd.Server.Close()
	}
	if cmd.logWriter != nil {
		cmd.logWriter.Close()
	}
	return err
}

func (cmd *Command) monitorServerErrors() {
	for {
		select {
		case err := <-cmd.Server.Err():
			if err != nil {
				cmd.Logger.Println("E! " + err.Error())
			}
		case <-cmd.closing:
			return
		}
	}
}

// ParseFlags parses the command line flags from args and returns an options set.
func (cmd *Command) ParseFlags(args ...string) (Options, error) {
	var options Options
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.StringVar(&options.ConfigPath, "config", "", "")
	fs.StringVar(&options.PIDFile, "pidfile", "", "")
	fs.StringVar(&options.Hostname, "hostname", "", "")
	fs.StringVar(&options.LogFile, "log-file", "", "")
	fs.StringVar(&options.LogLevel, "log-level", "", "")
	fs.StringVar(&options.DebugAddr, "debug-addr", "", "")
	fs.Usage = func() { fmt.Fprintln(cmd.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	return options, nil
}

// openLogOutput returns stderr if path is empty, otherwise an appending
// file handle at path.
func (cmd *Command) openLogOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "stderr" {
		return nopCloser{cmd.Stderr}, nil
	}
	if path == "stdout" {
		return nopCloser{cmd.Stdout}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// writePIDFile writes the process ID to path.
func (cmd *Command) writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return fmt.Errorf("mkdir: %s", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0666); err != nil {
		return fmt.Errorf("write file: %s", err)
	}
	return nil
}

// ParseConfig parses the config at path, or returns a defaulted config if
// path is blank.
func (cmd *Command) ParseConfig(path string) (*config.Config, error) {
	if path == "" {
		fmt.Fprintln(cmd.Stderr, "no configuration provided, using default settings")
		return config.NewConfig(), nil
	}

	fmt.Fprintf(cmd.Stderr, "using configuration at: %s\n", path)

	cfg := config.NewConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.WithDefaults()

	return cfg, nil
}

var usage = `usage: run [flags]

run starts the feederd daemon.

        -config <path>
                          Set the path to the configuration file.

        -hostname <name>
                          Override the hostname, the 'hostname' configuration
                          option will be overridden.

        -pidfile <path>
                          Write process ID to a file.

        -log-file <path>
                          Write logs to a file instead of stderr.

        -log-level <level>
                          Sets the log level. One of debug,info,warn,error.

        -debug-addr <host:port>
                          Serve /debug/vars on this address. Disabled if empty.
`

// Options represents the command line options that can be parsed.
type Options struct {
	ConfigPath string
	PIDFile    string
	Hostname   string
	LogFile    string
	LogLevel   string
	DebugAddr  string
}
