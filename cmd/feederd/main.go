package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/influxdata/feederd/cmd/feederd/run"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
	if version == "" {
		version = "dev"
	}
}

func main() {
	m := NewMain()
	if err := m.Run(os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program execution.
type Main struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run determines and runs the command specified by the CLI args.
func (m *Main) Run(args ...string) error {
	name, args := ParseCommandName(args)

	switch name {
	case "", "run":
		cmd := run.NewCommand()
		cmd.Version = version
		cmd.Commit = commit
		cmd.Branch = branch

		if err := cmd.Run(args...); err != nil {
			return fmt.Errorf("run: %s", err)
		}

		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
		cmd.Logger.Printf("I! listening for signals")

		<-signalCh
		cmd.Logger.Printf("I! signal received, initializing clean shutdown...")
		go func() {
			cmd.Close()
		}()

		select {
		case <-signalCh:
			cmd.Logger.Printf("I! second signal received, initializing hard shutdown")
		case <-time.After(30 * time.Second):
			cmd.Logger.Printf("I! time limit reached, initializing hard shutdown")
		case <-cmd.Closed:
			cmd.Logger.Printf("I! feederd shutdown completed")
		}

	case "version":
		if err := NewVersionCommand().Run(args...); err != nil {
			return fmt.Errorf("version: %s", err)
		}
	case "help":
		fmt.Fprintln(m.Stdout, helpText)
	default:
		return fmt.Errorf(`unknown command "%s"`+"\n"+`run 'feederd help' for usage`+"\n", name)
	}

	return nil
}

// ParseCommandName extracts the command name and args from the args list.
func ParseCommandName(args []string) (string, []string) {
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name = args[0]
	}
	if len(args) > 0 && args[0] == "-h" {
		name = "help"
	}
	if name != "" {
		return name, args[1:]
	}
	return "", args
}

// VersionCommand is executed by "feederd version".
type VersionCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewVersionCommand returns a new instance of VersionCommand.
func NewVersionCommand() *VersionCommand {
	return &VersionCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run prints the current version and commit info.
func (cmd *VersionCommand) Run(args ...string) error {
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(cmd.Stderr, "usage: version") }
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Stdout, "feederd version %s (git: %s %s)\n", version, branch, commit)
	return nil
}

const helpText = `feederd manages the ingestion, accounting, and dispatch of producer
datagrams to a downstream broker.

Usage:

	feederd [command] [arguments]

The commands are:

	run        run the feederd server (default)
	version    display version information
	help       display this help text
`
