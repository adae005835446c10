// Package cli wires configuration, supervisor, transport, and the MCP
// bridge into the opencode-mcp commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/lydakis/opencode-mcp/internal/bridge"
	"github.com/lydakis/opencode-mcp/internal/config"
	"github.com/lydakis/opencode-mcp/internal/opencode"
	"github.com/lydakis/opencode-mcp/internal/paths"
	"github.com/lydakis/opencode-mcp/internal/supervisor"
	"github.com/lydakis/opencode-mcp/internal/transport"
)

const (
	exitOK       = 0
	exitUsageErr = 2
	exitInternal = 3
)

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if handled, code := handleRootFlags(args); handled {
		return code
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(rootStderr, "opencode-mcp: %v\n", err)
		return exitInternal
	}
	if verr := config.Validate(cfg); verr != nil {
		fmt.Fprintf(rootStderr, "opencode-mcp: invalid config: %v\n", verr)
		return exitUsageErr
	}

	if len(args) == 0 {
		return serve(cfg)
	}

	switch args[0] {
	case "serve":
		return serve(cfg)
	case "status":
		return status(cfg)
	case "version":
		fmt.Fprintf(rootStdout, "opencode-mcp %s\n", buildVersion)
		return exitOK
	case "help":
		printRootHelp(rootStdout)
		return exitOK
	default:
		fmt.Fprintf(rootStderr, "opencode-mcp: unknown command: %s\n", args[0])
		printRootHelp(rootStderr)
		return exitUsageErr
	}
}

// serve runs the MCP bridge over stdio until the client disconnects or a
// termination signal arrives. All diagnostics go to stderr; stdout carries
// the MCP channel only.
func serve(cfg *config.Config) int {
	logf, closeLog := newLogf()
	defer closeLog()

	sup := supervisor.New(supervisor.Options{
		BaseURL:    cfg.URL,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Command:    cfg.BackendCommand(),
		Args:       cfg.BackendArgs(),
		HealthWait: cfg.HealthWait(),
		Logf:       logf,
	})
	defer sup.Close()

	client := transport.NewClient(transport.Options{
		BaseURL:          cfg.URL,
		Username:         cfg.Username,
		Password:         cfg.Password,
		Headers:          cfg.Headers,
		MaxAttempts:      cfg.MaxAttempts(),
		BaseDelay:        cfg.BaseDelay(),
		MaxDelay:         cfg.MaxDelay(),
		RequestTimeout:   cfg.RequestTimeout(),
		ConnectTimeout:   cfg.ConnectTimeout(),
		AutoStart:        cfg.AutoStartEnabled(),
		Supervisor:       sup,
		ReconnectCeiling: cfg.ReconnectCeiling(),
		Logf:             logf,
	})

	srv := bridge.NewServer(opencode.New(client), buildVersion)

	// An owned backend must not outlive the bridge, even on SIGINT/SIGTERM.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		fmt.Fprintf(rootStderr, "opencode-mcp: received %v, shutting down\n", sig)
		sup.Close()
		os.Exit(exitOK)
	}()

	if err := bridge.Serve(srv); err != nil {
		fmt.Fprintf(rootStderr, "opencode-mcp: %v\n", err)
		return exitInternal
	}
	return exitOK
}

// newLogf builds the diagnostic logger for serve: every line goes to
// stderr and, best effort, to the state-dir log file. Stdout is never
// written to while serving.
func newLogf() (func(format string, args ...any), func()) {
	var logFile *os.File
	if err := paths.EnsureDir(paths.StateDir()); err == nil {
		logFile, _ = os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	}

	logf := func(format string, args ...any) {
		line := fmt.Sprintf("opencode-mcp: "+format+"\n", args...)
		fmt.Fprint(rootStderr, line)
		if logFile != nil {
			fmt.Fprint(logFile, line)
		}
	}
	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}
	return logf, closeLog
}

// status probes the backend once and reports reachability.
func status(cfg *config.Config) int {
	sup := supervisor.New(supervisor.Options{
		BaseURL:  cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	if sup.Reachable(context.Background()) {
		fmt.Fprintf(rootStdout, "backend reachable at %s\n", cfg.URL)
		return exitOK
	}
	fmt.Fprintf(rootStdout, "backend not reachable at %s\n", cfg.URL)
	if cfg.AutoStartEnabled() {
		fmt.Fprintln(rootStdout, "auto-start is on; it will be launched on first use")
	}
	return 1
}

func printRootHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  opencode-mcp [serve]    Serve MCP over stdio (default)")
	fmt.Fprintln(out, "  opencode-mcp status     Probe the backend once")
	fmt.Fprintln(out, "  opencode-mcp version    Show version")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	fmt.Fprintln(out, "  --help, -h       Show help")
	fmt.Fprintln(out, "  --version, -V    Show version")
	fmt.Fprintf(out, "\nConfig file: %s\n", config.ExampleConfigPath())
}
