// Package supervisor guarantees, on demand, that a reachable backend
// process exists. It never interferes with a backend the user runs
// independently: only a process the supervisor itself launched is ever
// terminated by it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

// healthPath is the well-known reachability probe route on the backend.
const healthPath = "/global/health"

const probeInterval = 250 * time.Millisecond

// ErrNotFound means no backend executable could be located.
var ErrNotFound = errors.New("backend executable not found")

// ErrNeverHealthy means a launched backend did not become reachable in time.
var ErrNeverHealthy = errors.New("backend did not become reachable")

// Hooks for tests, mirroring how launch seams are done elsewhere in this
// repo's lineage of spawn code.
var (
	startCommandFn = func(cmd *exec.Cmd) error { return cmd.Start() }
	killFn         = unix.Kill
)

// Options configures a Supervisor.
type Options struct {
	BaseURL  string
	Username string
	Password string

	// Command is the executable name or path; Args are the serve arguments.
	Command string
	Args    []string

	// HealthWait bounds how long a freshly launched backend may take to
	// become reachable. ProbeTimeout bounds one health request.
	HealthWait   time.Duration
	ProbeTimeout time.Duration

	Logf func(format string, args ...any)
}

// Supervisor owns at most one backend child process at a time.
type Supervisor struct {
	opts       Options
	httpClient *http.Client
	logf       func(format string, args ...any)

	group singleflight.Group

	mu       sync.Mutex
	proc     *os.Process // owned child, nil when none
	procDone chan struct{}
}

// New builds a Supervisor.
func New(opts Options) *Supervisor {
	if opts.HealthWait <= 0 {
		opts.HealthWait = 15 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "opencode-mcp: "+format+"\n", args...)
		}
	}
	return &Supervisor{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.ProbeTimeout},
		logf:       logf,
	}
}

// EnsureRunning probes the backend and launches it when absent, waiting
// until it is reachable. Concurrent callers that detect the same outage
// share a single launch; each receives its outcome.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	_, err, _ := s.group.Do("ensure", func() (any, error) {
		return nil, s.ensure(ctx)
	})
	return err
}

func (s *Supervisor) ensure(ctx context.Context) error {
	if s.Reachable(ctx) {
		return nil
	}

	s.reapExited()

	s.mu.Lock()
	alreadyOwned := s.proc != nil
	s.mu.Unlock()

	if alreadyOwned {
		// Our child is alive but not answering yet; give it the health
		// window instead of spawning a duplicate.
		return s.waitReachable(ctx)
	}

	path, err := LocateExecutable(s.opts.Command)
	if err != nil {
		return err
	}

	if err := s.launch(path); err != nil {
		return err
	}
	return s.waitReachable(ctx)
}

// Reachable reports whether the backend answers its health route.
func (s *Supervisor) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.BaseURL+healthPath, nil)
	if err != nil {
		return false
	}
	if s.opts.Password != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	// Any non-5xx answer proves a live backend; auth failures still mean
	// something is listening and restarting it would not help.
	return resp.StatusCode < 500
}

// launch starts the backend detached: its own process group, standard
// streams redirected to /dev/null so they can never corrupt the bridge's
// stdio MCP channel.
func (s *Supervisor) launch(path string) error {
	cmd := exec.Command(path, s.opts.Args...)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := startCommandFn(cmd); err != nil {
		return fmt.Errorf("launching %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	s.mu.Lock()
	s.proc = cmd.Process
	s.procDone = done
	s.mu.Unlock()

	s.logf("launched backend %s (pid %d)", path, cmd.Process.Pid)
	return nil
}

func (s *Supervisor) waitReachable(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.HealthWait)
	for time.Now().Before(deadline) {
		if s.Reachable(ctx) {
			return nil
		}
		select {
		case <-time.After(probeInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w within %v", ErrNeverHealthy, s.opts.HealthWait)
}

// reapExited clears the owned-process handle if the child already exited,
// so a crashed backend can be relaunched.
func (s *Supervisor) reapExited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return
	}
	select {
	case <-s.procDone:
		s.proc = nil
		s.procDone = nil
	default:
	}
}

// Owned reports whether the supervisor currently holds a launched child.
func (s *Supervisor) Owned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Close terminates the owned child, if any: SIGTERM to its process group,
// then SIGKILL after a short grace period. A backend the supervisor merely
// found running is untouched. Safe to call multiple times; invoked on
// normal exit and, best effort, from signal handlers.
func (s *Supervisor) Close() {
	s.mu.Lock()
	proc := s.proc
	done := s.procDone
	s.proc = nil
	s.procDone = nil
	s.mu.Unlock()

	if proc == nil {
		return
	}

	// Negative pid targets the process group created at launch.
	_ = killFn(-proc.Pid, unix.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(2 * time.Second):
	}
	_ = killFn(-proc.Pid, unix.SIGKILL)
	s.logf("backend pid %d did not exit on SIGTERM, killed", proc.Pid)
}
