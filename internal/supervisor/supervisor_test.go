package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func saveHooks() func() {
	oldStart := startCommandFn
	oldKill := killFn
	oldLookPath := lookPathFn
	return func() {
		startCommandFn = oldStart
		killFn = oldKill
		lookPathFn = oldLookPath
	}
}

func writeSleepScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-opencode")
	script := "#!/bin/sh\nsleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, baseURL, command string) *Supervisor {
	t.Helper()
	s := New(Options{
		BaseURL:      baseURL,
		Command:      command,
		HealthWait:   3 * time.Second,
		ProbeTimeout: 500 * time.Millisecond,
		Logf: func(format string, args ...any) {
			t.Logf("supervisor: "+format, args...)
		},
	})
	t.Cleanup(s.Close)
	return s
}

// healthServer flips between unhealthy (503) and healthy (200).
func healthServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthPath {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureRunningIsNoOpWhenBackendReachable(t *testing.T) {
	restore := saveHooks()
	defer restore()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := healthServer(t, &healthy)

	var launched atomic.Int32
	startCommandFn = func(cmd *exec.Cmd) error {
		launched.Add(1)
		return errors.New("must not launch")
	}

	s := newTestSupervisor(t, srv.URL, "irrelevant")
	if err := s.EnsureRunning(context.Background()); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if got := launched.Load(); got != 0 {
		t.Fatalf("launches = %d, want 0 for a healthy backend", got)
	}
	if s.Owned() {
		t.Fatal("Owned() = true, want false: nothing was launched")
	}
}

func TestEnsureRunningConcurrentCallersLaunchExactlyOnce(t *testing.T) {
	restore := saveHooks()
	defer restore()

	var healthy atomic.Bool
	srv := healthServer(t, &healthy)
	script := writeSleepScript(t)

	var launches atomic.Int32
	realStart := startCommandFn
	startCommandFn = func(cmd *exec.Cmd) error {
		launches.Add(1)
		if err := realStart(cmd); err != nil {
			return err
		}
		// Simulate startup latency before the backend reports healthy.
		go func() {
			time.Sleep(100 * time.Millisecond)
			healthy.Store(true)
		}()
		return nil
	}

	s := newTestSupervisor(t, srv.URL, script)

	const callers = 10
	start := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.EnsureRunning(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureRunning() error = %v", err)
		}
	}
	if got := launches.Load(); got != 1 {
		t.Fatalf("launches = %d, want exactly 1", got)
	}
	if !s.Owned() {
		t.Fatal("Owned() = false, want true after launching")
	}
}

func TestEnsureRunningFailsWhenExecutableMissing(t *testing.T) {
	restore := saveHooks()
	defer restore()

	t.Setenv("HOME", t.TempDir())
	lookPathFn = func(file string) (string, error) {
		return "", exec.ErrNotFound
	}

	var healthy atomic.Bool
	srv := healthServer(t, &healthy)

	s := newTestSupervisor(t, srv.URL, "opencode")
	err := s.EnsureRunning(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("EnsureRunning() error = %v, want ErrNotFound", err)
	}
}

func TestEnsureRunningTimesOutWhenBackendNeverHealthy(t *testing.T) {
	restore := saveHooks()
	defer restore()

	var healthy atomic.Bool // stays false
	srv := healthServer(t, &healthy)
	script := writeSleepScript(t)

	s := New(Options{
		BaseURL:      srv.URL,
		Command:      script,
		HealthWait:   400 * time.Millisecond,
		ProbeTimeout: 200 * time.Millisecond,
		Logf:         func(string, ...any) {},
	})
	defer s.Close()

	err := s.EnsureRunning(context.Background())
	if !errors.Is(err, ErrNeverHealthy) {
		t.Fatalf("EnsureRunning() error = %v, want ErrNeverHealthy", err)
	}
}

func TestReachableTreatsAuthChallengeAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestSupervisor(t, srv.URL, "irrelevant")
	if !s.Reachable(context.Background()) {
		t.Fatal("Reachable() = false, want true: 401 proves a live listener")
	}
}

func TestReachableFalseWhenNothingListens(t *testing.T) {
	s := newTestSupervisor(t, "http://127.0.0.1:1", "irrelevant")
	if s.Reachable(context.Background()) {
		t.Fatal("Reachable() = true, want false")
	}
}

func TestCloseTerminatesOwnedProcess(t *testing.T) {
	script := writeSleepScript(t)

	s := newTestSupervisor(t, "http://127.0.0.1:1", script)
	if err := s.launch(script); err != nil {
		t.Fatalf("launch() error = %v", err)
	}

	s.mu.Lock()
	pid := s.proc.Pid
	s.mu.Unlock()

	s.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); err != nil {
			return // process gone
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive after Close()", pid)
}

func TestCloseNeverTouchesABackendItDidNotLaunch(t *testing.T) {
	restore := saveHooks()
	defer restore()

	var killed atomic.Int32
	killFn = func(pid int, sig unix.Signal) error {
		killed.Add(1)
		return nil
	}

	s := newTestSupervisor(t, "http://127.0.0.1:1", "irrelevant")
	s.Close()

	if got := killed.Load(); got != 0 {
		t.Fatalf("kill calls = %d, want 0 when nothing is owned", got)
	}
}
