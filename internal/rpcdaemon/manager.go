// Package rpcdaemon ensures a single shared RPC agent daemon per host and
// discovers it across processes via an on-disk state file, the same
// pattern the teacher's internal/daemonrunner uses for its own daemon.lock
// (indented JSON metadata written to a temp file, then an atomic rename;
// no fsync) combined with internal/rpc/client.go's self-healing reconnect
// (probe-before-dial, clean up stale artifacts).
package rpcdaemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/lockfile"
)

const (
	schemaVersion  = 1
	startupTimeout = 15 * time.Second
)

var wsURLPattern = regexp.MustCompile(`ws://127\.0\.0\.1:(\d+)`)

// Descriptor is the cached, on-disk view of the running daemon.
type Descriptor struct {
	Version   int       `json:"version"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"startedAt"`
}

// Manager owns the spawn/discover/reset lifecycle of the single shared
// daemon process for this host.
type Manager struct {
	homeDir string
	command string
	args    []string
}

// New returns a Manager rooted at homeDir ($HOME/.dev-sessions), spawning
// command with args when a daemon needs to be started.
func New(homeDir, command string, args []string) *Manager {
	return &Manager{homeDir: homeDir, command: command, args: args}
}

func (m *Manager) statePath() string { return filepath.Join(m.homeDir, "rpc-daemon.json") }
func (m *Manager) logPath() string   { return filepath.Join(m.homeDir, "rpc-daemon.log") }

func (m *Manager) readState() (Descriptor, bool) {
	data, err := os.ReadFile(m.statePath()) // #nosec G304 - fixed path under homeDir
	if err != nil {
		return Descriptor{}, false
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, false
	}
	return d, true
}

func (m *Manager) writeState(d Descriptor) error {
	if err := os.MkdirAll(m.homeDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.statePath())
}

func (m *Manager) clearState() {
	_ = os.Remove(m.statePath())
}

// WriteTestDescriptor seeds the state file directly, bypassing EnsureServer.
// Exported for tests that stand up a fake daemon and want EnsureServer to
// find it already cached rather than spawning a real process.
func WriteTestDescriptor(m *Manager, d Descriptor) error {
	return m.writeState(d)
}

// GetServer returns the cached descriptor if its pid is alive, clearing
// the state file otherwise.
func (m *Manager) GetServer() (Descriptor, bool) {
	d, ok := m.readState()
	if !ok {
		return Descriptor{}, false
	}
	if !isProcessAlive(d.PID) {
		m.clearState()
		return Descriptor{}, false
	}
	return d, true
}

func (m *Manager) spawnLockPath() string { return filepath.Join(m.homeDir, "rpc-daemon.spawn.lock") }

// EnsureServer returns the cached descriptor if alive, else spawns the
// daemon detached, waits for its ws:// URL to appear in the log, verifies a
// TCP connect, and persists the new state atomically.
//
// Two processes racing into EnsureServer at once must not both decide the
// daemon is missing and spawn it: the spawn itself is guarded by an
// exclusive flock on a sibling file, so the loser blocks until the winner
// has published its descriptor and then simply returns that descriptor.
func (m *Manager) EnsureServer(ctx context.Context) (Descriptor, error) {
	if d, ok := m.GetServer(); ok {
		return d, nil
	}

	if err := os.MkdirAll(m.homeDir, 0o755); err != nil {
		return Descriptor{}, err
	}

	lockHandle, err := os.OpenFile(m.spawnLockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return Descriptor{}, fmt.Errorf("rpcdaemon: open spawn lock: %w", err)
	}
	defer lockHandle.Close()
	if err := lockfile.FlockExclusiveBlocking(lockHandle); err != nil {
		return Descriptor{}, fmt.Errorf("rpcdaemon: acquire spawn lock: %w", err)
	}
	defer lockfile.FlockUnlock(lockHandle) // #nosec G104 - best-effort, the fd close also drops it

	if d, ok := m.GetServer(); ok { // re-check: the lock's previous holder may have just spawned it
		return d, nil
	}

	logFile, err := os.OpenFile(m.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Descriptor{}, fmt.Errorf("rpcdaemon: open log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(context.Background(), m.command, m.args...) // detached: outlives ctx
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return Descriptor{}, fmt.Errorf("rpcdaemon: spawn: %w", err)
	}
	pid := cmd.Process.Pid
	go cmd.Wait() // reap; the daemon is meant to outlive this process

	url, port, err := m.waitForListenURL(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	if err := verifyTCPConnect(ctx, port, startupTimeout); err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{Version: schemaVersion, PID: pid, Port: port, URL: url, StartedAt: time.Now().UTC()}
	if err := m.writeState(d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// waitForListenURL tails the daemon log via fsnotify, waiting up to
// startupTimeout for a ws://127.0.0.1:<port> line to appear.
func (m *Manager) waitForListenURL(ctx context.Context) (string, int, error) {
	if url, port, ok := scanForListenURL(m.logPath()); ok {
		return url, port, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", 0, fmt.Errorf("rpcdaemon: fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.logPath()); err != nil {
		return "", 0, fmt.Errorf("rpcdaemon: watch log: %w", err)
	}

	deadline := time.After(startupTimeout)
	for {
		select {
		case <-watcher.Events:
			if url, port, ok := scanForListenURL(m.logPath()); ok {
				return url, port, nil
			}
		case err := <-watcher.Errors:
			debug.Logf("rpcdaemon: watcher error: %v\n", err)
		case <-deadline:
			return "", 0, errors.New("rpcdaemon: timed out waiting for daemon to report its listen url")
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
}

func scanForListenURL(logPath string) (string, int, bool) {
	f, err := os.Open(logPath) // #nosec G304 - fixed path under homeDir
	if err != nil {
		return "", 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := wsURLPattern.FindStringSubmatch(scanner.Text()); m != nil {
			var port int
			fmt.Sscanf(m[1], "%d", &port)
			return m[0], port, true
		}
	}
	return "", 0, false
}

func verifyTCPConnect(ctx context.Context, port int, timeout time.Duration) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = timeout

	var lastErr error
	err := backoff.Retry(func() error {
		conn, dialErr := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if dialErr != nil {
			lastErr = dialErr
			return dialErr
		}
		conn.Close()
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("rpcdaemon: could not verify TCP connect to %s: %w", addr, lastErr)
	}
	return nil
}

// ResetServer sends SIGTERM to the cached pid (ignoring ESRCH) and deletes
// the state file. Used by the RPC Backend on a transport-failure retry.
func (m *Manager) ResetServer() error {
	d, ok := m.readState()
	m.clearState()
	if !ok {
		return nil
	}
	if err := syscall.Kill(d.PID, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("rpcdaemon: signal pid %d: %w", d.PID, err)
	}
	return nil
}

// StopServer is ResetServer without a target filter — it always operates
// on whatever is currently cached.
func (m *Manager) StopServer() error {
	return m.ResetServer()
}

// IsServerRunning checks a specific pid's liveness when given, else falls
// back to whether GetServer finds a cached, alive descriptor.
func (m *Manager) IsServerRunning(pid int) bool {
	if pid > 0 {
		return isProcessAlive(pid)
	}
	_, ok := m.GetServer()
	return ok
}
