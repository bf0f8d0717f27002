// Package socket handles the Unix domain socket shared by dashconfd and its
// clients: listening with stale-socket cleanup and permissions, and
// connecting with a grace period while the daemon starts up.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrAddressInUse is returned when another daemon already serves the socket.
	ErrAddressInUse = errors.New("address already in use")
	// ErrNotRunning is returned when the daemon process is not running.
	ErrNotRunning = errors.New("daemon not running")
)

// DaemonProcessName is the executable name looked up while waiting for the daemon.
const DaemonProcessName = "dashconfd"

// Config holds socket configuration options for the Socket.
type Config struct {
	// StartupTimeout is the maximum time to wait for daemon startup
	StartupTimeout time.Duration
	// RetryInterval is the interval between connection attempts
	RetryInterval time.Duration
	// StartupGrace is how long after New connection attempts are retried
	// without asking ProcessChecker, covering a daemon that was just spawned.
	StartupGrace time.Duration
	// Permissions defines the socket file permissions
	Permissions os.FileMode
	// ProcessName is the name of the daemon process to look for
	ProcessName string
}

// DefaultConfig returns a 5-second startup timeout, a 250ms retry interval,
// a 2-second grace period, OS-appropriate permissions, and dashconfd as the
// process name.
func DefaultConfig() *Config {
	return &Config{
		StartupTimeout: 5 * time.Second,
		RetryInterval:  250 * time.Millisecond,
		StartupGrace:   2 * time.Second,
		Permissions:    defaultPermissions(),
		ProcessName:    DaemonProcessName,
	}
}

// Socket dials and listens on the daemon socket.
type Socket struct {
	config    *Config
	procCheck ProcessChecker
	startTime time.Time
	mu        sync.RWMutex
}

// New creates a new Socket. If cfg is nil, DefaultConfig() is used.
func New(cfg *Config, checker ProcessChecker) *Socket {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if checker == nil {
		checker = &DefaultProcessChecker{}
	}
	return &Socket{
		config:    cfg,
		procCheck: checker,
		startTime: time.Now(),
	}
}

// ConnectContext dials path with the default configuration.
func ConnectContext(ctx context.Context, path string) (net.Conn, error) {
	return New(nil, nil).Connect(ctx, path)
}

// Listen creates a listener at path with the default configuration.
func Listen(path string) (net.Listener, error) {
	return New(nil, nil).Listen(path)
}

// Config returns the configuration in use.
func (s *Socket) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.config
}

// Connect dials path, retrying until it succeeds, ctx is done, or the
// startup timeout passes. Once the grace period is over, retries stop early
// if the daemon process is not running, and ErrNotRunning is returned.
func (s *Socket) Connect(ctx context.Context, path string) (net.Conn, error) {
	deadline := time.Now().Add(s.config.StartupTimeout)

	for {
		conn, err := (&net.Dialer{}).DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !s.shouldRetry(deadline) {
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RetryInterval):
		}
	}
}

// Listen creates a Unix domain socket listener at path. It creates the
// parent directory, removes a stale socket file, and applies permissions.
// ErrAddressInUse is returned if a live daemon already answers on path.
func (s *Socket) Listen(path string) (net.Listener, error) {
	if err := s.ensureSocketDirectory(path); err != nil {
		return nil, err
	}

	if err := s.checkExistingSocket(path); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("creating socket listener: %w", err)
	}

	if err := os.Chmod(path, s.config.Permissions); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	return listener, nil
}

func (s *Socket) shouldRetry(deadline time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if time.Now().After(deadline) {
		return false
	}
	if time.Since(s.startTime) < s.config.StartupGrace {
		return true
	}
	return s.procCheck.IsRunning(s.config.ProcessName)
}

func (s *Socket) ensureSocketDirectory(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	// A world-writable socket is useless inside a private directory.
	if s.config.Permissions == 0o666 {
		if fi, err := os.Stat(dir); err == nil && fi.Mode()&0o077 == 0 {
			if err := os.Chmod(dir, 0o755); err != nil {
				return fmt.Errorf("setting directory permissions: %w", err)
			}
		}
	}

	return nil
}

func (s *Socket) checkExistingSocket(path string) error {
	conn, err := net.Dial("unix", path)
	if err == nil {
		_ = conn.Close()
		return ErrAddressInUse
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	return nil
}

// defaultPermissions lets the unprivileged dashboard reach the root daemon
// on systems that can authenticate peers; elsewhere the socket stays private.
func defaultPermissions() os.FileMode {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
		return 0o666
	default:
		return 0o600
	}
}
