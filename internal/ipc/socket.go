package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const socketName = "voiceassist.sock"

// ErrAlreadyRunning is returned by Acquire when a live listener owns the socket.
var ErrAlreadyRunning = errors.New("voiceassist listener already running")

// RuntimeSocketPath is the control socket under $XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// AcquireOptions tune how Acquire deals with an existing socket file.
type AcquireOptions struct {
	// ProbeTimeout bounds the status probe sent to a possible owner.
	ProbeTimeout time.Duration
	// Retries is how many more times to listen after clearing a stale socket.
	Retries int
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 180 * time.Millisecond
	}
	if o.Retries <= 0 {
		o.Retries = 8
	}
	return o
}

// Acquire claims the control socket for this process. A socket answered by a
// live listener yields ErrAlreadyRunning; a dead one is unlinked and retried.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}

		if attempt >= opts.Retries {
			return nil, fmt.Errorf("acquire socket %s: gave up after %d retries", path, opts.Retries)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

// Release closes the listener and unlinks its socket file.
func Release(listener net.Listener, path string) {
	if listener != nil {
		_ = listener.Close()
	}
	_ = os.Remove(path)
}
