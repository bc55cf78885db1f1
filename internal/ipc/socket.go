package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning means another process owns the session socket.
var ErrAlreadyRunning = errors.New("misty session already running")

const socketName = "misty.sock"

// RuntimeSocketPath returns the owner socket under XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, socketName), nil
}

// OwnerOptions tunes how a session claims the owner socket.
type OwnerOptions struct {
	// ProbeTimeout bounds the status roundtrip used to tell a live owner from
	// a crashed one.
	ProbeTimeout time.Duration
	// Retries is how many more times to bind after clearing a dead socket.
	Retries int
	// OnStale is called with the path of each dead owner's socket removed.
	OnStale func(path string)
}

// Owner is this process's claim on the session socket.
type Owner struct {
	net.Listener

	path string
}

// Path returns the socket path the owner listens on.
func (o *Owner) Path() string { return o.path }

// Release stops listening and unlinks the socket unless another owner has
// since bound a live one at the same path. It is safe after Serve has closed
// the listener.
func (o *Owner) Release() error {
	closeErr := o.Listener.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}

	info, err := os.Lstat(o.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return closeErr
	case err != nil:
		return errors.Join(closeErr, fmt.Errorf("stat socket %s: %w", o.path, err))
	case info.Mode().Type() != fs.ModeSocket:
		return closeErr
	}
	if conn, err := net.DialTimeout("unix", o.path, 50*time.Millisecond); err == nil {
		_ = conn.Close()
		return closeErr
	}
	if err := os.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("remove socket %s: %w", o.path, err))
	}
	return closeErr
}

// ClaimOwner binds the session socket at path. A live owner yields
// ErrAlreadyRunning. A socket left by a crashed owner is unlinked and the bind
// retried; anything at path that is not a socket is left alone.
func ClaimOwner(ctx context.Context, path string, opts OwnerOptions) (*Owner, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		owner, err := bind(path)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt >= opts.Retries {
			return nil, fmt.Errorf("claim socket %s: still in use after %d retries", path, opts.Retries)
		}

		if err := clearDeadOwner(ctx, path, opts); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}

func bind(path string) (*Owner, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// Release decides whether the path is still ours to unlink.
	if ul, ok := listener.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	_ = os.Chmod(path, 0o600)
	return &Owner{Listener: listener, path: path}, nil
}

func clearDeadOwner(ctx context.Context, path string, opts OwnerOptions) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket %s: %w", path, err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	alive, err := Probe(ctx, path, opts.ProbeTimeout)
	if alive {
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("probe existing socket %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	if opts.OnStale != nil {
		opts.OnStale(path)
	}
	return nil
}
