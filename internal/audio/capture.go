package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceUnavailable means no input device was granted or present.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDeviceBusy means another capture holds the device in this process.
	ErrDeviceBusy = errors.New("audio device busy")
)

// captureSlot is held by at most one active capture per process.
var captureSlot atomic.Bool

// Stream is an open input that delivers chunks until closed. Close must close
// the Chunks channel and be safe to call more than once. Consumers drain
// Chunks until it closes; a stream may block Close on an undrained channel.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
}

// Source opens input streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Stream, error)

func (f SourceFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// Payload is the finalized audio of one capture session.
type Payload struct {
	SessionID string
	Data      []byte
	Chunks    int
	Duration  time.Duration
}

// Session accumulates chunks for one capture and finalizes them at most once.
type Session struct {
	ID        string
	StartedAt time.Time

	mu        sync.Mutex
	chunks    [][]byte
	finalized bool
	payload   Payload
}

func newSession(now time.Time) *Session {
	return &Session{ID: uuid.NewString(), StartedAt: now}
}

// Append adds a chunk. It reports false once the session is finalized.
func (s *Session) Append(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false
	}
	s.chunks = append(s.chunks, chunk)
	return true
}

// Finalize concatenates the chunks in arrival order and drops them. Every
// call returns the same payload.
func (s *Session) Finalize(now time.Time) Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return s.payload
	}

	size := 0
	for _, chunk := range s.chunks {
		size += len(chunk)
	}
	data := make([]byte, 0, size)
	for _, chunk := range s.chunks {
		data = append(data, chunk...)
	}

	s.payload = Payload{
		SessionID: s.ID,
		Data:      data,
		Chunks:    len(s.chunks),
		Duration:  now.Sub(s.StartedAt),
	}
	s.chunks = nil
	s.finalized = true
	return s.payload
}

type activeCapture struct {
	session   *Session
	stream    Stream
	collected chan struct{}
}

// Controller owns the start/stop lifecycle of one input at a time.
type Controller struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active *activeCapture
}

func NewController(source Source, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{source: source, logger: logger, now: time.Now}
}

// Active reports whether a capture is in progress.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Start opens the input and begins collecting chunks. It returns the active
// session id unchanged when a capture is already running on this controller
// and ErrDeviceBusy when another controller holds the device.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return c.active.session.ID, nil
	}
	if c.source == nil {
		return "", fmt.Errorf("%w: no audio source configured", ErrDeviceUnavailable)
	}
	if !captureSlot.CompareAndSwap(false, true) {
		return "", ErrDeviceBusy
	}

	stream, err := c.source.Open(ctx)
	if err != nil {
		captureSlot.Store(false)
		if errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrDeviceBusy) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	active := &activeCapture{
		session:   newSession(c.now()),
		stream:    stream,
		collected: make(chan struct{}),
	}
	c.active = active
	go collect(active)

	c.logger.Debug("capture started", "capture_id", active.session.ID)
	return active.session.ID, nil
}

func collect(active *activeCapture) {
	defer close(active.collected)
	for chunk := range active.stream.Chunks() {
		active.session.Append(chunk)
	}
}

// Stop ends the capture and returns its payload. It reports false, without
// touching the device, when no capture is active.
func (c *Controller) Stop(ctx context.Context) (Payload, bool) {
	active := c.detach()
	if active == nil {
		return Payload{}, false
	}

	c.release(ctx, active)
	payload := active.session.Finalize(c.now())
	c.logger.Debug("capture stopped",
		"capture_id", payload.SessionID,
		"chunks", payload.Chunks,
		"bytes", len(payload.Data),
	)
	return payload, true
}

// Discard ends the capture without producing a payload.
func (c *Controller) Discard(ctx context.Context) {
	active := c.detach()
	if active == nil {
		return
	}
	c.release(ctx, active)
	active.session.Finalize(c.now())
	c.logger.Debug("capture discarded", "capture_id", active.session.ID)
}

func (c *Controller) detach() *activeCapture {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.active
	c.active = nil
	return active
}

// release closes the stream, waits for remaining chunks to drain and frees the
// process-wide slot.
func (c *Controller) release(ctx context.Context, active *activeCapture) {
	defer captureSlot.Store(false)

	if err := active.stream.Close(); err != nil {
		c.logger.Warn("close capture stream", "capture_id", active.session.ID, "error", err.Error())
	}
	select {
	case <-active.collected:
	case <-ctx.Done():
		c.logger.Warn("capture drain interrupted", "capture_id", active.session.ID, "error", ctx.Err().Error())
	}
}
