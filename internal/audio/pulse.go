package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	SampleRate = 16000
	Channels   = 1

	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16le
)

// PulseSource opens record streams on the selected Pulse input.
type PulseSource struct {
	Input    string
	Fallback string
	// OnSelect, when set, receives the resolved device before capture starts.
	OnSelect func(Selection)
}

// Open resolves the configured device and starts a record stream on it.
// Failures to find or open a device wrap ErrDeviceUnavailable.
func (s PulseSource) Open(ctx context.Context) (Stream, error) {
	selection, err := SelectDevice(ctx, s.Input, s.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if s.OnSelect != nil {
		s.OnSelect(selection)
	}

	stream, err := openPulseStream(ctx, selection.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return stream, nil
}

// pulseStream emits fixed-size s16le chunks from one Pulse record stream.
type pulseStream struct {
	device Device

	client *pulse.Client
	record *pulse.RecordStream

	chunks chan []byte
	done   chan struct{}

	mu      sync.Mutex
	pending []byte
	closed  bool

	writers sync.WaitGroup
	bytes   atomic.Int64
}

func openPulseStream(ctx context.Context, device Device) (*pulseStream, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	s := &pulseStream{
		device: device,
		client: client,
		chunks: make(chan []byte, 128),
		done:   make(chan struct{}),
	}

	record, err := client.NewRecord(
		pulse.NewWriter(writerFunc(s.write), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("misty voice capture"),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	s.record = record
	record.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func (s *pulseStream) Device() Device { return s.device }

func (s *pulseStream) Chunks() <-chan []byte { return s.chunks }

func (s *pulseStream) BytesCaptured() int64 { return s.bytes.Load() }

// Close stops the record stream, waits for in-flight writes, delivers the
// residual partial chunk and closes Chunks. Later calls are no-ops.
func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.record != nil {
		s.record.Stop()
		s.record.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.writers.Wait()

	s.mu.Lock()
	rest := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(rest) > 0 {
		s.chunks <- rest
	}
	close(s.chunks)
	return nil
}

// write receives raw frames from Pulse and re-slices them into chunkSizeBytes.
func (s *pulseStream) write(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under mu so Close never races Wait against a new writer.
	s.writers.Add(1)
	defer s.writers.Done()

	s.pending = append(s.pending, buffer...)
	var ready [][]byte
	for len(s.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, s.pending[:chunkSizeBytes])
		s.pending = s.pending[chunkSizeBytes:]
		ready = append(ready, chunk)
	}
	s.mu.Unlock()

	s.bytes.Add(int64(len(buffer)))

	// Chunks cut here precede the residual, so they are delivered even when
	// Close has started.
	for _, chunk := range ready {
		s.chunks <- chunk
	}
	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
