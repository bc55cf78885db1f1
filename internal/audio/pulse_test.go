package audio

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStream(buffer int) *pulseStream {
	return &pulseStream{
		device: Device{ID: "mic-1"},
		chunks: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func TestPulseStreamChunksAndFlushesResidual(t *testing.T) {
	s := newTestStream(8)

	input := make([]byte, chunkSizeBytes+111)
	for i := range input {
		input[i] = byte(i % 251)
	}

	n, err := s.write(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), s.BytesCaptured())

	first := <-s.Chunks()
	require.Equal(t, input[:chunkSizeBytes], first)

	require.NoError(t, s.Close())

	rest, ok := <-s.Chunks()
	require.True(t, ok)
	require.Equal(t, input[chunkSizeBytes:], rest)

	_, ok = <-s.Chunks()
	require.False(t, ok)
}

func drainChunks(s *pulseStream) []byte {
	var got []byte
	for chunk := range s.Chunks() {
		got = append(got, chunk...)
	}
	return got
}

func TestPulseStreamCloseDeliversResidualWhenBufferFull(t *testing.T) {
	s := newTestStream(1)

	input := make([]byte, chunkSizeBytes+10)
	for i := range input {
		input[i] = byte(i % 251)
	}
	_, err := s.write(input)
	require.NoError(t, err)
	require.Len(t, s.chunks, 1)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	require.Equal(t, input, drainChunks(s))
	require.NoError(t, <-closed)
}

func TestPulseStreamCloseWaitsForInFlightWrite(t *testing.T) {
	s := newTestStream(1)

	input := make([]byte, chunkSizeBytes*3+7)
	for i := range input {
		input[i] = byte(i % 241)
	}

	written := make(chan int, 1)
	go func() {
		n, _ := s.write(input)
		written <- n
	}()
	require.Eventually(t, func() bool { return len(s.chunks) == 1 }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	require.Equal(t, input, drainChunks(s))
	require.Equal(t, len(input), <-written)
	require.NoError(t, <-closed)
}

func TestPulseStreamWriteAfterCloseIsEOF(t *testing.T) {
	s := newTestStream(1)
	require.NoError(t, s.Close())

	n, err := s.write([]byte{1, 2, 3})
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, s.BytesCaptured())
}

func TestPulseStreamCloseIsIdempotent(t *testing.T) {
	s := newTestStream(1)
	require.Equal(t, "mic-1", s.Device().ID)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestPulseStreamFeedsController(t *testing.T) {
	s := newTestStream(8)
	ctrl := NewController(SourceFunc(func(_ context.Context) (Stream, error) { return s, nil }), nil)

	_, err := ctrl.Start(context.Background())
	require.NoError(t, err)

	_, err = s.write(make([]byte, chunkSizeBytes*2+10))
	require.NoError(t, err)

	payload, ok := ctrl.Stop(context.Background())
	require.True(t, ok)
	require.Len(t, payload.Data, chunkSizeBytes*2+10)
}
