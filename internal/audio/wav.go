package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps raw s16le PCM in a WAV container. A trailing odd byte is
// dropped; an empty payload yields a header-only file.
func EncodeWAV(pcm []byte, sampleRate int, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be > 0")
	}
	if channels <= 0 {
		return nil, errors.New("channels must be > 0")
	}

	// wav.Encoder seeks back to patch chunk sizes, so it needs a file.
	f, err := os.CreateTemp("", "misty-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	if err := WriteWAV(f, pcm, sampleRate, channels); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	out, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return out, nil
}

// WriteWAV encodes pcm into w as 16-bit WAV.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           pcmToSamples(pcm),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

func pcmToSamples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
