// Package pipeline wires capture, upload, and status polling from runtime config.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/jobs"
	"github.com/rbright/misty/internal/logging"
	"github.com/rbright/misty/internal/session"
)

// Uploader wraps captured PCM in a WAV container and submits it as one job.
type Uploader struct {
	next      session.Submitter
	logger    *slog.Logger
	audioDump bool
	now       func() time.Time
}

// NewUploader returns an Uploader that forwards encoded audio to next.
func NewUploader(next session.Submitter, logger *slog.Logger, audioDump bool) *Uploader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Uploader{next: next, logger: logger, audioDump: audioDump, now: time.Now}
}

// Submit encodes pcm (s16le mono) and hands the WAV to the backend client.
func (u *Uploader) Submit(ctx context.Context, pcm []byte) (jobs.JobID, error) {
	wavBytes, err := audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels)
	if err != nil {
		return "", &jobs.SubmissionFailedError{Err: fmt.Errorf("encode wav: %w", err)}
	}
	if u.audioDump {
		u.writeDebugAudio(wavBytes)
	}

	started := u.now()
	id, err := u.next.Submit(ctx, wavBytes)
	if err != nil {
		return "", err
	}
	u.logger.Debug("job submitted",
		"job_id", id.String(),
		"wav_bytes", len(wavBytes),
		"upload_ms", u.now().Sub(started).Milliseconds(),
	)
	return id, nil
}

// writeDebugAudio keeps a copy of the submitted WAV; failures only warn.
func (u *Uploader) writeDebugAudio(wavBytes []byte) {
	file, err := createDebugFile("audio", "wav", u.now())
	if err != nil {
		u.logger.Warn("unable to create debug audio dump", "error", err.Error())
		return
	}
	defer file.Close()

	if _, err := file.Write(wavBytes); err != nil {
		u.logger.Warn("unable to write debug audio dump", "path", file.Name(), "error", err.Error())
		return
	}
	u.logger.Debug("debug audio dump written", "path", file.Name())
}

// createDebugFile creates a timestamped artifact under the state debug dir.
func createDebugFile(prefix string, extension string, now time.Time) (*os.File, error) {
	stateDir, err := logging.StateDir()
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	debugDir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, now.Format("20060102-150405.000"), extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}
