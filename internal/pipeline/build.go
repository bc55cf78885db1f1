package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/config"
	"github.com/rbright/misty/internal/jobs"
)

// Pipeline holds the concrete collaborators of one session controller.
type Pipeline struct {
	Recorder *audio.Controller
	Client   *jobs.Client
	Uploader *Uploader
	Poller   *jobs.Poller
}

// Build constructs the capture controller, backend client, and poller.
func Build(cfg config.Config, logger *slog.Logger) (Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client, err := NewClient(cfg)
	if err != nil {
		return Pipeline{}, err
	}

	poller, err := jobs.NewPoller(client, cfg.PollInterval(), cfg.Poll.MaxAttempts)
	if err != nil {
		return Pipeline{}, fmt.Errorf("configure poller: %w", err)
	}

	source := audio.PulseSource{
		Input:    cfg.Audio.Input,
		Fallback: cfg.Audio.Fallback,
		OnSelect: func(selection audio.Selection) {
			if selection.Warning != "" {
				logger.Warn(selection.Warning)
			}
			logger.Debug("audio device selected",
				"device", describeDevice(selection.Device),
				"fallback", selection.Fallback,
			)
		},
	}

	return Pipeline{
		Recorder: audio.NewController(source, logger),
		Client:   client,
		Uploader: NewUploader(client, logger, cfg.Debug.AudioDump),
		Poller:   poller,
	}, nil
}

// NewClient builds the backend client from the backend config section.
func NewClient(cfg config.Config) (*jobs.Client, error) {
	client, err := jobs.NewClient(jobs.Options{
		BaseURL:    cfg.Backend.URL,
		UploadPath: cfg.Backend.UploadPath,
		Timeout:    cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("configure backend client: %w", err)
	}
	return client, nil
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
