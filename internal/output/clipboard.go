// Package output commits completed replies to the clipboard.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/misty/internal/config"
)

const clipboardTimeout = 2 * time.Second

// Clipboard pipes a completed reply into the configured clipboard command.
type Clipboard struct {
	argv   []string
	logger *slog.Logger
}

// NewClipboard constructs a clipboard committer from output config.
func NewClipboard(cfg config.OutputConfig, logger *slog.Logger) *Clipboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Clipboard{argv: cfg.ClipboardCmd.Argv, logger: logger}
}

// Commit copies the reply, or the transcript when the reply is empty.
func (c *Clipboard) Commit(ctx context.Context, transcript string, response string) error {
	text := strings.TrimSpace(response)
	source := "response"
	if text == "" {
		text = strings.TrimSpace(transcript)
		source = "transcript"
	}
	if text == "" {
		return nil
	}

	clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runCommandWithInput(clipboardCtx, c.argv, text); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	c.logger.Debug("clipboard set", "source", source, "chars", len([]rune(text)))
	return nil
}

// runCommandWithInput executes argv and optionally writes input to stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	if out, err := cmd.CombinedOutput(); err != nil {
		if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
			return fmt.Errorf("run %s: %w (%s)", argv[0], err, trimmed)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}
