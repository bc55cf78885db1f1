// Package doctor runs readiness diagnostics for config, backend, tools, and audio.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/config"
	"github.com/rbright/misty/internal/jobs"
)

const (
	backendProbeTimeout = 3 * time.Second
	probeMessage        = "misty doctor"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "session socket directory available", "XDG_RUNTIME_DIR is empty; toggle/stop/cancel cannot reach a running session"))

	checks = append(checks, checkBackend(ctx, cfg))

	if cfg.Output.Clipboard {
		checks = append(checks, checkCommand(cfg.Output.ClipboardCmd.Argv, "clipboard_cmd"))
	}
	if cfg.Indicator.Enable {
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}
	if path := strings.TrimSpace(cfg.Metrics.Textfile); path != "" {
		checks = append(checks, checkTextfileDir(path))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg))
	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message += fmt.Sprintf(" (%d warning(s))", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	if predicate(os.Getenv(name)) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkBackend sends a test message to the job backend.
func checkBackend(ctx context.Context, cfg config.Config) Check {
	const name = "backend"

	client, err := jobs.NewClient(jobs.Options{
		BaseURL:    cfg.Backend.URL,
		UploadPath: cfg.Backend.UploadPath,
		Timeout:    backendProbeTimeout,
	})
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, backendProbeTimeout)
	defer cancel()
	reply, err := client.Ping(probeCtx, probeMessage)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("probe %s failed: %v", cfg.Backend.URL, err)}
	}
	if strings.TrimSpace(reply) == "" {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Backend.URL)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s (reply %q)", cfg.Backend.URL, reply)}
}

// checkTextfileDir verifies the metrics textfile directory exists.
func checkTextfileDir(path string) Check {
	const name = "metrics.textfile"
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s will be created", dir)}
	case err != nil:
		return Check{Name: name, Pass: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	default:
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("writing %s", path)}
	}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}
