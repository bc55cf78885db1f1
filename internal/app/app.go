// Package app maps parsed commands onto session ownership, forwarding, and
// one-shot utilities.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/cli"
	"github.com/rbright/misty/internal/config"
	"github.com/rbright/misty/internal/doctor"
	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/indicator"
	"github.com/rbright/misty/internal/ipc"
	"github.com/rbright/misty/internal/logging"
	"github.com/rbright/misty/internal/metrics"
	"github.com/rbright/misty/internal/output"
	"github.com/rbright/misty/internal/pipeline"
	"github.com/rbright/misty/internal/session"
	"github.com/rbright/misty/internal/version"
)

const (
	binaryName     = "misty"
	forwardTimeout = 220 * time.Millisecond
	probeTimeout   = 180 * time.Millisecond
	acquireRetries = 8
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return exitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return exitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return exitOK
	}

	logRuntime, err := logging.New(logging.Options{Verbose: parsed.Verbose})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return exitFailure
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"backend", cfgLoaded.Config.Backend.URL,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return exitOK
		}
		return exitFailure
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandAction:
		return r.commandAction(ctx, cfgLoaded.Config, parsed.Args[0], logger)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return exitUsage
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return exitFailure
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return exitOK
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return exitOK
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	fmt.Fprintln(r.Stdout, formatStatus(resp))
	return exitOK
}

// formatStatus renders a status reply, e.g. "polling job=abc attempt=3".
func formatStatus(resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = string(fsm.StateIdle)
	}
	parts := []string{state}
	if resp.JobID != "" {
		parts = append(parts, "job="+resp.JobID)
	}
	if resp.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", resp.Attempt))
	}
	if resp.Reason != "" {
		parts = append(parts, "reason="+resp.Reason)
	}
	return strings.Join(parts, " ")
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active misty session")
		return exitFailure
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return exitOK
}

func (r Runner) commandAction(ctx context.Context, cfg config.Config, name string, logger *slog.Logger) int {
	client, err := pipeline.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	actionCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
	defer cancel()
	if err := client.Action(actionCtx, name); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("action failed", "action", name, "error", err.Error())
		return exitFailure
	}
	logger.Info("action sent", "action", name)
	fmt.Fprintf(r.Stdout, "action %s sent\n", name)
	return exitOK
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
		return code
	}

	owner, err := ipc.ClaimOwner(ctx, socketPath, ipc.OwnerOptions{
		ProbeTimeout: probeTimeout,
		Retries:      acquireRetries,
		OnStale: func(path string) {
			logger.Warn("removed socket left by a crashed session", "socket", path)
		},
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, forwarded := r.forwardToggle(ctx, socketPath); forwarded {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := owner.Release(); err != nil {
			logger.Warn("release session socket", "error", err.Error())
		}
	}()

	built, err := pipeline.Build(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure
	}

	opts := session.Options{
		Logger:    logger,
		Recorder:  built.Recorder,
		Submitter: built.Uploader,
		Poller:    built.Poller,
	}
	var notifier *indicator.Notifier
	if cfg.Indicator.Enable || cfg.Indicator.SoundEnable {
		notifier = indicator.NewNotifier(cfg.Indicator, cfg.Poll.MaxAttempts, logger)
		opts.Observers = append(opts.Observers, notifier)
	}
	if cfg.Output.Clipboard {
		opts.Committer = output.NewClipboard(cfg.Output, logger)
	}
	controller := session.NewController(opts)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, owner, controller)
	}()

	result := controller.Run(ctx)
	serverCancel()
	serverErr := <-serverErrCh
	if notifier != nil {
		notifier.Wait()
	}

	logSessionResult(logger, result)
	r.recordMetrics(cfg, result, logger)

	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return exitFailure
	}
	return r.reportResult(result)
}

// forwardToggle hands toggle to a live owner. forwarded is false when no
// owner answered.
func (r Runner) forwardToggle(ctx context.Context, socketPath string) (code int, forwarded bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitFailure, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return exitOK, true
}

func (r Runner) recordMetrics(cfg config.Config, result session.Result, logger *slog.Logger) {
	path := strings.TrimSpace(cfg.Metrics.Textfile)
	if path == "" {
		return
	}
	recorder := metrics.New()
	recorder.ObserveSession(result)
	if err := recorder.WriteTextfile(path); err != nil {
		logger.Warn("metrics textfile write failed", "path", path, "error", err.Error())
	}
}

// reportResult prints the session outcome and maps it to an exit code.
func (r Runner) reportResult(result session.Result) int {
	switch {
	case result.Cancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
		return exitOK
	case result.State.Phase == fsm.StateDone:
		if text := strings.TrimSpace(result.State.Transcript); text != "" {
			fmt.Fprintf(r.Stdout, "transcript: %s\n", text)
		}
		if text := strings.TrimSpace(result.State.Response); text != "" {
			fmt.Fprintf(r.Stdout, "reply: %s\n", text)
		}
		if result.CommitErr != nil {
			fmt.Fprintf(r.Stderr, "warning: %v\n", result.CommitErr)
		}
		return exitOK
	case result.State.Phase == fsm.StateFailed:
		fmt.Fprintf(r.Stderr, "error: %s", result.State.Failure)
		if result.Err != nil {
			fmt.Fprintf(r.Stderr, ": %v", result.Err)
		}
		fmt.Fprintln(r.Stderr)
		if hint := failureHint(result.State.Reason()); hint != "" {
			fmt.Fprintf(r.Stderr, "hint: %s\n", hint)
		}
		return exitFailure
	case result.Err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return exitFailure
	default:
		return exitOK
	}
}

func failureHint(reason session.Reason) string {
	switch reason {
	case session.ReasonTimeout:
		return "the backend did not finish in time; try again"
	case session.ReasonRemoteJobError:
		return "the job failed on the backend; check its logs"
	case session.ReasonDeviceUnavailable:
		return "run `misty devices` to inspect inputs"
	case session.ReasonSubmissionFailed, session.ReasonMalformedResponse:
		return "run `misty doctor` to check the backend"
	default:
		return ""
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"state", result.State.String(),
		"reason", string(result.State.Reason()),
		"capture_id", result.CaptureID,
		"job_id", result.JobID.String(),
		"attempts", result.Attempts,
		"transport_errors", result.TransportErrors,
		"bytes_captured", result.BytesCaptured,
		"chunks", result.Chunks,
		"cancelled", result.Cancelled,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"transcript_length", len(result.State.Transcript),
		"response_length", len(result.State.Response),
	}
	if result.CommitErr != nil {
		fields = append(fields, "commit_error", result.CommitErr.Error())
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		return resp, true, resp.Err()
	}
	if ipc.OwnerAbsent(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
