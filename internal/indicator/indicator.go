// Package indicator renders session states as desktop notifications and
// audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/misty/internal/config"
	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/session"
)

const (
	dispatchTimeout    = 400 * time.Millisecond
	persistentMS       = 300000
	doneTimeoutMS      = 6000
	fallbackErrorMS    = 1200
	cuePlaybackTimeout = 4 * time.Second
)

// Notifier is a session.Observer that keeps one replaceable desktop
// notification in sync with the session phase.
type Notifier struct {
	cfg         config.IndicatorConfig
	maxAttempts int
	logger      *slog.Logger
	messages    messages
	cue         func(context.Context, cueKind) error

	mu             sync.Mutex
	last           fsm.State
	notificationID uint32

	soundMu sync.Mutex
	sounds  sync.WaitGroup

	// Desktop updates run on one worker; a newer update replaces a queued one.
	desktopMu   sync.Mutex
	desktopNext func(context.Context) error
	desktopBusy bool
	desktop     sync.WaitGroup
}

// NewNotifier creates an indicator from config. maxAttempts is shown in
// polling progress and may be 0 when unknown.
func NewNotifier(cfg config.IndicatorConfig, maxAttempts int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		cfg:         cfg,
		maxAttempts: maxAttempts,
		logger:      logger,
		messages:    indicatorMessagesFromEnv(),
		cue:         emitCue,
		last:        fsm.StateIdle,
	}
}

// Render maps a published session state to notification and cue output. It
// does not wait for busctl or audio playback.
func (n *Notifier) Render(_ context.Context, state session.State) {
	n.mu.Lock()
	previous := n.last
	n.last = state.Phase
	n.mu.Unlock()

	switch state.Phase {
	case fsm.StateRecording:
		n.playCue(cueStart)
		n.show(n.messages.recording, "", persistentMS)
	case fsm.StateUploading:
		n.playCue(cueStop)
		n.show(n.messages.uploading, "", persistentMS)
	case fsm.StatePolling:
		n.show(n.messages.polling, n.messages.pollingBody(state, n.maxAttempts), persistentMS)
	case fsm.StateDone:
		n.playCue(cueComplete)
		n.show(n.messages.done, n.messages.doneBody(state), doneTimeoutMS)
	case fsm.StateFailed:
		n.playCue(cueError)
		timeout := n.cfg.ErrorTimeoutMS
		if timeout <= 0 {
			timeout = fallbackErrorMS
		}
		n.show(n.messages.failed, n.messages.failureBody(state.Failure), timeout)
	case fsm.StateIdle:
		// Idle after a terminal state is the reset that opens the next
		// session; only an interrupted active session is announced.
		if previous.Active() {
			n.playCue(cueCancel)
			n.hide()
		}
	}
}

// Wait blocks until queued notifications and cues are done.
func (n *Notifier) Wait() {
	n.desktop.Wait()
	n.sounds.Wait()
}

func (n *Notifier) show(summary string, body string, timeoutMS int) {
	if !n.cfg.Enable {
		return
	}
	n.dispatch(func(ctx context.Context) error {
		n.mu.Lock()
		replaceID := n.notificationID
		n.mu.Unlock()

		id, err := desktopNotify(ctx, notification{
			appName:   n.appName(),
			replaceID: replaceID,
			icon:      "audio-input-microphone",
			summary:   summary,
			body:      body,
			timeoutMS: timeoutMS,
		})
		if err != nil {
			return err
		}

		n.mu.Lock()
		n.notificationID = id
		n.mu.Unlock()
		return nil
	})
}

func (n *Notifier) hide() {
	if !n.cfg.Enable {
		return
	}
	n.dispatch(func(ctx context.Context) error {
		n.mu.Lock()
		id := n.notificationID
		n.notificationID = 0
		n.mu.Unlock()

		if id == 0 {
			return nil
		}
		return desktopDismiss(ctx, id)
	})
}

func (n *Notifier) appName() string {
	if name := strings.TrimSpace(n.cfg.DesktopAppName); name != "" {
		return name
	}
	return "misty"
}

// dispatch queues a desktop update. Each update replaces the visible
// notification, so one still waiting behind a slow busctl call is dropped in
// favour of fn.
func (n *Notifier) dispatch(fn func(context.Context) error) {
	n.desktopMu.Lock()
	n.desktopNext = fn
	if n.desktopBusy {
		n.desktopMu.Unlock()
		return
	}
	n.desktopBusy = true
	n.desktop.Add(1)
	n.desktopMu.Unlock()

	go n.drainDesktop()
}

func (n *Notifier) drainDesktop() {
	defer n.desktop.Done()
	for {
		n.desktopMu.Lock()
		fn := n.desktopNext
		n.desktopNext = nil
		if fn == nil {
			n.desktopBusy = false
			n.desktopMu.Unlock()
			return
		}
		n.desktopMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		if err := fn(ctx); err != nil {
			n.logger.Debug("indicator dispatch failed", "error", err.Error())
		}
		cancel()
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.sounds.Add(1)
	go func() {
		defer n.sounds.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cuePlaybackTimeout)
		defer cancel()
		if err := n.cue(ctx, kind); err != nil {
			n.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}
