package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// minAutoDelay keeps a zero auto_delay_ms from spinning a hot loop.
const minAutoDelay = 10 * time.Millisecond

// Runner drives auto-mode sessions: one goroutine per session advancing
// ticks on a fixed cadence until the simulation pauses, completes, fails a
// guardrail or the server shuts down.
type Runner struct {
	ctrl *Controller

	mu    sync.Mutex
	stops map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewRunner creates a runner bound to the controller.
func NewRunner(ctrl *Controller) *Runner {
	return &Runner{
		ctrl:  ctrl,
		stops: make(map[string]chan struct{}),
	}
}

// Start launches the auto-advance loop for a session. No-op while a loop
// for the session is already live.
func (r *Runner) Start(sessionID string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stops[sessionID]; ok {
		return
	}
	stop := make(chan struct{})
	r.stops[sessionID] = stop
	r.wg.Add(1)
	go r.loop(sessionID, delay, stop)
	slog.Info("auto-run started", "session_id", sessionID, "delay", delay)
}

// Stop signals the session's loop to exit. It does not wait; an in-flight
// tick finishes on its own. Safe to call when no loop is running.
func (r *Runner) Stop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop, ok := r.stops[sessionID]; ok {
		close(stop)
		delete(r.stops, sessionID)
	}
}

// Running reports whether a loop is live for the session.
func (r *Runner) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stops[sessionID]
	return ok
}

// Shutdown stops every loop and waits for them to drain.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for id, stop := range r.stops {
		close(stop)
		delete(r.stops, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) loop(sessionID string, delay time.Duration, stop chan struct{}) {
	defer r.wg.Done()
	defer r.remove(sessionID, stop)

	if delay < minAutoDelay {
		delay = minAutoDelay
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		res, err := r.ctrl.AdvanceTick(context.Background(), sessionID)
		if err != nil {
			var g *GuardrailError
			if errors.As(err, &g) {
				if _, perr := r.ctrl.Pause(context.Background(), sessionID, g.Detail); perr != nil {
					slog.Warn("auto-run pause failed", "session_id", sessionID, "error", perr)
				}
				slog.Info("auto-run paused by guardrail", "session_id", sessionID, "reason", g.Detail)
				return
			}
			// Paused, stopped or deleted out from under the loop.
			slog.Debug("auto-run ended", "session_id", sessionID, "error", err)
			return
		}
		if res.TickStatus == models.TickStatusCompleted {
			slog.Info("auto-run completed", "session_id", sessionID, "tick_index", res.NewTickIndex)
			return
		}
	}
}

// remove deletes the loop's own registration, unless Stop already swapped
// in a newer loop for the same session.
func (r *Runner) remove(sessionID string, stop chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.stops[sessionID]; ok && cur == stop {
		delete(r.stops, sessionID)
	}
}
