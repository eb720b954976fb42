package remote

import (
	"context"
	"sync"
	"time"
)

// ProgressFunc receives progress frames for a dispatch. Called on the
// connection's read goroutine; implementations must not block.
type ProgressFunc func(status, text string, metadata map[string]any)

// DispatchResult is the terminal outcome of a dispatch. Error is non-empty
// when the agent reported a failure or the dispatch was cancelled
// (disconnect, replacement, timeout, shutdown).
type DispatchResult struct {
	Content string
	Usage   *UsagePayload
	Error   string
}

// Failed reports whether the result carries an error instead of content.
func (r DispatchResult) Failed() bool { return r.Error != "" }

// DispatchOutcome is a resolved dispatch as drained by the tick engine:
// the result plus the identifiers needed to synthesize the reply message.
type DispatchOutcome struct {
	MessageID string
	AgentID   string
	SessionID string
	Result    DispatchResult
}

// PendingDispatch tracks one in-flight task sent to a remote agent. The
// handle resolves at most once; later resolutions are dropped.
type PendingDispatch struct {
	MessageID    string
	AgentID      string
	SessionID    string
	Content      string
	Context      map[string]any
	DispatchedAt time.Time

	progress ProgressFunc

	once sync.Once
	done chan DispatchResult
}

func newPendingDispatch(agentID, messageID, content string, taskCtx map[string]any, sessionID string, progress ProgressFunc) *PendingDispatch {
	return &PendingDispatch{
		MessageID:    messageID,
		AgentID:      agentID,
		SessionID:    sessionID,
		Content:      content,
		Context:      taskCtx,
		DispatchedAt: time.Now().UTC(),
		progress:     progress,
		done:         make(chan DispatchResult, 1),
	}
}

// resolve completes the dispatch. Only the first call wins.
func (p *PendingDispatch) resolve(res DispatchResult) {
	p.once.Do(func() { p.done <- res })
}

// cancel resolves the dispatch with an error-only result.
func (p *PendingDispatch) cancel(reason string) {
	p.resolve(DispatchResult{Error: reason})
}

// Await blocks until the dispatch resolves or ctx expires.
func (p *PendingDispatch) Await(ctx context.Context) (DispatchResult, error) {
	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		return DispatchResult{}, ctx.Err()
	}
}

// outcome pairs the dispatch identifiers with a result.
func (p *PendingDispatch) outcome(res DispatchResult) DispatchOutcome {
	return DispatchOutcome{
		MessageID: p.MessageID,
		AgentID:   p.AgentID,
		SessionID: p.SessionID,
		Result:    res,
	}
}
