package phase

import (
	"fmt"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// TransitionError reports an attempt to move between phases the table does
// not connect, or out of a terminal phase.
type TransitionError struct {
	From models.Phase
	To   models.Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s", e.From, e.To)
}

// ExitCriteriaError reports a legal transition blocked because the session
// has not met the current phase's exit requirements.
type ExitCriteriaError struct {
	Phase  models.Phase
	Reason string
}

func (e *ExitCriteriaError) Error() string {
	return fmt.Sprintf("exit criteria not met for %s: %s", e.Phase, e.Reason)
}
