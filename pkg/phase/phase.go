// Package phase encodes the session lifecycle state machine: which phase
// transitions are legal and what a session must have accomplished before
// leaving its current phase.
package phase

import (
	"encoding/json"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// allowedTransitions is the static transition table. Terminal phases
// (COMPLETE, FAILED) have no entries and admit nothing.
var allowedTransitions = map[models.Phase][]models.Phase{
	models.PhaseQuestionnaire: {models.PhaseBuildSpec, models.PhaseFailed},
	models.PhaseBuildSpec:     {models.PhaseIdea, models.PhaseFailed},
	models.PhaseIdea:          {models.PhasePlanReview, models.PhaseFailed},
	// PLAN_REVIEW -> IDEA is the "rejected, regenerate" loop.
	models.PhasePlanReview: {models.PhaseExecution, models.PhaseIdea, models.PhaseFailed},
	models.PhaseExecution: {
		models.PhaseClarification,
		models.PhaseVerification,
		models.PhaseComplete,
		models.PhaseFailed,
	},
	models.PhaseClarification: {models.PhaseExecution, models.PhaseFailed},
	models.PhaseVerification:  {models.PhaseComplete, models.PhaseExecution, models.PhaseFailed},
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to models.Phase) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the target phase.
//
// Transitions to FAILED bypass exit-criteria checks but still respect
// terminality: a COMPLETE or FAILED session never moves again. All other
// transitions must be in the table and satisfy the current phase's exit
// criteria.
func Transition(s *models.Session, to models.Phase) error {
	if s.Phase.Terminal() {
		return &TransitionError{From: s.Phase, To: to}
	}
	if to == models.PhaseFailed {
		s.Phase = to
		return nil
	}
	if !CanTransition(s.Phase, to) {
		return &TransitionError{From: s.Phase, To: to}
	}
	if reason := exitCriteria(s); reason != "" {
		return &ExitCriteriaError{Phase: s.Phase, Reason: reason}
	}
	s.Phase = to
	return nil
}

// exitCriteria returns a non-empty reason when the session has not met its
// current phase's exit requirements. Phases without criteria always pass.
func exitCriteria(s *models.Session) string {
	switch s.Phase {
	case models.PhaseQuestionnaire:
		if len(s.Questionnaire) == 0 {
			return "no questionnaire answers recorded"
		}
	case models.PhaseBuildSpec:
		if emptyBlob(s.BuildSpec) {
			return "build spec not populated"
		}
	case models.PhaseIdea:
		if emptyBlob(s.Concept) {
			return "concept not populated"
		}
	case models.PhasePlanReview:
		if emptyBlob(s.TaskGraph) {
			return "task graph not populated"
		}
	}
	return ""
}

func emptyBlob(b json.RawMessage) bool {
	if len(b) == 0 {
		return true
	}
	switch string(b) {
	case "null", "{}", "[]", `""`:
		return true
	}
	return false
}
