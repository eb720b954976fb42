package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/phase"
	"github.com/vibeforge/vibeforge/pkg/remote"
	"github.com/vibeforge/vibeforge/pkg/session"
	"github.com/vibeforge/vibeforge/pkg/sim"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "validation error",
			err:        models.NewValidationError("main_task", "must not be empty"),
			wantStatus: http.StatusBadRequest,
			wantBody:   "main_task: must not be empty",
		},
		{
			name:       "phase transition error",
			err:        &phase.TransitionError{From: models.PhaseIdea, To: models.PhaseComplete},
			wantStatus: http.StatusBadRequest,
			wantBody:   "illegal phase transition",
		},
		{
			name:       "exit criteria error",
			err:        &phase.ExitCriteriaError{Phase: models.PhaseQuestionnaire, Reason: "no answers submitted"},
			wantStatus: http.StatusBadRequest,
			wantBody:   "exit criteria not met",
		},
		{
			name:       "wrapped not found",
			err:        fmt.Errorf("load session: %w", session.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   "session not found",
		},
		{
			name:       "wrapped agent not connected",
			err:        fmt.Errorf("dispatch msg-1: %w", remote.ErrAgentNotConnected),
			wantStatus: http.StatusConflict,
			wantBody:   "agent not connected",
		},
		{
			name:       "cost guardrail",
			err:        &sim.GuardrailError{Kind: sim.GuardrailCost, Detail: "Cost budget exceeded"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `"kind":"cost"`,
		},
		{
			name:       "rate guardrail",
			err:        &sim.GuardrailError{Kind: sim.GuardrailRate, Detail: "Rate limit"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `"kind":"rate"`,
		},
		{
			name:       "unknown error",
			err:        errors.New("disk is gone"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			respondError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}
