package sim

// GuardrailKind tags which pre-tick guardrail rejected an advance.
type GuardrailKind string

const (
	GuardrailCost GuardrailKind = "cost"
	GuardrailRate GuardrailKind = "rate"
)

// GuardrailError is returned when a tick is refused before any state
// changes. The session is untouched; callers map it to HTTP 429.
type GuardrailError struct {
	Kind   GuardrailKind
	Detail string
}

func (e *GuardrailError) Error() string {
	return e.Detail
}

func errCostBudget() *GuardrailError {
	return &GuardrailError{Kind: GuardrailCost, Detail: "Cost budget exceeded"}
}

func errRateLimit() *GuardrailError {
	return &GuardrailError{Kind: GuardrailRate, Detail: "Rate limit"}
}
