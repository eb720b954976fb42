package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StubClient fabricates deterministic completions with zero token usage.
// The same request always yields the same text, which keeps simulation runs
// and their event logs reproducible.
type StubClient struct{}

func (StubClient) Name() string { return StubClientName }

// Complete returns a placeholder completion derived from the request. Never
// fails.
func (StubClient) Complete(_ context.Context, req Request) (Response, error) {
	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	text := fmt.Sprintf("[STUB] %s completion (%s)", req.Model, hashPrefix([]byte(last)))
	return Response{Text: text}, nil
}

// StubText builds the deterministic placeholder an agent "replies" with when
// no LLM is in play. The embedded hash ties the reply to the exact content
// that triggered it.
func StubText(recipient, sender string, tick int, trigger map[string]any) string {
	return fmt.Sprintf("[STUB] %s -> %s @ tick %d (%s)", recipient, sender, tick, ContentHash(trigger))
}

// ContentHash returns the first 10 hex characters of the SHA-256 digest of
// the canonical JSON encoding of content. encoding/json marshals map keys in
// sorted order, so equal content always hashes equally.
func ContentHash(content map[string]any) string {
	canonical, err := json.Marshal(content)
	if err != nil {
		// fmt prints map keys in sorted order, so the fallback is stable too.
		canonical = []byte(fmt.Sprintf("%v", content))
	}
	return hashPrefix(canonical)
}

func hashPrefix(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:10]
}
