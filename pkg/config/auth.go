package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveAuthTokens returns the set of accepted bearer tokens for the HTTP
// control plane, resolved from the environment in priority order:
//
//  1. VIBEFORGE_AUTH_TOKEN: a single token
//  2. VIBEFORGE_AUTH_TOKENS: comma-separated tokens
//  3. VIBEFORGE_AUTH_TOKEN_FILE: newline-separated tokens in a file
//
// All sources are combined. An empty result means authentication is
// disabled (development mode).
func ResolveAuthTokens() (map[string]struct{}, error) {
	tokens := make(map[string]struct{})

	if t := strings.TrimSpace(os.Getenv("VIBEFORGE_AUTH_TOKEN")); t != "" {
		tokens[t] = struct{}{}
	}

	if list := os.Getenv("VIBEFORGE_AUTH_TOKENS"); list != "" {
		for _, t := range strings.Split(list, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens[t] = struct{}{}
			}
		}
	}

	if path := os.Getenv("VIBEFORGE_AUTH_TOKEN_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read auth token file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if t := strings.TrimSpace(line); t != "" {
				tokens[t] = struct{}{}
			}
		}
	}

	return tokens, nil
}
