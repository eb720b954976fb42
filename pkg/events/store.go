package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/workspace"
)

// cacheSessions bounds how many sessions keep their full event slice in
// memory for read-heavy endpoints.
const cacheSessions = 128

// Scanner buffer sizing for events.jsonl lines. Metadata can carry full
// message content, so lines may be large.
const (
	scanInitialBuffer = 64 * 1024
	scanMaxBuffer     = 4 * 1024 * 1024
)

// Store is the per-session append-only JSONL journal. Appends are atomic at
// line granularity and synced to disk before returning; a per-session mutex
// keeps concurrent appends from interleaving and keeps the read cache
// consistent with the file.
type Store struct {
	layout *workspace.Layout

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	cache *lru.Cache[string, []models.Event]
}

// NewStore creates a store writing under the given workspace layout.
func NewStore(layout *workspace.Layout) (*Store, error) {
	cache, err := lru.New[string, []models.Event](cacheSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create event cache: %w", err)
	}
	return &Store{
		layout: layout,
		locks:  make(map[string]*sync.Mutex),
		cache:  cache,
	}, nil
}

// sessionLock returns the append/read mutex for one session's file.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	return m
}

// Append writes one event as a single JSON line and syncs it to disk. The
// session directory is created lazily on first append.
func (s *Store) Append(ctx context.Context, e *models.Event) error {
	if e == nil || e.SessionID == "" {
		return models.NewValidationError("event", "session_id must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	lock := s.sessionLock(e.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.layout.SessionDir(e.SessionID), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	f, err := os.OpenFile(s.layout.EventLogPath(e.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}

	// Keep a populated cache entry in step with the file. Absent entries are
	// filled on the next read instead.
	if cached, ok := s.cache.Get(e.SessionID); ok {
		s.cache.Add(e.SessionID, append(cached, *e))
	}
	return nil
}

// Read returns the session's events matching the filter, in append order.
func (s *Store) Read(ctx context.Context, sessionID string, f Filter) ([]models.Event, error) {
	all, err := s.readAll(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}

// Count returns the number of events recorded for the session.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	all, err := s.readAll(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Truncate replaces the session's log with empty content and evicts its
// cache entry. Used by simulation reset.
func (s *Store) Truncate(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.layout.SessionDir(sessionID), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	f, err := os.OpenFile(s.layout.EventLogPath(sessionID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to truncate event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}

	s.cache.Remove(sessionID)
	return nil
}

// readAll loads the full event slice for a session, serving from the read
// cache when possible. A missing file is an empty log, not an error.
func (s *Store) readAll(ctx context.Context, sessionID string) ([]models.Event, error) {
	if sessionID == "" {
		return nil, models.NewValidationError("session_id", "must not be empty")
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if cached, ok := s.cache.Get(sessionID); ok {
		out := make([]models.Event, len(cached))
		copy(out, cached)
		return out, nil
	}

	file, err := os.Open(s.layout.EventLogPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	var events []models.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, scanInitialBuffer), scanMaxBuffer)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.Event
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("Skipping unparseable event log line",
				"session_id", sessionID, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}

	s.cache.Add(sessionID, events)

	out := make([]models.Event, len(events))
	copy(out, events)
	return out, nil
}
