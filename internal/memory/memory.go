// Package memory keeps short-lived per-session conversation history for
// the assistant. Two backends: an in-process map (default) and Redis
// for multi-replica deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// MaxTurns is the history window per session; older turns are
	// evicted pairwise.
	MaxTurns = 10

	sessionTTL      = 30 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store is the conversation history contract.
type Store interface {
	// History returns the session's turns oldest-first. Reading an
	// unknown session creates it empty and starts its TTL.
	History(ctx context.Context, sessionID string) ([]Turn, error)
	AddTurn(ctx context.Context, sessionID string, turn Turn) error
	ClearSession(ctx context.Context, sessionID string) error
	SessionCount(ctx context.Context) (int, error)
}

// New selects a backend: Redis when redisURL is set, otherwise the
// in-process store.
func New(redisURL string, logger *zap.Logger) (Store, error) {
	if redisURL == "" {
		return NewInMemory(logger), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	logger.Info("Conversation memory backed by Redis", zap.String("addr", opts.Addr))
	return &redisStore{client: redis.NewClient(opts)}, nil
}

// =============================================================================
// In-process backend
// =============================================================================

type session struct {
	turns    []Turn
	lastSeen time.Time
}

// InMemory holds sessions in a mutex-guarded map.
type InMemory struct {
	mu       sync.Mutex
	sessions map[string]*session
	logger   *zap.Logger
}

// NewInMemory creates an empty in-process store.
func NewInMemory(logger *zap.Logger) *InMemory {
	return &InMemory{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

func (m *InMemory) get(sessionID string) *session {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{}
		m.sessions[sessionID] = s
	}
	s.lastSeen = time.Now()
	return s
}

// History returns a copy of the session's turns.
func (m *InMemory) History(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// AddTurn appends a turn, evicting the oldest beyond the window.
func (m *InMemory) AddTurn(_ context.Context, sessionID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(sessionID)
	s.turns = append(s.turns, turn)
	if len(s.turns) > MaxTurns {
		s.turns = s.turns[len(s.turns)-MaxTurns:]
	}
	return nil
}

// ClearSession drops one session.
func (m *InMemory) ClearSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// SessionCount returns the number of live sessions.
func (m *InMemory) SessionCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// RunCleanup evicts idle sessions every cleanupInterval until ctx is
// cancelled. Run it in its own goroutine.
func (m *InMemory) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *InMemory) evictExpired() {
	cutoff := time.Now().Add(-sessionTTL)
	m.mu.Lock()
	removed := 0
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		m.logger.Debug("Expired chat sessions evicted", zap.Int("count", removed))
	}
}

// =============================================================================
// Redis backend
// =============================================================================

type redisStore struct {
	client *redis.Client
}

func sessionKey(sessionID string) string {
	return "sentinel:chat:" + sessionID
}

// History reads the session list and refreshes its TTL, creating the
// key when absent so reads and writes behave like the in-process store.
func (r *redisStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	key := sessionKey(sessionID)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	r.client.Expire(ctx, key, sessionTTL)

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (r *redisStore) AddTurn(ctx context.Context, sessionID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := sessionKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxTurns, -1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

func (r *redisStore) ClearSession(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, sessionKey(sessionID)).Err()
}

func (r *redisStore) SessionCount(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "sentinel:chat:*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}
