package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"xama/pkg/xama"
)

// ErrSessionNotFound is returned for unknown or already-expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionState is the stored unit: the latest profile snapshot plus the
// behavioral baseline that accompanies it. No history is kept.
type SessionState struct {
	Profile   xama.Profile          `json:"profile"`
	Baseline  xama.BehaviorBaseline `json:"baseline"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Store persists session state and per-user trusted device fingerprints.
type Store interface {
	SaveSession(ctx context.Context, state SessionState) error
	GetSession(ctx context.Context, sessionID string) (SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessionIDs(ctx context.Context) ([]string, error)
	TrustedFingerprints(ctx context.Context, userID string) ([]string, error)
	AddTrustedFingerprint(ctx context.Context, userID, fingerprint string) error
}

const (
	sessionKeyPrefix = "xama:session:"
	trustedKeyPrefix = "xama:trusted:"

	// Sessions outlive the 2-hour ceiling slightly so expired state is
	// still readable for health reports before Redis reaps it.
	sessionTTL = xama.SessionCeiling + 30*time.Minute
)

// RedisStore keeps session state as JSON values with a TTL and trusted
// fingerprints as sets.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) SaveSession(ctx context.Context, state SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+state.Profile.SessionID, raw, sessionTTL).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (SessionState, error) {
	raw, err := s.rdb.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionState{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionState{}, fmt.Errorf("load session: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return SessionState{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

func (s *RedisStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), sessionKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) TrustedFingerprints(ctx context.Context, userID string) ([]string, error) {
	fps, err := s.rdb.SMembers(ctx, trustedKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("load trusted fingerprints: %w", err)
	}
	return fps, nil
}

func (s *RedisStore) AddTrustedFingerprint(ctx context.Context, userID, fingerprint string) error {
	return s.rdb.SAdd(ctx, trustedKeyPrefix+userID, fingerprint).Err()
}

// MemoryStore is the no-Redis fallback, also used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionState
	trusted  map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]SessionState),
		trusted:  make(map[string][]string),
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.Profile.SessionID] = state
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return SessionState{}, ErrSessionNotFound
	}
	return state, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) ListSessionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) TrustedFingerprints(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.trusted[userID]...), nil
}

func (s *MemoryStore) AddTrustedFingerprint(_ context.Context, userID, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range s.trusted[userID] {
		if fp == fingerprint {
			return nil
		}
	}
	s.trusted[userID] = append(s.trusted[userID], fingerprint)
	return nil
}
