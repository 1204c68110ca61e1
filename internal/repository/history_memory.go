package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatbot-agent/internal/domain"
)

// MemoryHistoryStore is a lock-guarded, per-identity history log. Append and
// eviction happen under one lock, so concurrent writers for the same identity
// cannot interleave between insert and prune.
type MemoryHistoryStore struct {
	mu         sync.Mutex
	records    map[string][]domain.HistoryRecord
	maxRecords int
	seq        int64
	now        func() time.Time
}

// NewMemoryHistoryStore creates a store retaining maxRecords per identity.
func NewMemoryHistoryStore(maxRecords int) *MemoryHistoryStore {
	if maxRecords <= 0 {
		maxRecords = DefaultHistoryLimit
	}
	return &MemoryHistoryStore{
		records:    make(map[string][]domain.HistoryRecord),
		maxRecords: maxRecords,
		now:        time.Now,
	}
}

func (s *MemoryHistoryStore) Append(_ context.Context, identity, text string, role domain.Role) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("repository: Append: identity is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	recs := append(s.records[identity], domain.HistoryRecord{
		Identity:  identity,
		Role:      domain.ParseRole(string(role)),
		Text:      text,
		Seq:       s.seq,
		CreatedAt: s.now().UTC(),
	})
	if len(recs) > s.maxRecords {
		// Copy so the evicted prefix is not retained by the backing array.
		recs = append([]domain.HistoryRecord(nil), recs[len(recs)-s.maxRecords:]...)
	}
	s.records[identity] = recs
	return nil
}

// Recent returns the newest limit records for identity, oldest first.
func (s *MemoryHistoryStore) Recent(_ context.Context, identity string, limit int) ([]domain.HistoryRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("repository: Recent: identity is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[identity]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]domain.HistoryRecord, limit)
	copy(out, recs[len(recs)-limit:])
	return out, nil
}
