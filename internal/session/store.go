// Package session keeps per-visitor widget state for course pages and mock
// exams, and applies learner interactions to it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/course-checks/internal/quiz"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Save when the stored session has a newer
	// version than the one being saved.
	ErrConflict = errors.New("session modified concurrently")
)

// Kind distinguishes a course page session from a mock exam.
type Kind string

const (
	KindSection Kind = "section"
	KindExam    Kind = "mock_exam"
)

// PageSession is the stored state of one visitor on one page.
type PageSession struct {
	ID          string                           `json:"id"`
	Kind        Kind                             `json:"kind"`
	SectionID   string                           `json:"section_id,omitempty"`
	BankID      string                           `json:"bank_id,omitempty"`
	QuestionIDs []string                         `json:"question_ids,omitempty"`
	Quiz        quiz.SessionState                `json:"quiz"`
	Checks      map[string]quiz.InlineCheckState `json:"checks,omitempty"`
	StartedAt   time.Time                        `json:"started_at"`
	UpdatedAt   time.Time                        `json:"updated_at"`
	ExpiresAt   time.Time                        `json:"expires_at"`
	Deadline    *time.Time                       `json:"deadline,omitempty"`

	// Version increases on every save. Save rejects a stale version.
	Version int64 `json:"version"`
}

// Store persists page sessions between requests. Save succeeds only when
// s.Version matches the stored version, and stores it incremented.
type Store interface {
	Create(ctx context.Context, s PageSession) (string, error)
	Get(ctx context.Context, id string) (PageSession, error)
	Save(ctx context.Context, s PageSession) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store. Expired sessions are dropped on Get,
// swept by Create at most once per TTL, and by Janitor when it runs.
type MemoryStore struct {
	sessions  map[string]PageSession
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	mu        sync.RWMutex
}

// NewMemoryStore creates an in-memory store whose sessions live for ttl
// after their last save.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]PageSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s PageSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.ttl {
		m.sweepLocked(now)
	}

	s.ID = newID()
	s.Version = 1
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	m.sessions[s.ID] = clone(s)
	return s.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (PageSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return PageSession{}, ErrNotFound
	}
	if m.now().After(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return PageSession{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Save(_ context.Context, s PageSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrConflict
	}
	now := m.now()
	s.Version++
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.ttl)
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Sweep removes every expired session and reports how many it removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	m.lastSweep = now
	return n
}

// Janitor sweeps expired sessions every interval until ctx is done.
func (m *MemoryStore) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("expired sessions swept", "count", n)
			}
		}
	}
}

// Len returns the number of sessions held, including expired ones not yet
// collected.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// clone deep-copies the mutable parts of s so stored values never alias
// caller state.
func clone(s PageSession) PageSession {
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	answers := make(map[int]int, len(s.Quiz.Answers))
	for k, v := range s.Quiz.Answers {
		answers[k] = v
	}
	s.Quiz.Answers = answers
	if s.Checks != nil {
		checks := make(map[string]quiz.InlineCheckState, len(s.Checks))
		for k, v := range s.Checks {
			if v.Selected != nil {
				sel := *v.Selected
				v.Selected = &sel
			}
			checks[k] = v
		}
		s.Checks = checks
	}
	if s.Deadline != nil {
		d := *s.Deadline
		s.Deadline = &d
	}
	return s
}

func newID() string {
	return uuid.NewString()
}
