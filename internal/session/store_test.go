package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/course-checks/internal/quiz"
)

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	id, err := store.Create(ctx, PageSession{Kind: KindSection, SectionID: "s1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty ID")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SectionID != "s1" || got.StartedAt.IsZero() || got.ExpiresAt.IsZero() {
		t.Errorf("Get() = %+v", got)
	}

	got.Quiz = quiz.SessionState{Index: 1, Answers: map[int]int{0: 2}}
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, _ := store.Get(ctx, id)
	if again.Quiz.Answers[0] != 2 || again.Quiz.Index != 1 {
		t.Errorf("saved quiz state = %+v", again.Quiz)
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := store.Save(ctx, got); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	sel := 1
	id, _ := store.Create(ctx, PageSession{
		Kind:   KindSection,
		Quiz:   quiz.SessionState{Answers: map[int]int{}},
		Checks: map[string]quiz.InlineCheckState{"c1": {Selected: &sel, Revealed: true}},
	})

	got, _ := store.Get(ctx, id)
	got.Quiz.Answers[0] = 3
	*got.Checks["c1"].Selected = 0

	again, _ := store.Get(ctx, id)
	if len(again.Quiz.Answers) != 0 {
		t.Error("mutating a returned session changed the stored answers")
	}
	if *again.Checks["c1"].Selected != 1 {
		t.Error("mutating a returned session changed the stored check")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	id, _ := store.Create(ctx, PageSession{Kind: KindSection})

	now = now.Add(50 * time.Second)
	s, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	now = now.Add(50 * time.Second)
	if _, err := store.Get(ctx, id); err != nil {
		t.Fatalf("Save() should extend the TTL, Get() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, expired session should be dropped", store.Len())
	}
}

func TestMemoryStore_CreateSweepsAbandonedSessions(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if _, err := store.Create(ctx, PageSession{Kind: KindSection}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	now = now.Add(24 * time.Hour)
	if _, err := store.Create(ctx, PageSession{Kind: KindSection}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 after abandoned sessions expire", got)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	old, _ := store.Create(ctx, PageSession{Kind: KindSection})
	now = now.Add(45 * time.Second)
	fresh, _ := store.Create(ctx, PageSession{Kind: KindSection})
	now = now.Add(30 * time.Second)

	if got := store.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if _, err := store.Get(ctx, old); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(old) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, fresh); err != nil {
		t.Errorf("Get(fresh) error = %v", err)
	}
}

func TestMemoryStore_JanitorStopsWithContext(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Janitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Janitor() did not return after cancel")
	}
}

func TestMemoryStore_SaveRejectsStaleVersion(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	id, _ := store.Create(ctx, PageSession{Kind: KindSection})
	first, _ := store.Get(ctx, id)
	second, _ := store.Get(ctx, id)
	if first.Version != 1 {
		t.Fatalf("Version = %d, want 1 after Create", first.Version)
	}

	first.Quiz.Index = 1
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	second.Quiz.Index = 2
	if err := store.Save(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("Save() with stale version error = %v, want ErrConflict", err)
	}

	got, _ := store.Get(ctx, id)
	if got.Quiz.Index != 1 || got.Version != 2 {
		t.Errorf("stored = index %d version %d, want index 1 version 2", got.Quiz.Index, got.Version)
	}
}
