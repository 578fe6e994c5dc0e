package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/course-checks/internal/bank"
	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/quiz"
	"github.com/p-n-ai/course-checks/internal/session"
)

type fakeContent struct {
	sections map[string]curriculum.Section
	banks    map[string]bank.Bank
}

func (f fakeContent) Section(id string) (curriculum.Section, bool) {
	s, ok := f.sections[id]
	return s, ok
}

func (f fakeContent) Bank(id string) (bank.Bank, bool) {
	b, ok := f.banks[id]
	return b, ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testContent() fakeContent {
	sec := curriculum.Section{
		ID:     "fire-safety-m1-s1",
		Course: "fire-safety",
		Title:  "The Fire Triangle",
		Checks: []quiz.Question{{
			ID:          "fire-triangle-elements",
			Prompt:      "Which three elements make up the fire triangle?",
			Options:     []string{"Heat, water, and fuel", "Heat, fuel, and oxygen"},
			Correct:     1,
			Explanation: "Heat, fuel and oxygen.",
		}},
		Quiz: curriculum.QuizDef{
			Title: "Section 1 Knowledge Check",
			Questions: []quiz.Question{
				{ID: "1", Prompt: "Q1?", Options: []string{"A", "B"}, Correct: 0, Explanation: "A."},
				{ID: "2", Prompt: "Q2?", Options: []string{"A", "B"}, Correct: 1, Explanation: "B."},
			},
		},
	}

	b := bank.Bank{
		ID:    "smart-home",
		Title: "Smart Home Technology",
		Exam:  bank.ExamConfig{TotalQuestions: 5, TimeLimit: 60, PassThreshold: quiz.Passing(60)},
	}
	for i := 1; i <= 10; i++ {
		b.Questions = append(b.Questions, quiz.Question{
			ID:      fmt.Sprint(i),
			Prompt:  fmt.Sprintf("Question %d?", i),
			Options: []string{"A", "B", "C"},
			Correct: i % 3,
		})
	}
	b.Normalize()

	return fakeContent{
		sections: map[string]curriculum.Section{sec.ID: sec},
		banks:    map[string]bank.Bank{b.ID: b},
	}
}

func newTestEngine(t *testing.T) (*session.Engine, *session.MemoryEventLogger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	events := session.NewMemoryEventLogger()
	engine := session.NewEngine(session.EngineConfig{
		Content: testContent(),
		Store:   session.NewMemoryStore(time.Hour),
		Events:  events,
		Now:     clock.Now,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})
	return engine, events, clock
}

func TestEngine_SectionQuizFlow(t *testing.T) {
	engine, events, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := engine.StartSection(ctx, "fire-safety-m1-s1")
	if err != nil {
		t.Fatalf("StartSection() error = %v", err)
	}
	if v.SessionID == "" {
		t.Fatal("StartSection() returned empty session id")
	}
	if v.Quiz.Current == nil || v.Quiz.Current.ID != "1" {
		t.Fatalf("Current = %+v, want question 1", v.Quiz.Current)
	}
	if v.Quiz.PassingScore != quiz.DefaultPassingScore {
		t.Errorf("PassingScore = %d, want %d", v.Quiz.PassingScore, quiz.DefaultPassingScore)
	}

	sid := v.SessionID
	steps := []struct {
		name string
		run  func() (session.View, error)
	}{
		{"answer q1 correctly", func() (session.View, error) { return engine.Answer(ctx, sid, 0) }},
		{"advance", func() (session.View, error) { return engine.Advance(ctx, sid) }},
		{"answer q2 wrongly", func() (session.View, error) { return engine.Answer(ctx, sid, 0) }},
		{"advance to results", func() (session.View, error) { return engine.Advance(ctx, sid) }},
	}
	for _, step := range steps {
		if v, err = step.run(); err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
	}

	if !v.Quiz.Completed || v.Quiz.Result == nil {
		t.Fatalf("quiz not completed: %+v", v.Quiz)
	}
	if v.Quiz.Result.Score != 50 || v.Quiz.Result.Passed {
		t.Errorf("Result = %+v, want score 50, not passed", *v.Quiz.Result)
	}
	if len(v.Quiz.Review) != 2 || v.Quiz.Review[1].Feedback == nil || v.Quiz.Review[1].Feedback.IsCorrect {
		t.Errorf("Review = %+v", v.Quiz.Review)
	}

	want := []string{
		session.EventSessionStarted,
		session.EventQuestionAnswered,
		session.EventQuestionAnswered,
		session.EventQuizCompleted,
	}
	if got := events.Types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestEngine_UnknownSection(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.StartSection(context.Background(), "nope")
	if !errors.Is(err, session.ErrSectionNotFound) {
		t.Errorf("StartSection() error = %v, want ErrSectionNotFound", err)
	}
}

func TestEngine_RejectedInteractionsKeepState(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")
	sid := v.SessionID

	if _, err := engine.Advance(ctx, sid); !errors.Is(err, quiz.ErrNotAnswered) {
		t.Errorf("Advance() before answering error = %v, want ErrNotAnswered", err)
	}

	v, err := engine.Answer(ctx, sid, 7)
	if !errors.Is(err, quiz.ErrOptionOutOfRange) {
		t.Errorf("Answer(7) error = %v, want ErrOptionOutOfRange", err)
	}
	if v.Quiz.Feedback != nil {
		t.Error("rejected answer should not reveal feedback")
	}

	if _, err := engine.Answer(ctx, sid, 1); err != nil {
		t.Fatalf("Answer(1) error = %v", err)
	}
	v, err = engine.Answer(ctx, sid, 0)
	if !errors.Is(err, quiz.ErrAlreadyAnswered) {
		t.Errorf("second Answer() error = %v, want ErrAlreadyAnswered", err)
	}
	if v.Quiz.Feedback == nil || v.Quiz.Feedback.Selected != 1 {
		t.Errorf("Feedback = %+v, want first answer kept", v.Quiz.Feedback)
	}
}

func TestEngine_ViewHidesUnansweredCorrectIndex(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	v, err := engine.StartSection(context.Background(), "fire-safety-m1-s1")
	if err != nil {
		t.Fatalf("StartSection() error = %v", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "correct_index") {
		t.Errorf("fresh view leaks the correct option: %s", data)
	}
}

func TestEngine_SelectCheck(t *testing.T) {
	engine, events, _ := newTestEngine(t)
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")
	sid := v.SessionID

	v, err := engine.SelectCheck(ctx, sid, "fire-triangle-elements", 0)
	if err != nil {
		t.Fatalf("SelectCheck() error = %v", err)
	}
	fb := v.Checks[0].Feedback
	if !v.Checks[0].Revealed || fb == nil || fb.IsCorrect || fb.Correct != 1 {
		t.Errorf("check after wrong answer = %+v", v.Checks[0])
	}

	v, err = engine.SelectCheck(ctx, sid, "fire-triangle-elements", 1)
	if !errors.Is(err, quiz.ErrAlreadyRevealed) {
		t.Errorf("second SelectCheck() error = %v, want ErrAlreadyRevealed", err)
	}
	if v.Checks[0].Feedback.Selected != 0 {
		t.Errorf("Selected = %d, want first answer 0", v.Checks[0].Feedback.Selected)
	}

	if _, err := engine.SelectCheck(ctx, sid, "missing", 0); !errors.Is(err, session.ErrCheckNotFound) {
		t.Errorf("SelectCheck(missing) error = %v, want ErrCheckNotFound", err)
	}

	if got := events.Types(); len(got) != 2 || got[1] != session.EventCheckAnswered {
		t.Errorf("events = %v", got)
	}
}

func TestEngine_RestartKeepsChecks(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")
	sid := v.SessionID

	engine.SelectCheck(ctx, sid, "fire-triangle-elements", 1)
	engine.Answer(ctx, sid, 0)
	engine.Advance(ctx, sid)
	engine.Answer(ctx, sid, 1)
	v, _ = engine.Advance(ctx, sid)
	if v.Quiz.Result == nil || v.Quiz.Result.Score != 100 || !v.Quiz.Result.Passed {
		t.Fatalf("Result = %+v, want 100 passed", v.Quiz.Result)
	}

	v, err := engine.Restart(ctx, sid)
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if v.Quiz.Completed || v.Quiz.Index != 0 || v.Quiz.Feedback != nil || v.Quiz.Result != nil {
		t.Errorf("quiz after restart = %+v", v.Quiz)
	}
	if !v.Checks[0].Revealed {
		t.Error("restart should not reset inline checks")
	}
}

func TestEngine_End(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")

	if err := engine.End(ctx, v.SessionID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := engine.View(ctx, v.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("View() after End error = %v, want ErrNotFound", err)
	}
	if err := engine.End(ctx, v.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second End() error = %v, want ErrNotFound", err)
	}
}

func TestEngine_ExamTimeLimit(t *testing.T) {
	engine, events, clock := newTestEngine(t)
	ctx := context.Background()

	v, err := engine.StartExam(ctx, "smart-home", 0)
	if err != nil {
		t.Fatalf("StartExam() error = %v", err)
	}
	if v.Quiz.Total != 5 {
		t.Errorf("Total = %d, want configured 5", v.Quiz.Total)
	}
	if v.Quiz.PassingScore != 60 {
		t.Errorf("PassingScore = %d, want 60", v.Quiz.PassingScore)
	}
	if v.Remaining == nil || *v.Remaining != 60 {
		t.Errorf("Remaining = %v, want 60", v.Remaining)
	}
	if len(v.Checks) != 0 {
		t.Errorf("exam should have no inline checks, got %d", len(v.Checks))
	}

	sid := v.SessionID
	if _, err := engine.SelectCheck(ctx, sid, "x", 0); !errors.Is(err, session.ErrNoChecks) {
		t.Errorf("SelectCheck() on exam error = %v, want ErrNoChecks", err)
	}
	if _, err := engine.Answer(ctx, sid, 0); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	clock.Add(61 * time.Second)
	v, err = engine.Advance(ctx, sid)
	if !errors.Is(err, session.ErrTimeUp) {
		t.Fatalf("Advance() after deadline error = %v, want ErrTimeUp", err)
	}
	if !v.Quiz.Completed || v.Quiz.Result == nil || v.Quiz.Result.Total != 5 {
		t.Fatalf("quiz after deadline = %+v", v.Quiz)
	}
	if *v.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", *v.Remaining)
	}

	all := events.Events()
	last := all[len(all)-1]
	if last.EventType != session.EventQuizCompleted || last.Data["timed_out"] != true {
		t.Errorf("last event = %+v, want timed out completion", last)
	}

	v, err = engine.Restart(ctx, sid)
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if v.Quiz.Completed || *v.Remaining != 60 {
		t.Errorf("restart should reopen the exam with a fresh deadline, got completed=%v remaining=%d", v.Quiz.Completed, *v.Remaining)
	}
}

func TestEngine_ExamDrawsDistinctQuestions(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := engine.StartExam(ctx, "smart-home", 8)
	if err != nil {
		t.Fatalf("StartExam() error = %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < v.Quiz.Total; i++ {
		id := v.Quiz.Current.ID
		if seen[id] {
			t.Fatalf("question %s drawn twice", id)
		}
		seen[id] = true
		engine.Answer(ctx, v.SessionID, 0)
		v, _ = engine.Advance(ctx, v.SessionID)
	}
	if len(seen) != 8 || !v.Quiz.Completed {
		t.Errorf("walked %d questions, completed=%v", len(seen), v.Quiz.Completed)
	}
}

func TestEngine_UnknownBank(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.StartExam(context.Background(), "nope", 0); !errors.Is(err, session.ErrBankNotFound) {
		t.Errorf("StartExam() error = %v, want ErrBankNotFound", err)
	}
}

func TestEngine_ConcurrentAnswersLockIn(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(opt int) {
			defer wg.Done()
			if _, err := engine.Answer(ctx, v.SessionID, opt%2); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("%d answers accepted, want exactly 1", ok)
	}
}

// racingStore simulates another replica saving the session once between
// the engine's read and its write.
type racingStore struct {
	*session.MemoryStore
	raced bool
}

func (s *racingStore) Save(ctx context.Context, ps session.PageSession) error {
	if !s.raced {
		s.raced = true
		other, err := s.MemoryStore.Get(ctx, ps.ID)
		if err != nil {
			return err
		}
		sel := 1
		other.Checks["fire-triangle-elements"] = quiz.InlineCheckState{Selected: &sel, Revealed: true}
		if err := s.MemoryStore.Save(ctx, other); err != nil {
			return err
		}
	}
	return s.MemoryStore.Save(ctx, ps)
}

// staleStore rejects every save as stale.
type staleStore struct {
	*session.MemoryStore
}

func (staleStore) Save(context.Context, session.PageSession) error {
	return session.ErrConflict
}

func TestEngine_ConcurrentReplicaWriteIsNotLost(t *testing.T) {
	events := session.NewMemoryEventLogger()
	engine := session.NewEngine(session.EngineConfig{
		Content: testContent(),
		Store:   &racingStore{MemoryStore: session.NewMemoryStore(time.Hour)},
		Events:  events,
	})
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")

	v, err := engine.Answer(ctx, v.SessionID, 0)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if v.Quiz.Feedback == nil || !v.Quiz.Feedback.IsCorrect {
		t.Errorf("quiz feedback = %+v, want the retried answer", v.Quiz.Feedback)
	}
	if !v.Checks[0].Revealed || v.Checks[0].Feedback.Selected != 1 {
		t.Errorf("check = %+v, want the other replica's answer kept", v.Checks[0])
	}

	again, err := engine.View(ctx, v.SessionID)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if !again.Checks[0].Revealed || again.Quiz.Feedback == nil {
		t.Errorf("stored view lost a write: %+v", again)
	}

	want := []string{session.EventSessionStarted, session.EventQuestionAnswered}
	if got := events.Types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestEngine_PersistentConflictFails(t *testing.T) {
	engine := session.NewEngine(session.EngineConfig{
		Content: testContent(),
		Store:   staleStore{MemoryStore: session.NewMemoryStore(time.Hour)},
	})
	ctx := context.Background()
	v, _ := engine.StartSection(ctx, "fire-safety-m1-s1")

	if _, err := engine.Answer(ctx, v.SessionID, 0); !errors.Is(err, session.ErrConflict) {
		t.Errorf("Answer() error = %v, want ErrConflict", err)
	}
}
