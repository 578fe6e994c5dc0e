package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/p-n-ai/course-checks/internal/bank"
	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/quiz"
)

const (
	defaultSessionTTL  = 2 * time.Hour
	defaultLockStripes = 64

	// saveAttempts bounds retries when another replica saved the same
	// session between our read and write.
	saveAttempts = 3
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrBankNotFound    = errors.New("question bank not found")
	ErrCheckNotFound   = errors.New("inline check not found")
	ErrNoChecks        = errors.New("mock exams have no inline checks")
	ErrTimeUp          = errors.New("time limit reached")
)

// Content resolves the immutable course data a session refers to.
type Content interface {
	Section(id string) (curriculum.Section, bool)
	Bank(id string) (bank.Bank, bool)
}

// EngineConfig holds dependencies for the session engine.
type EngineConfig struct {
	Content      Content
	Store        Store
	Events       EventLogger
	PassingScore int              // default quiz threshold (default 70)
	Now          func() time.Time // clock (default time.Now)
	Rand         *rand.Rand       // exam draws (default randomly seeded)
	LockStripes  int              // per-session lock stripes (default 64)
}

// Engine applies learner interactions to stored page sessions. Each call
// loads the session, rebuilds its widgets from content, applies the change
// and saves it back. Calls on the same session are serialised.
type Engine struct {
	content Content
	store   Store
	events  EventLogger
	passing int
	now     func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	locks []sync.Mutex
}

// NewEngine creates a new session engine.
func NewEngine(cfg EngineConfig) *Engine {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(defaultSessionTTL)
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	passing := cfg.PassingScore
	if passing == 0 {
		passing = quiz.DefaultPassingScore
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	return &Engine{
		content: cfg.Content,
		store:   store,
		events:  events,
		passing: passing,
		now:     now,
		rng:     rng,
		locks:   make([]sync.Mutex, stripes),
	}
}

// page is a stored session with its widgets rebuilt.
type page struct {
	ps       PageSession
	quiz     *quiz.Session
	checks   []*quiz.InlineCheck
	timeLeft *time.Duration
	pending  []Event
}

// StartSection opens a new session for a course section.
func (e *Engine) StartSection(ctx context.Context, sectionID string) (View, error) {
	sec, ok := e.content.Section(sectionID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}
	ps := PageSession{
		Kind:      KindSection,
		SectionID: sec.ID,
		Quiz:      quiz.SessionState{Answers: map[int]int{}},
		Checks:    map[string]quiz.InlineCheckState{},
		StartedAt: e.now(),
	}
	return e.start(ctx, ps)
}

// StartExam draws a mock exam of count questions from a bank (the bank's
// configured size when count <= 0) and opens a session for it.
func (e *Engine) StartExam(ctx context.Context, bankID string, count int) (View, error) {
	b, ok := e.content.Bank(bankID)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrBankNotFound, bankID)
	}

	e.rngMu.Lock()
	exam := b.DrawExam(e.rng, count)
	e.rngMu.Unlock()

	ids := make([]string, len(exam.Questions))
	for i, q := range exam.Questions {
		ids[i] = q.ID
	}
	now := e.now()
	ps := PageSession{
		Kind:        KindExam,
		BankID:      b.ID,
		QuestionIDs: ids,
		Quiz:        quiz.SessionState{Answers: map[int]int{}},
		StartedAt:   now,
	}
	if b.Exam.TimeLimit > 0 {
		d := now.Add(time.Duration(b.Exam.TimeLimit) * time.Second)
		ps.Deadline = &d
	}
	return e.start(ctx, ps)
}

func (e *Engine) start(ctx context.Context, ps PageSession) (View, error) {
	p, err := e.rebuild(ps)
	if err != nil {
		return View{}, err
	}
	id, err := e.store.Create(ctx, ps)
	if err != nil {
		return View{}, fmt.Errorf("creating session: %w", err)
	}
	p.ps.ID = id

	e.record(p, EventSessionStarted, map[string]any{
		"kind":      string(ps.Kind),
		"questions": p.quiz.Len(),
	})
	e.flush(p)
	slog.Info("session started", "session_id", id, "kind", ps.Kind, "section_id", ps.SectionID, "bank_id", ps.BankID)
	return e.view(p), nil
}

// View returns the current state of a session.
func (e *Engine) View(ctx context.Context, sid string) (View, error) {
	return e.apply(ctx, sid, func(*page) (bool, error) { return false, nil })
}

// SelectCheck answers an inline check. The first answer is final.
func (e *Engine) SelectCheck(ctx context.Context, sid, checkID string, option int) (View, error) {
	return e.apply(ctx, sid, func(p *page) (bool, error) {
		if p.ps.Kind != KindSection {
			return false, ErrNoChecks
		}
		for _, c := range p.checks {
			if c.Question().ID != checkID {
				continue
			}
			fb, err := c.Select(option)
			if err != nil {
				return false, err
			}
			p.ps.Checks[checkID] = c.State()
			e.record(p, EventCheckAnswered, map[string]any{
				"check_id": checkID,
				"selected": fb.Selected,
				"correct":  fb.IsCorrect,
			})
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", ErrCheckNotFound, checkID)
	})
}

// Answer records the answer to the current quiz question.
func (e *Engine) Answer(ctx context.Context, sid string, option int) (View, error) {
	return e.apply(ctx, sid, func(p *page) (bool, error) {
		if p.expired() {
			return false, ErrTimeUp
		}
		idx := p.quiz.Index()
		fb, err := p.quiz.AnswerCurrent(option)
		if err != nil {
			return false, err
		}
		p.ps.Quiz = p.quiz.State()
		e.record(p, EventQuestionAnswered, map[string]any{
			"index":    idx,
			"selected": fb.Selected,
			"correct":  fb.IsCorrect,
		})
		return true, nil
	})
}

// Advance moves the quiz past the answered current question.
func (e *Engine) Advance(ctx context.Context, sid string) (View, error) {
	return e.apply(ctx, sid, func(p *page) (bool, error) {
		if p.expired() {
			return false, ErrTimeUp
		}
		if err := p.quiz.Advance(); err != nil {
			return false, err
		}
		p.ps.Quiz = p.quiz.State()
		if p.quiz.Completed() {
			e.logCompleted(p, false)
		}
		return true, nil
	})
}

// Restart discards all quiz answers. Inline checks keep their answers. A
// timed exam gets a fresh deadline.
func (e *Engine) Restart(ctx context.Context, sid string) (View, error) {
	return e.apply(ctx, sid, func(p *page) (bool, error) {
		p.quiz.Restart()
		p.ps.Quiz = p.quiz.State()
		if p.ps.Deadline != nil {
			if b, ok := e.content.Bank(p.ps.BankID); ok && b.Exam.TimeLimit > 0 {
				d := e.now().Add(time.Duration(b.Exam.TimeLimit) * time.Second)
				p.ps.Deadline = &d
			}
		}
		e.record(p, EventQuizRestarted, nil)
		return true, nil
	})
}

// End discards a session.
func (e *Engine) End(ctx context.Context, sid string) error {
	unlock := e.lock(sid)
	defer unlock()

	ps, err := e.store.Get(ctx, sid)
	if err != nil {
		return err
	}
	if err := e.store.Delete(ctx, sid); err != nil {
		return err
	}
	p := &page{ps: ps}
	e.record(p, EventSessionEnded, nil)
	e.flush(p)
	return nil
}

// apply runs op against a loaded session under its lock and saves the result
// when op reports a change. Widgets leave their state untouched when they
// reject an interaction, so on error the view shows the unchanged session.
// The lock only serialises this process; a save that loses a version race
// with another replica reloads the session and runs op again.
func (e *Engine) apply(ctx context.Context, sid string, op func(*page) (bool, error)) (View, error) {
	unlock := e.lock(sid)
	defer unlock()

	for attempt := 1; ; attempt++ {
		ps, err := e.store.Get(ctx, sid)
		if err != nil {
			return View{}, err
		}
		p, err := e.rebuild(ps)
		if err != nil {
			return View{}, err
		}

		changed := e.enforceDeadline(p)
		opChanged, opErr := op(p)
		if changed || (opErr == nil && opChanged) {
			err := e.store.Save(ctx, p.ps)
			if errors.Is(err, ErrConflict) && attempt < saveAttempts {
				slog.Debug("session changed concurrently, retrying", "session_id", sid, "attempt", attempt)
				continue
			}
			if err != nil {
				return View{}, fmt.Errorf("saving session: %w", err)
			}
			p.ps.Version++
		}
		e.flush(p)
		return e.view(p), opErr
	}
}

// enforceDeadline completes a timed exam whose deadline has passed.
func (e *Engine) enforceDeadline(p *page) bool {
	if p.ps.Deadline == nil {
		return false
	}
	left := p.ps.Deadline.Sub(e.now())
	if left < 0 {
		left = 0
	}
	p.timeLeft = &left
	if left > 0 || p.quiz.Completed() {
		return false
	}
	p.quiz.Finish()
	p.ps.Quiz = p.quiz.State()
	e.logCompleted(p, true)
	return true
}

// rebuild restores the widgets of a stored session from content.
func (e *Engine) rebuild(ps PageSession) (*page, error) {
	p := &page{ps: ps}
	var qz quiz.Quiz

	switch ps.Kind {
	case KindSection:
		sec, ok := e.content.Section(ps.SectionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, ps.SectionID)
		}
		qz = sec.QuizConfig(e.passing)
		if p.ps.Checks == nil {
			p.ps.Checks = map[string]quiz.InlineCheckState{}
		}
		for _, q := range sec.Checks {
			c, err := quiz.RestoreInlineCheck(q, p.ps.Checks[q.ID])
			if err != nil {
				return nil, err
			}
			p.checks = append(p.checks, c)
		}
	case KindExam:
		b, ok := e.content.Bank(ps.BankID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBankNotFound, ps.BankID)
		}
		questions, err := b.Lookup(ps.QuestionIDs)
		if err != nil {
			return nil, err
		}
		qz = quiz.Quiz{Title: b.Exam.Title, Questions: questions, PassingScore: quiz.Passing(b.Exam.Threshold())}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", quiz.ErrCorruptState, ps.Kind)
	}

	s, err := quiz.RestoreSession(qz, ps.Quiz)
	if err != nil {
		return nil, err
	}
	p.quiz = s
	return p, nil
}

func (p *page) expired() bool {
	return p.timeLeft != nil && *p.timeLeft == 0
}

func (e *Engine) view(p *page) View {
	v := View{
		SessionID: p.ps.ID,
		Kind:      p.ps.Kind,
		SectionID: p.ps.SectionID,
		BankID:    p.ps.BankID,
		Quiz:      quizView(p.quiz),
		Deadline:  p.ps.Deadline,
	}
	for _, c := range p.checks {
		v.Checks = append(v.Checks, checkView(c))
	}
	if p.ps.Deadline != nil {
		left := p.ps.Deadline.Sub(e.now())
		if left < 0 {
			left = 0
		}
		secs := int(left.Round(time.Second) / time.Second)
		v.Remaining = &secs
	}
	return v
}

func (e *Engine) logCompleted(p *page, timedOut bool) {
	res, _ := p.quiz.Result()
	e.record(p, EventQuizCompleted, map[string]any{
		"score":     res.Score,
		"correct":   res.Correct,
		"total":     res.Total,
		"passed":    res.Passed,
		"timed_out": timedOut,
	})
}

// record queues an event; flush writes the queue once the change is saved.
func (e *Engine) record(p *page, eventType string, data map[string]any) {
	p.pending = append(p.pending, Event{
		SessionID: p.ps.ID,
		SectionID: p.ps.SectionID,
		BankID:    p.ps.BankID,
		EventType: eventType,
		Data:      data,
		CreatedAt: e.now(),
	})
}

func (e *Engine) flush(p *page) {
	for _, ev := range p.pending {
		if ev.EventType == EventQuizCompleted {
			slog.Info("quiz completed",
				"session_id", ev.SessionID,
				"score", ev.Data["score"],
				"passed", ev.Data["passed"],
				"timed_out", ev.Data["timed_out"],
			)
		}
		if err := e.events.LogEvent(ev); err != nil {
			slog.Warn("failed to log event", "type", ev.EventType, "session_id", ev.SessionID, "error", err)
		}
	}
	p.pending = nil
}

func (e *Engine) lock(sid string) func() {
	h := fnv.New32a()
	h.Write([]byte(sid))
	m := &e.locks[h.Sum32()%uint32(len(e.locks))]
	m.Lock()
	return m.Unlock
}
