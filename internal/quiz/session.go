package quiz

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultPassingScore applies when a quiz does not set its own threshold.
const DefaultPassingScore = 70

var (
	ErrNoQuestions         = errors.New("quiz has no questions")
	ErrInvalidPassingScore = errors.New("passing score must be between 0 and 100")
	ErrAlreadyAnswered     = errors.New("current question already answered")
	ErrNotAnswered         = errors.New("current question not answered yet")
	ErrCompleted           = errors.New("quiz already completed")
	ErrCorruptState        = errors.New("stored state does not match content")
)

// Quiz is an end-of-section assessment definition. A nil PassingScore means
// DefaultPassingScore.
type Quiz struct {
	Title        string
	Questions    []Question
	PassingScore *int
}

// Threshold returns the score needed to pass.
func (q Quiz) Threshold() int {
	if q.PassingScore == nil {
		return DefaultPassingScore
	}
	return *q.PassingScore
}

// Passing returns a pointer to score, for building a Quiz literal.
func Passing(score int) *int {
	return &score
}

// Validate reports authoring defects in the quiz definition.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return ErrNoQuestions
	}
	if t := q.Threshold(); t < 0 || t > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPassingScore, t)
	}
	for i, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("quiz %q question %d: %w", q.Title, i+1, err)
		}
	}
	return nil
}

// Result is the outcome of a completed quiz.
type Result struct {
	Correct      int  `json:"correct"`
	Total        int  `json:"total"`
	Score        int  `json:"score"`
	PassingScore int  `json:"passing_score"`
	Passed       bool `json:"passed"`
}

// SessionState is the serialisable form of a Session.
type SessionState struct {
	Index     int         `json:"index"`
	Answers   map[int]int `json:"answers,omitempty"`
	Completed bool        `json:"completed"`
}

// Session walks a learner through a Quiz one question at a time.
// Questions are identified by position; question IDs are never consulted.
type Session struct {
	quiz      Quiz
	index     int
	answers   map[int]int
	completed bool
}

// NewSession starts a quiz at its first question.
func NewSession(q Quiz) (*Session, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &Session{quiz: q, answers: make(map[int]int)}, nil
}

// RestoreSession rebuilds a session from a previously captured state.
func RestoreSession(q Quiz, st SessionState) (*Session, error) {
	s, err := NewSession(q)
	if err != nil {
		return nil, err
	}
	n := len(q.Questions)
	if st.Index < 0 || st.Index > n {
		return nil, fmt.Errorf("%w: index %d of %d", ErrCorruptState, st.Index, n)
	}
	if st.Completed != (st.Index == n) {
		return nil, fmt.Errorf("%w: completed=%v at index %d", ErrCorruptState, st.Completed, st.Index)
	}
	for qi, opt := range st.Answers {
		if qi < 0 || qi >= n || qi > st.Index {
			return nil, fmt.Errorf("%w: answer for question %d", ErrCorruptState, qi)
		}
		if !q.Questions[qi].validOption(opt) {
			return nil, fmt.Errorf("%w: option %d for question %d", ErrCorruptState, opt, qi)
		}
		s.answers[qi] = opt
	}
	s.index = st.Index
	s.completed = st.Completed
	return s, nil
}

// Quiz returns the definition the session runs.
func (s *Session) Quiz() Quiz {
	return s.quiz
}

// Len returns the number of questions.
func (s *Session) Len() int {
	return len(s.quiz.Questions)
}

// Index returns the position of the current question.
func (s *Session) Index() int {
	return s.index
}

// Current returns the question being asked, or false once completed.
func (s *Session) Current() (Question, bool) {
	if s.completed {
		return Question{}, false
	}
	return s.quiz.Questions[s.index], true
}

// Answered reports whether the current question has an answer.
func (s *Session) Answered() bool {
	_, ok := s.answers[s.index]
	return ok && !s.completed
}

// AnswerCurrent records the answer to the current question and reveals it.
// An answer is locked in as soon as it is given.
func (s *Session) AnswerCurrent(option int) (Feedback, error) {
	if s.completed {
		return Feedback{}, ErrCompleted
	}
	q := s.quiz.Questions[s.index]
	if prev, ok := s.answers[s.index]; ok {
		return feedbackFor(q, prev), ErrAlreadyAnswered
	}
	if !q.validOption(option) {
		return Feedback{}, fmt.Errorf("%w: %d", ErrOptionOutOfRange, option)
	}
	s.answers[s.index] = option
	return feedbackFor(q, option), nil
}

// Feedback returns the revealed feedback for question i.
func (s *Session) Feedback(i int) (Feedback, bool) {
	opt, ok := s.answers[i]
	if !ok {
		return Feedback{}, false
	}
	return feedbackFor(s.quiz.Questions[i], opt), true
}

// Advance moves past an answered question. Advancing past the last question
// completes the session.
func (s *Session) Advance() error {
	if s.completed {
		return ErrCompleted
	}
	if _, ok := s.answers[s.index]; !ok {
		return ErrNotAnswered
	}
	s.index++
	if s.index == len(s.quiz.Questions) {
		s.completed = true
	}
	return nil
}

// Finish completes the session where it stands. Unanswered questions score
// as incorrect.
func (s *Session) Finish() {
	s.index = len(s.quiz.Questions)
	s.completed = true
}

// Restart discards every answer and returns to the first question.
func (s *Session) Restart() {
	s.index = 0
	s.answers = make(map[int]int)
	s.completed = false
}

// Completed reports whether the session has reached its terminal state.
func (s *Session) Completed() bool {
	return s.completed
}

// Result returns the final score once completed.
func (s *Session) Result() (Result, bool) {
	if !s.completed {
		return Result{}, false
	}
	return s.tally(), true
}

func (s *Session) tally() Result {
	correct := 0
	for i, opt := range s.answers {
		if s.quiz.Questions[i].IsCorrect(opt) {
			correct++
		}
	}
	total := len(s.quiz.Questions)
	score := Percent(correct, total)
	passing := s.quiz.Threshold()
	return Result{
		Correct:      correct,
		Total:        total,
		Score:        score,
		PassingScore: passing,
		Passed:       score >= passing,
	}
}

// AnsweredIndexes returns the positions that have answers, ascending.
func (s *Session) AnsweredIndexes() []int {
	idx := make([]int, 0, len(s.answers))
	for i := range s.answers {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// State captures the session for storage.
func (s *Session) State() SessionState {
	answers := make(map[int]int, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return SessionState{Index: s.index, Answers: answers, Completed: s.completed}
}

// Percent returns 100*correct/total rounded half up.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}
