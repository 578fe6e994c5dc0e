package session

import (
	"time"

	"github.com/p-n-ai/course-checks/internal/quiz"
)

// View is what a client renders for a page session. The correct option of a
// question is only present once that question has been answered.
type View struct {
	SessionID string      `json:"session_id"`
	Kind      Kind        `json:"kind"`
	SectionID string      `json:"section_id,omitempty"`
	BankID    string      `json:"bank_id,omitempty"`
	Checks    []CheckView `json:"checks,omitempty"`
	Quiz      QuizView    `json:"quiz"`
	Deadline  *time.Time  `json:"deadline,omitempty"`
	Remaining *int        `json:"remaining_seconds,omitempty"`
}

// CheckView is one inline check.
type CheckView struct {
	ID       string         `json:"id"`
	Question QuestionView   `json:"question"`
	Revealed bool           `json:"revealed"`
	Feedback *quiz.Feedback `json:"feedback,omitempty"`
}

// QuestionView is a question without its answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

// QuizView is the end-of-page quiz. Current and Feedback are set while the
// quiz is in progress; Result and Review once it is completed.
type QuizView struct {
	Title        string         `json:"title"`
	Total        int            `json:"total"`
	Index        int            `json:"index"`
	PassingScore int            `json:"passing_score"`
	Completed    bool           `json:"completed"`
	Current      *QuestionView  `json:"current,omitempty"`
	Feedback     *quiz.Feedback `json:"feedback,omitempty"`
	Result       *quiz.Result   `json:"result,omitempty"`
	Review       []ReviewItem   `json:"review,omitempty"`
}

// ReviewItem shows one question with the learner's answer after completion.
type ReviewItem struct {
	Question QuestionView   `json:"question"`
	Feedback *quiz.Feedback `json:"feedback,omitempty"`
}

// NewQuestionView strips the answer from q.
func NewQuestionView(q quiz.Question) QuestionView {
	return QuestionView{
		ID:      q.ID,
		Prompt:  q.Prompt,
		Options: append([]string(nil), q.Options...),
	}
}

func checkView(c *quiz.InlineCheck) CheckView {
	q := c.Question()
	v := CheckView{ID: q.ID, Question: NewQuestionView(q), Revealed: c.Revealed()}
	if fb, ok := c.Feedback(); ok {
		v.Feedback = &fb
	}
	return v
}

func quizView(s *quiz.Session) QuizView {
	qz := s.Quiz()
	v := QuizView{
		Title:        qz.Title,
		Total:        s.Len(),
		Index:        s.Index(),
		PassingScore: qz.Threshold(),
		Completed:    s.Completed(),
	}

	if q, ok := s.Current(); ok {
		cur := NewQuestionView(q)
		v.Current = &cur
		if fb, ok := s.Feedback(s.Index()); ok {
			v.Feedback = &fb
		}
		return v
	}

	if res, ok := s.Result(); ok {
		v.Result = &res
	}
	v.Review = make([]ReviewItem, len(qz.Questions))
	for i, q := range qz.Questions {
		v.Review[i] = ReviewItem{Question: NewQuestionView(q)}
		if fb, ok := s.Feedback(i); ok {
			v.Review[i].Feedback = &fb
		}
	}
	return v
}
