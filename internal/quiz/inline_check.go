package quiz

import (
	"errors"
	"fmt"
)

// Invalid interactions. Widget state is left untouched when these are returned.
var (
	ErrOptionOutOfRange = errors.New("option index out of range")
	ErrAlreadyRevealed  = errors.New("inline check already answered")
)

// InlineCheck is a single question embedded in article prose. The first
// answer is final.
type InlineCheck struct {
	question Question
	selected int
	revealed bool
}

// InlineCheckState is the serialisable form of an InlineCheck.
type InlineCheckState struct {
	Selected *int `json:"selected,omitempty"`
	Revealed bool `json:"revealed"`
}

// NewInlineCheck creates an unanswered check for q.
func NewInlineCheck(q Question) (*InlineCheck, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &InlineCheck{question: q, selected: -1}, nil
}

// RestoreInlineCheck rebuilds a check from a previously captured state.
func RestoreInlineCheck(q Question, st InlineCheckState) (*InlineCheck, error) {
	c, err := NewInlineCheck(q)
	if err != nil {
		return nil, err
	}
	if st.Selected == nil {
		if st.Revealed {
			return nil, fmt.Errorf("check %q: %w: revealed without a selection", q.ID, ErrCorruptState)
		}
		return c, nil
	}
	if !q.validOption(*st.Selected) {
		return nil, fmt.Errorf("check %q: %w: selection %d", q.ID, ErrCorruptState, *st.Selected)
	}
	c.selected = *st.Selected
	c.revealed = true
	return c, nil
}

// Question returns the question shown by the check.
func (c *InlineCheck) Question() Question {
	return c.question
}

// Select records the learner's answer and reveals the explanation.
func (c *InlineCheck) Select(option int) (Feedback, error) {
	if c.revealed {
		return feedbackFor(c.question, c.selected), ErrAlreadyRevealed
	}
	if !c.question.validOption(option) {
		return Feedback{}, fmt.Errorf("%w: %d", ErrOptionOutOfRange, option)
	}
	c.selected = option
	c.revealed = true
	return feedbackFor(c.question, option), nil
}

// Revealed reports whether the check has been answered.
func (c *InlineCheck) Revealed() bool {
	return c.revealed
}

// Feedback returns the answer feedback once revealed.
func (c *InlineCheck) Feedback() (Feedback, bool) {
	if !c.revealed {
		return Feedback{}, false
	}
	return feedbackFor(c.question, c.selected), true
}

// State captures the check for storage.
func (c *InlineCheck) State() InlineCheckState {
	if !c.revealed {
		return InlineCheckState{}
	}
	sel := c.selected
	return InlineCheckState{Selected: &sel, Revealed: true}
}
