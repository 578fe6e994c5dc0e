// Package quiz implements the two assessment widgets used on course pages:
// the single-question InlineCheck and the multi-question Quiz session.
package quiz

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Authoring defects. These indicate bad course data, not learner mistakes.
var (
	ErrEmptyPrompt       = errors.New("question text is empty")
	ErrTooFewOptions     = errors.New("question needs at least two options")
	ErrCorrectOutOfRange = errors.New("correct option index out of range")
	ErrConflictingAnswer = errors.New("correct_index and correct_answer disagree")
)

// Difficulty levels used by question banks.
const (
	DifficultyBasic        = "basic"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Question is a prompt with ordered options and exactly one correct option.
type Question struct {
	ID          string   `json:"id" yaml:"id"`
	Prompt      string   `json:"question" yaml:"question"`
	Options     []string `json:"options" yaml:"options"`
	Correct     int      `json:"correct_index" yaml:"correct_index"`
	Explanation string   `json:"explanation" yaml:"explanation"`

	Section    string `json:"section,omitempty" yaml:"section,omitempty"`
	Difficulty string `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Topic      string `json:"topic,omitempty" yaml:"topic,omitempty"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
}

// UnmarshalYAML accepts both spellings of the correct option used by course
// pages: correct_index (inline checks) and correct_answer (quizzes).
func (q *Question) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID            string   `yaml:"id"`
		Prompt        string   `yaml:"question"`
		Options       []string `yaml:"options"`
		CorrectIndex  *int     `yaml:"correct_index"`
		CorrectAnswer *int     `yaml:"correct_answer"`
		Explanation   string   `yaml:"explanation"`
		Section       string   `yaml:"section"`
		Difficulty    string   `yaml:"difficulty"`
		Topic         string   `yaml:"topic"`
		Category      string   `yaml:"category"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	correct := -1
	switch {
	case raw.CorrectIndex != nil && raw.CorrectAnswer != nil:
		if *raw.CorrectIndex != *raw.CorrectAnswer {
			return fmt.Errorf("question %s: %w", raw.ID, ErrConflictingAnswer)
		}
		correct = *raw.CorrectIndex
	case raw.CorrectIndex != nil:
		correct = *raw.CorrectIndex
	case raw.CorrectAnswer != nil:
		correct = *raw.CorrectAnswer
	}

	*q = Question{
		ID:          raw.ID,
		Prompt:      raw.Prompt,
		Options:     raw.Options,
		Correct:     correct,
		Explanation: raw.Explanation,
		Section:     raw.Section,
		Difficulty:  raw.Difficulty,
		Topic:       raw.Topic,
		Category:    raw.Category,
	}
	return nil
}

// Validate reports the first authoring defect in q, if any.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("question %q: %w", q.ID, ErrEmptyPrompt)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q: %w", q.ID, ErrTooFewOptions)
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return fmt.Errorf("question %q: %w (%d of %d options)", q.ID, ErrCorrectOutOfRange, q.Correct, len(q.Options))
	}
	return nil
}

// IsCorrect reports whether option i is the correct one.
func (q Question) IsCorrect(i int) bool {
	return i == q.Correct && q.validOption(i)
}

func (q Question) validOption(i int) bool {
	return i >= 0 && i < len(q.Options)
}

// Feedback is what a learner sees once a question has been answered.
type Feedback struct {
	Selected    int    `json:"selected"`
	Correct     int    `json:"correct_index"`
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation"`
}

func feedbackFor(q Question, selected int) Feedback {
	return Feedback{
		Selected:    selected,
		Correct:     q.Correct,
		IsCorrect:   q.IsCorrect(selected),
		Explanation: q.Explanation,
	}
}
