package curriculum

import (
	"fmt"

	"github.com/p-n-ai/course-checks/internal/quiz"
)

// Section is one course page loaded from YAML. It is immutable once loaded.
type Section struct {
	ID               string          `yaml:"id" json:"id"`
	Course           string          `yaml:"course" json:"course"`
	Module           int             `yaml:"module" json:"module"`
	Number           int             `yaml:"section" json:"section"`
	Title            string          `yaml:"title" json:"title"`
	Subtitle         string          `yaml:"subtitle" json:"subtitle"`
	SEO              SEO             `yaml:"seo" json:"seo"`
	Summary          []SummaryBox    `yaml:"summary" json:"summary"`
	LearningOutcomes []string        `yaml:"learning_outcomes" json:"learning_outcomes"`
	Blocks           []Block         `yaml:"blocks" json:"blocks"`
	Checks           []quiz.Question `yaml:"checks" json:"-"`
	FAQs             []FAQ           `yaml:"faqs" json:"faqs"`
	Quiz             QuizDef         `yaml:"quiz" json:"-"`
	Nav              Nav             `yaml:"nav" json:"nav"`

	// Digest is a content hash set by the loader.
	Digest string `yaml:"-" json:"-"`
}

// SEO holds the page title and meta description.
type SEO struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
}

// SummaryBox is a quick-summary panel at the top of a section.
type SummaryBox struct {
	Heading string         `yaml:"heading" json:"heading"`
	Points  []SummaryPoint `yaml:"points" json:"points"`
}

// SummaryPoint is a labelled bullet inside a summary box.
type SummaryPoint struct {
	Label string `yaml:"label" json:"label"`
	Text  string `yaml:"text" json:"text"`
}

// Block is a numbered prose block, optionally followed by an inline check.
type Block struct {
	Number     int      `yaml:"number" json:"number"`
	Heading    string   `yaml:"heading" json:"heading"`
	Paragraphs []string `yaml:"paragraphs" json:"paragraphs"`
	Check      string   `yaml:"check" json:"check,omitempty"`
}

// FAQ is a question and answer pair.
type FAQ struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

// QuizDef is the end-of-section quiz as authored.
type QuizDef struct {
	Title        string          `yaml:"title" json:"title"`
	PassingScore *int            `yaml:"passing_score" json:"passing_score"`
	Questions    []quiz.Question `yaml:"questions" json:"questions"`
}

// Nav holds the back, previous and next links.
type Nav struct {
	Back Link  `yaml:"back" json:"back"`
	Prev *Link `yaml:"prev" json:"prev,omitempty"`
	Next *Link `yaml:"next" json:"next,omitempty"`
}

// Link is a labelled route.
type Link struct {
	Label string `yaml:"label" json:"label"`
	To    string `yaml:"to" json:"to"`
}

// QuizConfig builds the quiz definition, applying defaultPassing when the
// section does not set its own threshold.
func (s Section) QuizConfig(defaultPassing int) quiz.Quiz {
	passing := defaultPassing
	if s.Quiz.PassingScore != nil {
		passing = *s.Quiz.PassingScore
	}
	return quiz.Quiz{
		Title:        s.Quiz.Title,
		Questions:    s.Quiz.Questions,
		PassingScore: quiz.Passing(passing),
	}
}

// Check returns the inline check with the given ID.
func (s Section) Check(id string) (quiz.Question, bool) {
	for _, c := range s.Checks {
		if c.ID == id {
			return c, true
		}
	}
	return quiz.Question{}, false
}

// Validate reports authoring defects in the section.
func (s Section) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("section has no id")
	}

	checkIDs := make(map[string]bool, len(s.Checks))
	for _, c := range s.Checks {
		if c.ID == "" {
			return fmt.Errorf("section %s: inline check without id", s.ID)
		}
		if checkIDs[c.ID] {
			return fmt.Errorf("section %s: duplicate inline check %q", s.ID, c.ID)
		}
		checkIDs[c.ID] = true
		if err := c.Validate(); err != nil {
			return fmt.Errorf("section %s: %w", s.ID, err)
		}
	}

	for _, b := range s.Blocks {
		if b.Check != "" && !checkIDs[b.Check] {
			return fmt.Errorf("section %s: block %d references unknown check %q", s.ID, b.Number, b.Check)
		}
	}

	if err := s.QuizConfig(quiz.DefaultPassingScore).Validate(); err != nil {
		return fmt.Errorf("section %s: %w", s.ID, err)
	}
	return nil
}
