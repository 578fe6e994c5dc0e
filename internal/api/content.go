package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/p-n-ai/course-checks/internal/bank"
	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/session"
)

type sectionSummary struct {
	ID      string `json:"id"`
	Course  string `json:"course"`
	Module  int    `json:"module"`
	Section int    `json:"section"`
	Title   string `json:"title"`
}

// sectionResponse is a course page as served to clients. Inline checks and
// quiz questions carry no answers.
type sectionResponse struct {
	curriculum.Section
	Checks []session.QuestionView `json:"checks"`
	Quiz   quizResponse           `json:"quiz"`
}

type quizResponse struct {
	Title        string                 `json:"title"`
	PassingScore int                    `json:"passing_score"`
	Questions    []session.QuestionView `json:"questions"`
}

type bankSummary struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Categories []string        `json:"categories,omitempty"`
	Questions  int             `json:"questions"`
	Exam       bank.ExamConfig `json:"exam"`
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	sections := s.content.Sections()
	out := make([]sectionSummary, len(sections))
	for i, sec := range sections {
		out[i] = sectionSummary{
			ID:      sec.ID,
			Course:  sec.Course,
			Module:  sec.Module,
			Section: sec.Number,
			Title:   sec.Title,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": out})
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sec, ok := s.content.Section(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", session.ErrSectionNotFound, id), nil)
		return
	}

	etag := `"` + sec.Digest + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if etagMatches(r.Header.Values("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	qz := sec.QuizConfig(s.passing)
	resp := sectionResponse{
		Section: sec,
		Checks:  make([]session.QuestionView, len(sec.Checks)),
		Quiz: quizResponse{
			Title:        qz.Title,
			PassingScore: qz.Threshold(),
			Questions:    make([]session.QuestionView, len(qz.Questions)),
		},
	}
	for i, c := range sec.Checks {
		resp.Checks[i] = session.NewQuestionView(c)
	}
	for i, q := range qz.Questions {
		resp.Quiz.Questions[i] = session.NewQuestionView(q)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	banks := s.content.Banks()
	out := make([]bankSummary, len(banks))
	for i, b := range banks {
		out[i] = bankSummary{
			ID:         b.ID,
			Title:      b.Title,
			Categories: b.Categories,
			Questions:  len(b.Questions),
			Exam:       b.Exam,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": out})
}

// etagMatches reports whether an If-None-Match header list names etag. The
// comparison is weak: a W/ prefix is ignored, and * matches anything.
func etagMatches(headers []string, etag string) bool {
	for _, h := range headers {
		for _, tag := range strings.Split(h, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == etag {
				return true
			}
		}
	}
	return false
}
