// Package bank holds module question banks and draws mock exams from them.
package bank

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/p-n-ai/course-checks/internal/quiz"
)

const (
	defaultExamQuestions = 30
	defaultPassThreshold = 60
)

// ExamConfig describes how a mock exam is drawn from a bank.
type ExamConfig struct {
	Title          string             `yaml:"title" json:"title"`
	TotalQuestions int                `yaml:"total_questions" json:"total_questions"`
	TimeLimit      int                `yaml:"time_limit" json:"time_limit"` // seconds, 0 = untimed
	PassThreshold  *int               `yaml:"pass_threshold" json:"pass_threshold"`
	DifficultyMix  map[string]float64 `yaml:"difficulty_mix" json:"difficulty_mix,omitempty"`
}

// Threshold returns the exam pass mark, 60 when the bank does not set one.
// An explicit 0 is kept.
func (c ExamConfig) Threshold() int {
	if c.PassThreshold == nil {
		return defaultPassThreshold
	}
	return *c.PassThreshold
}

// Bank is a pool of questions for one course module.
type Bank struct {
	ID         string          `yaml:"id" json:"id"`
	Title      string          `yaml:"title" json:"title"`
	Categories []string        `yaml:"categories" json:"categories,omitempty"`
	Exam       ExamConfig      `yaml:"exam" json:"exam"`
	Questions  []quiz.Question `yaml:"questions" json:"-"`
}

// Normalize fills defaults for an exam config loaded from content.
func (b *Bank) Normalize() {
	if b.Exam.TotalQuestions <= 0 {
		b.Exam.TotalQuestions = defaultExamQuestions
	}
	if b.Exam.PassThreshold == nil {
		b.Exam.PassThreshold = quiz.Passing(defaultPassThreshold)
	}
	if b.Exam.Title == "" {
		b.Exam.Title = b.Title + " Mock Examination"
	}
}

// Validate reports authoring defects in the bank.
func (b Bank) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("bank has no id")
	}
	if len(b.Questions) == 0 {
		return fmt.Errorf("bank %s: %w", b.ID, quiz.ErrNoQuestions)
	}
	if t := b.Exam.Threshold(); t < 0 || t > 100 {
		return fmt.Errorf("bank %s: %w", b.ID, quiz.ErrInvalidPassingScore)
	}
	seen := make(map[string]bool, len(b.Questions))
	for i, q := range b.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("bank %s question %d: %w", b.ID, i+1, err)
		}
		if seen[q.ID] {
			return fmt.Errorf("bank %s: duplicate question id %q", b.ID, q.ID)
		}
		seen[q.ID] = true
	}
	return nil
}

// BySection returns questions tagged with the given section, in bank order.
func (b Bank) BySection(section string) []quiz.Question {
	return b.filter(func(q quiz.Question) bool { return q.Section == section })
}

// ByDifficulty returns questions of the given difficulty, in bank order.
func (b Bank) ByDifficulty(difficulty string) []quiz.Question {
	return b.filter(func(q quiz.Question) bool { return q.Difficulty == difficulty })
}

// ByCategory returns questions in the given category, in bank order.
func (b Bank) ByCategory(category string) []quiz.Question {
	return b.filter(func(q quiz.Question) bool { return q.Category == category })
}

// Lookup returns the questions with the given IDs, in the order requested.
func (b Bank) Lookup(ids []string) ([]quiz.Question, error) {
	byID := make(map[string]quiz.Question, len(b.Questions))
	for _, q := range b.Questions {
		byID[q.ID] = q
	}
	out := make([]quiz.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("bank %s: question %q not found", b.ID, id)
		}
		out = append(out, q)
	}
	return out, nil
}

func (b Bank) filter(keep func(quiz.Question) bool) []quiz.Question {
	var out []quiz.Question
	for _, q := range b.Questions {
		if keep(q) {
			out = append(out, q)
		}
	}
	return out
}

// Draw returns n questions sampled uniformly without replacement.
func (b Bank) Draw(rng *rand.Rand, n int) []quiz.Question {
	pool := append([]quiz.Question(nil), b.Questions...)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

// DrawBalanced samples n questions following the bank's difficulty mix and
// spreading each difficulty across categories. When a bucket runs short the
// remainder is filled from the rest of the bank. Option order is never changed.
func (b Bank) DrawBalanced(rng *rand.Rand, n int) []quiz.Question {
	if n > len(b.Questions) {
		n = len(b.Questions)
	}
	if len(b.Exam.DifficultyMix) == 0 {
		return b.Draw(rng, n)
	}

	quotas := allocate(b.Exam.DifficultyMix, n)
	used := make(map[int]bool, n)
	picked := make([]int, 0, n)

	for _, difficulty := range sortedKeys(quotas) {
		for _, idx := range b.spreadByCategory(rng, difficulty, quotas[difficulty]) {
			used[idx] = true
			picked = append(picked, idx)
		}
	}

	if len(picked) < n {
		rest := make([]int, 0, len(b.Questions)-len(picked))
		for i := range b.Questions {
			if !used[i] {
				rest = append(rest, i)
			}
		}
		rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		picked = append(picked, rest[:n-len(picked)]...)
	}

	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	out := make([]quiz.Question, len(picked))
	for i, idx := range picked {
		out[i] = b.Questions[idx]
	}
	return out
}

// spreadByCategory picks up to want question indexes of one difficulty,
// taking one per category in turn.
func (b Bank) spreadByCategory(rng *rand.Rand, difficulty string, want int) []int {
	buckets := make(map[string][]int)
	for i, q := range b.Questions {
		if q.Difficulty == difficulty {
			buckets[q.Category] = append(buckets[q.Category], i)
		}
	}
	order := b.categoryOrder(buckets)
	for _, c := range order {
		bucket := buckets[c]
		rng.Shuffle(len(bucket), func(i, j int) { bucket[i], bucket[j] = bucket[j], bucket[i] })
	}

	var out []int
	for len(out) < want {
		progressed := false
		for _, c := range order {
			if len(out) == want {
				break
			}
			if len(buckets[c]) == 0 {
				continue
			}
			out = append(out, buckets[c][0])
			buckets[c] = buckets[c][1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// categoryOrder lists configured categories first, then any others found.
func (b Bank) categoryOrder(buckets map[string][]int) []string {
	seen := make(map[string]bool)
	var order []string
	for _, c := range b.Categories {
		if _, ok := buckets[c]; ok && !seen[c] {
			order = append(order, c)
			seen[c] = true
		}
	}
	var extra []string
	for c := range buckets {
		if !seen[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

// DrawExam draws a mock exam of n questions (the configured size when n <= 0).
func (b Bank) DrawExam(rng *rand.Rand, n int) quiz.Quiz {
	if n <= 0 {
		n = b.Exam.TotalQuestions
	}
	return quiz.Quiz{
		Title:        b.Exam.Title,
		Questions:    b.DrawBalanced(rng, n),
		PassingScore: quiz.Passing(b.Exam.Threshold()),
	}
}

// allocate splits n slots across weights using the largest remainder method.
func allocate(weights map[string]float64, n int) map[string]int {
	keys := sortedKeys(weights)
	total := 0.0
	for _, k := range keys {
		if weights[k] > 0 {
			total += weights[k]
		}
	}
	out := make(map[string]int, len(keys))
	if total == 0 {
		return out
	}

	type rem struct {
		key  string
		frac float64
	}
	rems := make([]rem, 0, len(keys))
	assigned := 0
	for _, k := range keys {
		w := weights[k]
		if w <= 0 {
			continue
		}
		exact := float64(n) * w / total
		whole := int(exact)
		out[k] = whole
		assigned += whole
		rems = append(rems, rem{k, exact - float64(whole)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < n && len(rems) > 0; i++ {
		out[rems[i%len(rems)].key]++
		assigned++
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
