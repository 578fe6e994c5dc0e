package curriculum

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/course-checks/internal/bank"
	"github.com/p-n-ai/course-checks/internal/quiz"
)

// Workbook layout for spreadsheet question banks.
const (
	questionsSheet = "Questions"
	settingsSheet  = "Settings"
)

// loadBankXLSX imports a question bank kept as a spreadsheet. The bank ID is
// the file name without its .bank.xlsx suffix.
func (l *Loader) loadBankXLSX(path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(questionsSheet)
	if err != nil {
		return fmt.Errorf("reading %s sheet: %w", questionsSheet, err)
	}

	var settings [][]string
	if idx, _ := f.GetSheetIndex(settingsSheet); idx >= 0 {
		if settings, err = f.GetRows(settingsSheet); err != nil {
			return fmt.Errorf("reading %s sheet: %w", settingsSheet, err)
		}
	}

	id := strings.TrimSuffix(filepath.Base(path), bankXLSX)
	b, err := parseBankRows(id, settings, rows)
	if err != nil {
		return err
	}
	return l.addBank(b)
}

// parseBankRows builds a bank from spreadsheet rows. The first Questions row
// is a header naming the columns; every column starting with "option" is an
// answer option, in column order. The correct column takes a letter (A, B, ...)
// or a zero-based index.
func parseBankRows(id string, settings, rows [][]string) (bank.Bank, error) {
	b := bank.Bank{ID: id, Title: id}
	if err := applySettings(&b, settings); err != nil {
		return bank.Bank{}, err
	}
	if len(rows) < 2 {
		return bank.Bank{}, fmt.Errorf("bank %s: no question rows", id)
	}

	cols := make(map[string]int)
	var optionCols []int
	for i, h := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		if strings.HasPrefix(name, "option") {
			optionCols = append(optionCols, i)
			continue
		}
		cols[name] = i
	}
	for _, required := range []string{"id", "question", "correct"} {
		if _, ok := cols[required]; !ok {
			return bank.Bank{}, fmt.Errorf("bank %s: missing %q column", id, required)
		}
	}

	for n, row := range rows[1:] {
		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return norm.NFC.String(strings.TrimSpace(row[i]))
		}
		if cell("id") == "" && cell("question") == "" {
			continue
		}

		options, err := rowOptions(row, optionCols)
		if err != nil {
			return bank.Bank{}, fmt.Errorf("bank %s row %d: %w", id, n+2, err)
		}
		correct, err := parseCorrect(cell("correct"))
		if err != nil {
			return bank.Bank{}, fmt.Errorf("bank %s row %d: %w", id, n+2, err)
		}

		b.Questions = append(b.Questions, quiz.Question{
			ID:          cell("id"),
			Prompt:      cell("question"),
			Options:     options,
			Correct:     correct,
			Explanation: cell("explanation"),
			Section:     cell("section"),
			Difficulty:  strings.ToLower(cell("difficulty")),
			Topic:       cell("topic"),
			Category:    cell("category"),
		})
	}
	return b, nil
}

// rowOptions reads the option cells of a row in column order. Trailing blank
// cells are dropped; a blank cell before a filled one is rejected, since
// compacting it would shift the option a letter in the correct column names.
func rowOptions(row []string, cols []int) ([]string, error) {
	options := make([]string, 0, len(cols))
	blank := -1
	for n, i := range cols {
		v := ""
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		if v == "" {
			if blank < 0 {
				blank = n
			}
			continue
		}
		if blank >= 0 {
			return nil, fmt.Errorf("option %c is blank but option %c is set", 'A'+rune(blank), 'A'+rune(n))
		}
		options = append(options, norm.NFC.String(v))
	}
	return options, nil
}

func parseCorrect(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("empty correct column")
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	if len(v) == 1 {
		c := strings.ToUpper(v)[0]
		if c >= 'A' && c <= 'Z' {
			return int(c - 'A'), nil
		}
	}
	return 0, fmt.Errorf("invalid correct value %q", v)
}

// applySettings reads key/value rows from the Settings sheet.
func applySettings(b *bank.Bank, rows [][]string) error {
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(row[0]))
		val := strings.TrimSpace(row[1])
		var err error
		switch {
		case key == "title":
			b.Title = norm.NFC.String(val)
		case key == "exam_title":
			b.Exam.Title = norm.NFC.String(val)
		case key == "categories":
			for _, c := range strings.Split(val, ",") {
				if c = strings.TrimSpace(c); c != "" {
					b.Categories = append(b.Categories, c)
				}
			}
		case key == "total_questions":
			b.Exam.TotalQuestions, err = strconv.Atoi(val)
		case key == "time_limit":
			b.Exam.TimeLimit, err = strconv.Atoi(val)
		case key == "pass_threshold":
			var n int
			if n, err = strconv.Atoi(val); err == nil {
				b.Exam.PassThreshold = quiz.Passing(n)
			}
		case strings.HasPrefix(key, "mix_"):
			var w float64
			if w, err = strconv.ParseFloat(val, 64); err == nil {
				if b.Exam.DifficultyMix == nil {
					b.Exam.DifficultyMix = make(map[string]float64)
				}
				b.Exam.DifficultyMix[strings.TrimPrefix(key, "mix_")] = w
			}
		}
		if err != nil {
			return fmt.Errorf("bank %s setting %s: %w", b.ID, key, err)
		}
	}
	return nil
}
