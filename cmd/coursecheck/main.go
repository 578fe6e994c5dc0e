// Command coursecheck validates a content directory the way the server loads
// it in strict mode and prints a summary of what it found.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/quiz"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("coursecheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("content", "./content", "content directory to check")
	passing := fs.Int("passing-score", quiz.DefaultPassingScore, "default passing score for sections without their own")
	verbose := fs.Bool("v", false, "list every section and bank")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	loader, err := curriculum.NewLoader(*dir, true)
	if err != nil {
		fmt.Fprintf(stderr, "coursecheck: %v\n", err)
		return 1
	}

	sections := loader.Sections()
	banks := loader.Banks()
	if *verbose {
		for _, s := range sections {
			q := s.QuizConfig(*passing)
			fmt.Fprintf(stdout, "section %-24s checks=%d questions=%d passing=%d\n", s.ID, len(s.Checks), len(q.Questions), q.Threshold())
		}
		for _, b := range banks {
			fmt.Fprintf(stdout, "bank    %-24s questions=%d exam=%d time_limit=%ds\n", b.ID, len(b.Questions), b.Exam.TotalQuestions, b.Exam.TimeLimit)
		}
	}
	fmt.Fprintf(stdout, "ok: %d sections, %d banks\n", len(sections), len(banks))
	return 0
}
