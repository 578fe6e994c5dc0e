// Package curriculum loads course sections and question banks from a content
// directory. Content is read once at start-up and never mutated afterwards.
package curriculum

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/course-checks/internal/bank"
)

// ErrSchema marks a document that does not match its JSON schema.
var ErrSchema = errors.New("document does not match schema")

const (
	sectionSuffix = ".section.yaml"
	bankSuffix    = ".bank.yaml"
	bankXLSX      = ".bank.xlsx"
)

// Loader loads and caches course content from the filesystem.
type Loader struct {
	rootDir  string
	strict   bool
	schemas  *schemas
	sections map[string]Section
	banks    map[string]bank.Bank
	mu       sync.RWMutex
}

// NewLoader loads all content under rootDir. In strict mode the first
// authoring defect aborts loading; otherwise defective documents are logged
// and skipped.
func NewLoader(rootDir string, strict bool) (*Loader, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	l := &Loader{
		rootDir:  rootDir,
		strict:   strict,
		schemas:  s,
		sections: make(map[string]Section),
		banks:    make(map[string]bank.Bank),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading content: %w", err)
	}

	slog.Info("course content loaded", "sections", len(l.sections), "banks", len(l.banks), "strict", strict)
	return l, nil
}

// Section returns a section by ID.
func (l *Loader) Section(id string) (Section, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sections[id]
	return s, ok
}

// Sections returns all sections ordered by course, module and section number.
func (l *Loader) Sections() []Section {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Section, 0, len(l.sections))
	for _, s := range l.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Course != b.Course {
			return a.Course < b.Course
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ID < b.ID
	})
	return out
}

// Bank returns a question bank by ID.
func (l *Loader) Bank(id string) (bank.Bank, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.banks[id]
	return b, ok
}

// Banks returns all question banks ordered by ID.
func (l *Loader) Banks() []bank.Bank {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]bank.Bank, 0, len(l.banks))
	for _, b := range l.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Loader) loadAll() error {
	return filepath.WalkDir(l.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == l.rootDir {
				if l.strict {
					return fmt.Errorf("content directory: %w", err)
				}
				slog.Warn("content directory missing", "path", path)
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		var loadErr error
		switch {
		case strings.HasSuffix(path, sectionSuffix):
			loadErr = l.loadSection(path)
		case strings.HasSuffix(path, bankSuffix):
			loadErr = l.loadBank(path)
		case strings.HasSuffix(path, bankXLSX):
			loadErr = l.loadBankXLSX(path)
		default:
			return nil
		}
		return l.reject(path, loadErr)
	})
}

// reject applies the strictness policy to a per-document error.
func (l *Loader) reject(path string, err error) error {
	if err == nil {
		return nil
	}
	if l.strict {
		return fmt.Errorf("%s: %w", path, err)
	}
	slog.Warn("skipping invalid content", "path", path, "error", err)
	return nil
}

// readValidated reads a YAML file, normalises it to NFC and checks it
// against schema. The normalised bytes are returned for decoding.
func (l *Loader) readValidated(path string, schema *gojsonschema.Schema) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data := norm.NFC.Bytes(raw)

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if err := validateDocument(schema, doc); err != nil {
		return nil, err
	}
	return data, nil
}

func (l *Loader) loadSection(path string) error {
	data, err := l.readValidated(path, l.schemas.section)
	if err != nil {
		return err
	}

	var s Section
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding section: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}
	s.Digest = digest(data)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.sections[s.ID]; dup {
		return fmt.Errorf("duplicate section id %q", s.ID)
	}
	l.sections[s.ID] = s
	return nil
}

func (l *Loader) loadBank(path string) error {
	data, err := l.readValidated(path, l.schemas.bank)
	if err != nil {
		return err
	}

	var b bank.Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decoding bank: %w", err)
	}
	return l.addBank(b)
}

func (l *Loader) addBank(b bank.Bank) error {
	b.Normalize()
	if err := b.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.banks[b.ID]; dup {
		return fmt.Errorf("duplicate bank id %q", b.ID)
	}
	l.banks[b.ID] = b
	return nil
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
