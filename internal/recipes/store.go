// Package recipes stores the recipe table in a flat CSV file and extracts
// new rows from recipe URLs with the help of the LLM.
package recipes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Column names of the recipe file, in order.
const (
	ColTitle       = "Titre"
	ColIngredients = "Ingrédients Clés"
	ColPrep        = "Préparation (min)"
	ColCook        = "Cuisson (min)"
	ColMeat        = "Contient viande/poisson ?"
	ColURL         = "URL"
)

// Header is the exact header row of the recipe file.
var Header = []string{ColTitle, ColIngredients, ColPrep, ColCook, ColMeat, ColURL}

// ErrNotFound is returned by Load when the recipe file does not exist.
var ErrNotFound = errors.New("recipe file not found")

// Store reads and writes the recipe CSV file. It assumes a single writer
// process; the mutex only serializes writers inside this process.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the backing file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load returns every recipe in file order. On a missing or malformed file it
// returns an empty, non-nil slice together with the error so callers can keep
// going with an empty table.
func (s *Store) Load() ([]Recipe, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Recipe{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return []Recipe{}, fmt.Errorf("opening recipe file: %w", err)
	}
	defer f.Close()

	recipes, err := decode(f)
	if err != nil {
		return []Recipe{}, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return recipes, nil
}

// Append adds r at the end of the file, creating the file with a header if
// needed. When the existing file does not end with a line terminator one is
// written first so the new row never joins a partial trailing line.
func (s *Store) Append(r Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRow(s.path, Header, encodeRow(r))
}

// Rewrite replaces the whole file with recipes.
func (s *Store) Rewrite(recipes []Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([][]string, 0, len(recipes)+1)
	rows = append(rows, Header)
	for _, r := range recipes {
		rows = append(rows, encodeRow(r))
	}
	return writeFileAtomic(s.path, rows)
}

func decode(r io.Reader) ([]Recipe, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return []Recipe{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	field := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	recipes := []Recipe{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		if isBlank(rec) {
			continue
		}

		prep := minutesCell(field(rec, ColPrep), line, ColPrep)
		cook := minutesCell(field(rec, ColCook), line, ColCook)

		meat := MeatFlag(field(rec, ColMeat))
		if parsed, err := ParseMeatFlag(string(meat)); err == nil {
			meat = parsed
		}

		recipes = append(recipes, Recipe{
			Title:              field(rec, ColTitle),
			KeyIngredients:     field(rec, ColIngredients),
			PrepMinutes:        prep,
			CookMinutes:        cook,
			ContainsMeatOrFish: meat,
			SourceURL:          field(rec, ColURL),
		})
	}
	return recipes, nil
}

// minutesCell parses a hand-editable minutes cell. A bad value keeps the
// row and reads as zero.
func minutesCell(s string, line int, col string) int {
	n, err := parseMinutes(s)
	if err != nil {
		slog.Warn("recipe file: unreadable minutes, using 0", "line", line, "column", col, "error", err)
		return 0
	}
	return n
}

// parseMinutes accepts integers and floats ("12.0"), truncating the latter.
// An empty cell is zero.
func parseMinutes(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int(f), nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func encodeRow(r Recipe) []string {
	return []string{
		r.Title,
		r.KeyIngredients,
		strconv.Itoa(r.PrepMinutes),
		strconv.Itoa(r.CookMinutes),
		string(r.ContainsMeatOrFish),
		r.SourceURL,
	}
}

// appendRow appends one CSV row to path. A missing or empty file first gets
// header.
func appendRow(path string, header, row []string) error {
	needsNewline, empty, err := inspectTail(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s for append: %w", path, err)
	}
	defer f.Close()

	if needsNewline {
		if _, err := f.WriteString("\n"); err != nil {
			return fmt.Errorf("writing line terminator: %w", err)
		}
	}

	w := csv.NewWriter(f)
	if empty && header != nil {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing row: %w", err)
	}
	return f.Close()
}

// inspectTail reports whether the file at path is missing or empty, and
// whether its last byte is something other than '\n' or '\r'.
func inspectTail(path string) (needsNewline, empty bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, true, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return false, true, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, false, fmt.Errorf("reading last byte of %s: %w", path, err)
	}
	return last[0] != '\n' && last[0] != '\r', false, nil
}

// writeFileAtomic writes rows to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// URLLog records the source URL of every imported recipe, one per row.
type URLLog struct {
	path string
	mu   sync.Mutex
}

// NewURLLog returns a URLLog backed by path.
func NewURLLog(path string) *URLLog {
	return &URLLog{path: path}
}

// Add appends u to the log.
func (l *URLLog) Add(u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendRow(l.path, []string{ColURL}, []string{u})
}
