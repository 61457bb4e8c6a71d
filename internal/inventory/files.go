package inventory

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File names under the data directory.
const (
	FlatFile        = "available_ingredients.csv"
	CategorizedFile = "categorized_available_ingredients.json"
	CacheFile       = "all_categorized_ingredients_cache.json"
)

// FlatHeader is the single column of the flat inventory file.
const FlatHeader = "Ingrédient"

var (
	// ErrNotFound is returned when the inventory has never been saved.
	ErrNotFound = errors.New("inventory not found")
	// ErrEmptySelection is returned when saving an empty selection.
	ErrEmptySelection = errors.New("no ingredient selected")
)

// Files persists the available-ingredient inventory as a flat list and a
// categorized JSON object. Both are always written together from the same
// selection.
type Files struct {
	dir string
	mu  sync.Mutex
}

// NewFiles returns Files rooted at dir.
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// FlatPath returns the location of the flat inventory file.
func (f *Files) FlatPath() string { return filepath.Join(f.dir, FlatFile) }

// CategorizedPath returns the location of the categorized inventory file.
func (f *Files) CategorizedPath() string { return filepath.Join(f.dir, CategorizedFile) }

// Save writes both inventory representations. flat is written in the given
// order.
func (f *Files) Save(categorized CategoryMap, flat []string) error {
	if len(flat) == 0 {
		return ErrEmptySelection
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("creating inventory directory: %w", err)
	}

	if categorized == nil {
		categorized = CategoryMap{}
	}
	data, err := encodeIndented(categorized)
	if err != nil {
		return fmt.Errorf("encoding categorized inventory: %w", err)
	}
	if err := writeAtomic(f.CategorizedPath(), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("writing categorized inventory: %w", err)
	}

	if err := writeAtomic(f.FlatPath(), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{FlatHeader}); err != nil {
			return err
		}
		for _, item := range flat {
			if err := cw.Write([]string{item}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}); err != nil {
		return fmt.Errorf("writing flat inventory: %w", err)
	}
	return nil
}

// LoadFlat returns the saved flat inventory in file order. The slice may be
// empty when the file only holds the header.
func (f *Files) LoadFlat() ([]string, error) {
	file, err := os.Open(f.FlatPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening inventory: %w", err)
	}
	defer file.Close()

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}

	items := []string{}
	col := 0
	for i, rec := range records {
		if i == 0 {
			for j, h := range rec {
				if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == FlatHeader {
					col = j
				}
			}
			continue
		}
		if col >= len(rec) {
			continue
		}
		if item := strings.TrimSpace(rec[col]); item != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

// LoadCategorized returns the saved categorized inventory.
func (f *Files) LoadCategorized() (CategoryMap, error) {
	data, err := os.ReadFile(f.CategorizedPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading categorized inventory: %w", err)
	}
	var m CategoryMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding categorized inventory: %w", err)
	}
	return m, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
