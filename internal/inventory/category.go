package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CatchAllCategory holds the whole vocabulary when categorization is not
// available.
const CatchAllCategory = "Tous les Ingrédients"

// Category is one named group of ingredients.
type Category struct {
	Name        string   `json:"name"`
	Ingredients []string `json:"ingredients"`
}

// CategoryMap is an ordered mapping of category name to ingredients. It
// encodes as a JSON object whose keys keep insertion order.
type CategoryMap []Category

// CatchAll returns a map with a single category holding items.
func CatchAll(items []string) CategoryMap {
	return CategoryMap{{Name: CatchAllCategory, Ingredients: append([]string(nil), items...)}}
}

// Get returns the ingredients of the named category.
func (m CategoryMap) Get(name string) ([]string, bool) {
	for _, c := range m {
		if c.Name == name {
			return c.Ingredients, true
		}
	}
	return nil, false
}

// Names returns the category names in order.
func (m CategoryMap) Names() []string {
	names := make([]string, len(m))
	for i, c := range m {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of m.
func (m CategoryMap) Clone() CategoryMap {
	if m == nil {
		return nil
	}
	out := make(CategoryMap, len(m))
	for i, c := range m {
		out[i] = Category{Name: c.Name, Ingredients: append([]string(nil), c.Ingredients...)}
	}
	return out
}

// add appends items to the named category, creating it at the end if absent.
func (m *CategoryMap) add(name string, items ...string) {
	for i := range *m {
		if (*m)[i].Name == name {
			(*m)[i].Ingredients = append((*m)[i].Ingredients, items...)
			return
		}
	}
	*m = append(*m, Category{Name: name, Ingredients: append([]string{}, items...)})
}

func (m CategoryMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(c.Name)
		if err != nil {
			return nil, err
		}
		items := c.Ingredients
		if items == nil {
			items = []string{}
		}
		val, err := marshalNoEscape(items)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *CategoryMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("category map: expected object, got %v", tok)
	}

	out := CategoryMap{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("category map: unexpected key %v", tok)
		}
		var items []string
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
		out.add(name, items...)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// encodeIndented renders v as two-space indented JSON with non-ASCII and
// HTML characters left as-is.
func encodeIndented(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
