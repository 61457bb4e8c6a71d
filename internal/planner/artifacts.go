package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names under the data directory.
const (
	PlanMarkdownFile     = "weekly_meal_plan.md"
	ShoppingMarkdownFile = "weekly_shopping_list.md"
	ShoppingTextFile     = "weekly_shopping_list.txt"
	PlanJSONFile         = "weekly_recipes.json"
	ShoppingJSONFile     = "shopping_list.json"
)

// Artifacts is the set of rendered files for one plan.
type Artifacts struct {
	PlanMarkdown string
	ShoppingList string
	Paths        []string
}

// Render builds the rendered forms of r without writing them.
func Render(r *Result) Artifacts {
	return Artifacts{
		PlanMarkdown: RenderPlanMarkdown(r),
		ShoppingList: RenderShoppingList(r.Shopping),
	}
}

// WriteArtifacts renders r and rewrites every artifact file in dir.
func WriteArtifacts(dir string, r *Result) (Artifacts, error) {
	a := Render(r)

	planJSON, err := indentJSON(r.Plan)
	if err != nil {
		return a, fmt.Errorf("encoding plan: %w", err)
	}
	shoppingJSON, err := indentJSON(r.Shopping)
	if err != nil {
		return a, fmt.Errorf("encoding shopping list: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return a, fmt.Errorf("creating output directory: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{PlanMarkdownFile, []byte(a.PlanMarkdown)},
		{ShoppingMarkdownFile, []byte(a.ShoppingList)},
		{ShoppingTextFile, []byte(a.ShoppingList)},
		{PlanJSONFile, planJSON},
		{ShoppingJSONFile, shoppingJSON},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return a, fmt.Errorf("writing %s: %w", f.name, err)
		}
		a.Paths = append(a.Paths, path)
	}
	return a, nil
}

func indentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
