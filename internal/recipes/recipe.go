package recipes

import (
	"errors"
	"fmt"
	"strings"
)

// MeatFlag records whether a recipe contains meat or fish. The stored
// values are the French answers used by the recipe file.
type MeatFlag string

const (
	MeatYes MeatFlag = "Oui"
	MeatNo  MeatFlag = "Non"
)

// ParseMeatFlag accepts Oui/Non/Yes/No in any case.
func ParseMeatFlag(s string) (MeatFlag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oui", "yes":
		return MeatYes, nil
	case "non", "no":
		return MeatNo, nil
	}
	return "", fmt.Errorf("invalid meat/fish flag %q: want Oui or Non", s)
}

// Recipe is one row of the recipe table. Identity is positional; duplicate
// titles and URLs are allowed.
type Recipe struct {
	Title              string   `json:"title"`
	KeyIngredients     string   `json:"key_ingredients"`
	PrepMinutes        int      `json:"prep_minutes"`
	CookMinutes        int      `json:"cook_minutes"`
	ContainsMeatOrFish MeatFlag `json:"contains_meat_or_fish"`
	SourceURL          string   `json:"source_url,omitempty"`
}

// Vegetarian reports whether the recipe is suitable for a dinner slot.
func (r Recipe) Vegetarian() bool {
	return r.ContainsMeatOrFish == MeatNo
}

var (
	ErrTitleRequired       = errors.New("title is required")
	ErrIngredientsRequired = errors.New("key ingredients are required")
)

// Validate applies the manual-entry rules.
func (r Recipe) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleRequired
	}
	if strings.TrimSpace(r.KeyIngredients) == "" {
		return ErrIngredientsRequired
	}
	if r.PrepMinutes < 0 || r.CookMinutes < 0 {
		return fmt.Errorf("times must be non-negative (prep %d, cook %d)", r.PrepMinutes, r.CookMinutes)
	}
	if _, err := ParseMeatFlag(string(r.ContainsMeatOrFish)); err != nil {
		return err
	}
	return nil
}
