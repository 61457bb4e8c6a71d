package planner

import (
	"strings"

	"github.com/kalambet/mimil/internal/recipes"
)

// Shopping list category keys, in display order.
const (
	KeyMeatFish     = "viande_poisson"
	KeyDairyFresh   = "laitiers_frais"
	KeyVegStarch    = "legumes_feculents"
	KeyDryGroceries = "epicerie"
)

var ShoppingKeys = []string{KeyMeatFish, KeyDairyFresh, KeyVegStarch, KeyDryGroceries}

// ShoppingLabels maps shopping list keys to their French display labels.
var ShoppingLabels = map[string]string{
	KeyMeatFish:     "🥩 Viande & Poisson",
	KeyDairyFresh:   "🧀 Produits Laitiers & Frais",
	KeyVegStarch:    "🥦 Légumes & Féculents",
	KeyDryGroceries: "🥫 Épicerie Sèche",
}

// Meal is one planned dish.
type Meal struct {
	Title string `json:"titre"`
	URL   string `json:"url"`
}

// DayPlan is the lunch and dinner of one day.
type DayPlan struct {
	Day    string `json:"jour"`
	Lunch  Meal   `json:"midi"`
	Dinner Meal   `json:"soir"`
}

// ShoppingList groups the ingredients to buy.
type ShoppingList struct {
	MeatFish     []string `json:"viande_poisson"`
	DairyFresh   []string `json:"laitiers_frais"`
	VegStarch    []string `json:"legumes_feculents"`
	DryGroceries []string `json:"epicerie"`
}

// Items returns the list for a category key.
func (s ShoppingList) Items(key string) []string {
	switch key {
	case KeyMeatFish:
		return s.MeatFish
	case KeyDairyFresh:
		return s.DairyFresh
	case KeyVegStarch:
		return s.VegStarch
	case KeyDryGroceries:
		return s.DryGroceries
	}
	return nil
}

// Len returns the total number of items.
func (s ShoppingList) Len() int {
	return len(s.MeatFish) + len(s.DairyFresh) + len(s.VegStarch) + len(s.DryGroceries)
}

// Result is a generated plan.
type Result struct {
	Plan     []DayPlan    `json:"plan_repas"`
	Shopping ShoppingList `json:"liste_courses"`
	// Remarks is free text the model sometimes adds outside the schema.
	Remarks string `json:"Remarques,omitempty"`

	Days int    `json:"-"`
	Raw  string `json:"-"`
}

// Violation is a dinner slot holding a recipe flagged as containing meat or
// fish.
type Violation struct {
	Day   string
	Title string
}

// Violations reports dinners whose title matches a recipe flagged Oui. Titles
// unknown to rs are not reported.
func (r *Result) Violations(rs []recipes.Recipe) []Violation {
	meat := make(map[string]bool, len(rs))
	for _, rec := range rs {
		key := strings.ToLower(strings.TrimSpace(rec.Title))
		if rec.ContainsMeatOrFish == recipes.MeatYes {
			meat[key] = true
		}
	}

	var out []Violation
	for _, d := range r.Plan {
		if meat[strings.ToLower(strings.TrimSpace(d.Dinner.Title))] {
			out = append(out, Violation{Day: d.Day, Title: d.Dinner.Title})
		}
	}
	return out
}
