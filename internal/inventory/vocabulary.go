// Package inventory builds the ingredient vocabulary from the recipe table,
// groups it into categories with the LLM and persists the user's selection
// of ingredients already on hand.
package inventory

import (
	"sort"
	"strings"

	"github.com/kalambet/mimil/internal/recipes"
)

// Vocabulary returns every distinct key ingredient across rs, sorted.
func Vocabulary(rs []recipes.Recipe) []string {
	seen := make(map[string]struct{})
	for _, r := range rs {
		for _, ing := range SplitIngredients(r.KeyIngredients) {
			seen[ing] = struct{}{}
		}
	}

	vocab := make([]string, 0, len(seen))
	for ing := range seen {
		vocab = append(vocab, ing)
	}
	sort.Strings(vocab)
	return vocab
}

// SplitIngredients splits a comma-joined ingredient field, collapsing inner
// whitespace and dropping empty entries.
func SplitIngredients(field string) []string {
	var out []string
	for _, part := range strings.Split(field, ",") {
		ing := strings.Join(strings.Fields(part), " ")
		if ing != "" {
			out = append(out, ing)
		}
	}
	return out
}
