package planner

import (
	"fmt"
	"strings"
)

const (
	planHeading     = "## Plan de Repas Généré par Gemini Cuisinier"
	noRemarks       = "Aucune remarque fournie."
	shoppingHeading = "SHOPPING LIST"
)

// RenderPlanMarkdown renders the plan as a markdown day-by-meal table with
// links to the recipes.
func RenderPlanMarkdown(r *Result) string {
	var b strings.Builder
	b.WriteString(planHeading + "\n\n")

	remarks := strings.TrimSpace(r.Remarks)
	if remarks == "" {
		remarks = noRemarks
	}
	fmt.Fprintf(&b, "### Remarques de l'IA\n%s\n\n---\n", remarks)

	b.WriteString("| Jour | Déjeuner | Dîner |\n")
	b.WriteString("| :--- | :--- | :--- |\n")
	if len(r.Plan) == 0 {
		b.WriteString("| N/A | Le plan de repas n'a pas été généré correctement. | |\n")
		return b.String()
	}
	for _, d := range r.Plan {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(d.Day), mealLink(d.Lunch), mealLink(d.Dinner))
	}
	return b.String()
}

func mealLink(m Meal) string {
	title := cell(m.Title)
	if title == "" {
		title = "N/A"
	}
	url := strings.TrimSpace(m.URL)
	if url == "" {
		url = "N/A"
	}
	return fmt.Sprintf("[%s](%s)", title, url)
}

// cell keeps a value from breaking the table row.
func cell(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderShoppingList renders the list grouped by category with French
// labels. Empty categories are left out.
func RenderShoppingList(s ShoppingList) string {
	var b strings.Builder
	b.WriteString(shoppingHeading + "\n")
	for _, key := range ShoppingKeys {
		items := s.Items(key)
		if len(items) == 0 {
			continue
		}
		b.WriteString("\n\n" + ShoppingLabels[key] + "\n")
		lines := make([]string, len(items))
		for i, it := range items {
			lines[i] = "- " + it
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}
