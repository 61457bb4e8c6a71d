// Package planner asks the LLM for a weekly meal plan and shopping list
// built from the recipe table and the ingredients already on hand, and
// renders the result.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kalambet/mimil/internal/gemini"
	"github.com/kalambet/mimil/internal/recipes"
)

// MaxDays is the longest plan that can be requested.
const MaxDays = 7

var (
	ErrNoInventory = errors.New("no available ingredients: save the inventory first")
	ErrNoRecipes   = errors.New("recipe table is empty")
	ErrInvalidDays = fmt.Errorf("number of days must be between 1 and %d", MaxDays)
)

// Generator is the structured-output call the planner needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req gemini.Request, v any) (string, error)
}

const temperature = 0.7

// Planner builds meal plans with the LLM.
type Planner struct {
	gen    Generator
	logger *slog.Logger
}

// New creates a Planner.
func New(gen Generator) *Planner {
	return &Planner{gen: gen, logger: slog.Default()}
}

// Plan requests a plan of days days. The dinner rule is only instructed to
// the model; the returned Result is not checked against it (see
// Result.Violations). A response that is not valid JSON is returned as a
// *gemini.MalformedOutputError carrying the raw text.
func (p *Planner) Plan(ctx context.Context, rs []recipes.Recipe, available []string, days int) (*Result, error) {
	if days < 1 || days > MaxDays {
		return nil, ErrInvalidDays
	}
	avail := NormalizeAvailable(available)
	if len(avail) == 0 {
		return nil, ErrNoInventory
	}
	if len(rs) == 0 {
		return nil, ErrNoRecipes
	}

	prompt, err := buildPrompt(rs, avail)
	if err != nil {
		return nil, err
	}

	p.logger.Info("requesting meal plan", "days", days, "recipes", len(rs), "available", len(avail))

	var res Result
	raw, err := p.gen.GenerateJSON(ctx, gemini.Request{
		System:      systemPrompt(days),
		Prompt:      prompt,
		Schema:      planSchema(),
		Temperature: gemini.Temperature(temperature),
	}, &res)
	if err != nil {
		return nil, err
	}
	res.Days = days
	res.Raw = raw

	for _, v := range res.Violations(rs) {
		p.logger.Warn("plan breaks the dinner rule", "day", v.Day, "title", v.Title)
	}
	return &res, nil
}

// NormalizeAvailable lower-cases, trims and dedupes the available items,
// returning them sorted.
func NormalizeAvailable(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

func systemPrompt(days int) string {
	return "Tu es un assistant expert en planification de repas. " +
		fmt.Sprintf("Tu crées un plan de repas pour %d jours (midi et soir) et une liste de courses. ", days) +
		"Tu te bases sur une liste de recettes fournie en JSON et des contraintes spécifiques. " +
		"Tu réponds TOUJOURS au format JSON en respectant le schéma demandé."
}

// promptRecipe is a recipe row as the model sees it, keyed by the recipe
// file's column names.
type promptRecipe struct {
	Title       string `json:"Titre"`
	Ingredients string `json:"Ingrédients Clés"`
	Prep        int    `json:"Préparation (min)"`
	Cook        int    `json:"Cuisson (min)"`
	Meat        string `json:"Contient viande/poisson ?"`
	URL         string `json:"URL"`
}

func buildPrompt(rs []recipes.Recipe, avail []string) (string, error) {
	rows := make([]promptRecipe, len(rs))
	for i, r := range rs {
		rows[i] = promptRecipe{
			Title:       r.Title,
			Ingredients: r.KeyIngredients,
			Prep:        r.PrepMinutes,
			Cook:        r.CookMinutes,
			Meat:        string(r.ContainsMeatOrFish),
			URL:         r.SourceURL,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return "", fmt.Errorf("encoding recipes: %w", err)
	}

	caser := cases.Title(language.French)
	titled := make([]string, len(avail))
	for i, a := range avail {
		titled[i] = caser.String(a)
	}

	var b strings.Builder
	b.WriteString("Voici la liste complète des recettes disponibles au format JSON :\n")
	b.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	b.WriteString("\n\nVeuillez maintenant générer un plan de repas en respectant IMPÉRATIVEMENT les contraintes suivantes :\n")
	fmt.Fprintf(&b, "1. **Ingrédients disponibles :** J'ai déjà %s. Vous devez prioriser les recettes qui utilisent ces ingrédients.\n", strings.Join(titled, ", "))
	b.WriteString("2. **Règle du soir :** Les repas du soir (Lundi Soir, Mardi Soir, etc.) ne doivent **jamais** contenir de viande ou de poisson. Utilisez uniquement les recettes où \"Contient viande/poisson ?\" est \"Non\".\n")
	b.WriteString("3. **Règle du midi :** Les repas du midi peuvent contenir de la viande ou du poisson (\"Oui\" ou \"Non\").\n")
	b.WriteString("4. **Variété :** Essayez de ne pas répéter les mêmes plats.\n")
	b.WriteString("5. **Liste de courses :** Générez une liste de courses catégorisée pour tous les ingrédients nécessaires pour ce plan, *sauf* ceux que j'ai déjà (listés au point 1).\n")
	b.WriteString("\nGénérez le plan complet et la liste de courses.")
	return b.String(), nil
}

func planSchema() *gemini.Schema {
	meal := func() *gemini.Schema {
		return gemini.Object(map[string]*gemini.Schema{
			"titre": gemini.String(""),
			"url":   gemini.String(""),
		}, "titre", "url")
	}
	list := func() *gemini.Schema { return gemini.ArrayOf(gemini.String("")) }

	day := gemini.Object(map[string]*gemini.Schema{
		"jour": gemini.String(""),
		"midi": meal(),
		"soir": meal(),
	}, "jour", "midi", "soir")

	shopping := gemini.Object(map[string]*gemini.Schema{
		KeyMeatFish:     list(),
		KeyDairyFresh:   list(),
		KeyVegStarch:    list(),
		KeyDryGroceries: list(),
	}, ShoppingKeys...)

	return gemini.Object(map[string]*gemini.Schema{
		"plan_repas":    gemini.ArrayOf(day),
		"liste_courses": shopping,
	}, "plan_repas", "liste_courses")
}
