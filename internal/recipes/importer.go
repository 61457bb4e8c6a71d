package recipes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/mimil/internal/gemini"
)

// Generator is the structured-output call the importer needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req gemini.Request, v any) (string, error)
}

const importSystemPrompt = "You are an expert web scraper for culinary data. Extract the required fields from the provided recipe URL. " +
	"The output MUST be a JSON object conforming exactly to the schema. " +
	"Ensure 'Préparation (min)' and 'Cuisson (min)' are integers representing minutes. " +
	"'Contient viande/poisson ?' MUST be either 'Oui' or 'Non' in French. " +
	"The 'Ingrédients Clés' should be a comma-separated list of the main, most generic ingredients."

// extracted mirrors importSchema. Minutes are NUMBER on the wire because
// the model sometimes answers 12.0.
type extracted struct {
	Title       string  `json:"Titre"`
	Ingredients string  `json:"Ingrédients Clés"`
	Prep        float64 `json:"Préparation (min)"`
	Cook        float64 `json:"Cuisson (min)"`
	Meat        string  `json:"Contient viande/poisson ?"`
	URL         string  `json:"URL"`
}

func importSchema() *gemini.Schema {
	return gemini.Object(map[string]*gemini.Schema{
		ColTitle:       gemini.String(""),
		ColIngredients: gemini.String("Comma-separated list of key ingredients."),
		ColPrep:        gemini.Number(""),
		ColCook:        gemini.Number(""),
		ColMeat:        gemini.Enum(string(MeatYes), string(MeatNo)),
		ColURL:         gemini.String(""),
	}, Header...)
}

// Importer extracts a recipe from a URL with the LLM and appends it to the
// store.
type Importer struct {
	gen    Generator
	store  *Store
	urls   *URLLog
	logger *slog.Logger
}

// NewImporter creates an Importer. urls may be nil.
func NewImporter(gen Generator, store *Store, urls *URLLog) *Importer {
	return &Importer{gen: gen, store: store, urls: urls, logger: slog.Default()}
}

// Extract asks the model for the recipe at rawURL without persisting it.
func (im *Importer) Extract(ctx context.Context, rawURL string) (Recipe, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Recipe{}, fmt.Errorf("recipe URL is required")
	}

	var out extracted
	raw, err := im.gen.GenerateJSON(ctx, gemini.Request{
		System: importSystemPrompt,
		Prompt: "Extract recipe data from this URL: " + rawURL,
		Schema: importSchema(),
	}, &out)
	if err != nil {
		return Recipe{}, err
	}

	meat, err := ParseMeatFlag(out.Meat)
	if err != nil {
		return Recipe{}, &gemini.MalformedOutputError{Raw: raw, Err: fmt.Errorf("extracted recipe: %w", err)}
	}

	r := Recipe{
		Title:              strings.TrimSpace(out.Title),
		KeyIngredients:     strings.TrimSpace(out.Ingredients),
		PrepMinutes:        max(int(out.Prep), 0),
		CookMinutes:        max(int(out.Cook), 0),
		ContainsMeatOrFish: meat,
		SourceURL:          rawURL,
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, &gemini.MalformedOutputError{Raw: raw, Err: fmt.Errorf("extracted recipe: %w", err)}
	}
	return r, nil
}

// Import extracts the recipe at rawURL, appends it to the store and records
// the URL.
func (im *Importer) Import(ctx context.Context, rawURL string) (Recipe, error) {
	r, err := im.Extract(ctx, rawURL)
	if err != nil {
		return Recipe{}, err
	}
	if err := im.store.Append(r); err != nil {
		return Recipe{}, fmt.Errorf("appending recipe: %w", err)
	}
	if im.urls != nil {
		if err := im.urls.Add(r.SourceURL); err != nil {
			im.logger.Warn("failed to record recipe URL", "url", r.SourceURL, "error", err)
		}
	}
	im.logger.Info("recipe imported", "title", r.Title, "url", r.SourceURL)
	return r, nil
}
