package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/recipes"
)

// RecipeRequest is the body of POST /recipes. The meat flag accepts
// Oui/Non/Yes/No.
type RecipeRequest struct {
	Title              string `json:"title"`
	KeyIngredients     string `json:"key_ingredients"`
	PrepMinutes        int    `json:"prep_minutes"`
	CookMinutes        int    `json:"cook_minutes"`
	ContainsMeatOrFish string `json:"contains_meat_or_fish"`
	SourceURL          string `json:"source_url"`
}

func (req RecipeRequest) recipe() (recipes.Recipe, error) {
	meat, err := recipes.ParseMeatFlag(req.ContainsMeatOrFish)
	if err != nil {
		return recipes.Recipe{}, err
	}
	r := recipes.Recipe{
		Title:              strings.TrimSpace(req.Title),
		KeyIngredients:     strings.TrimSpace(req.KeyIngredients),
		PrepMinutes:        req.PrepMinutes,
		CookMinutes:        req.CookMinutes,
		ContainsMeatOrFish: meat,
		SourceURL:          strings.TrimSpace(req.SourceURL),
	}
	return r, r.Validate()
}

func handleListRecipes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := deps.Recipes.Load()
		if errors.Is(err, recipes.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "recipe file %s not found", deps.Recipes.Path())
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
	}
}

func handleAddRecipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecipeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rec, err := req.recipe()
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Recipes.Append(rec); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save recipe: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleImportRecipe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		rec, err := deps.Importer.Import(r.Context(), req.URL)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleListIngredients(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vocab, err := loadVocabulary(deps.Recipes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ingredients": vocab})
	}
}

func handleIngredientCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vocab, err := loadVocabulary(deps.Recipes)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		categorize := deps.Categorizer.Categorize
		if r.URL.Query().Get("refresh") == "true" {
			categorize = deps.Categorizer.Refresh
		}
		cats, err := categorize(r.Context(), vocab)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cats)
	}
}

func loadVocabulary(store *recipes.Store) ([]string, error) {
	rs, err := store.Load()
	if err != nil {
		return nil, err
	}
	return inventory.Vocabulary(rs), nil
}
