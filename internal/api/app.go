package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mimil/internal/gemini"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/planner"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

const maxBodySize = 1 << 20 // 1MB

// RecipeImporter extracts a recipe from a URL and stores it.
type RecipeImporter interface {
	Import(ctx context.Context, rawURL string) (recipes.Recipe, error)
}

// IngredientCategorizer groups the recipe vocabulary into categories.
type IngredientCategorizer interface {
	Categorize(ctx context.Context, vocab []string) (inventory.CategoryMap, error)
	Refresh(ctx context.Context, vocab []string) (inventory.CategoryMap, error)
}

// PlanRunner runs one planning operation end to end.
type PlanRunner interface {
	Run(ctx context.Context, days int) (*planner.Outcome, error)
}

// PlanHistory reads and prunes archived plans.
type PlanHistory interface {
	GetPlan(id string) (storage.PlanRecord, error)
	LatestPlan() (storage.PlanRecord, error)
	ListPlans(limit, offset int) ([]storage.PlanRecord, error)
	DeletePlan(id string) error
}

type AppDeps struct {
	Recipes     *recipes.Store
	Importer    RecipeImporter
	Categorizer IngredientCategorizer
	Inventory   *inventory.Files
	Sessions    *inventory.SessionManager
	Planner     PlanRunner
	History     PlanHistory // optional; plan history routes answer 404 when nil
	DefaultDays int
	Token       string // empty disables authentication
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.DefaultDays == 0 {
		deps.DefaultDays = planner.MaxDays
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/recipes", handleListRecipes(deps))
		r.Post("/recipes", handleAddRecipe(deps))
		r.Post("/recipes/import", handleImportRecipe(deps))

		r.Get("/ingredients", handleListIngredients(deps))
		r.Get("/ingredients/categories", handleIngredientCategories(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}/selection", handleGetSelection(deps))
		r.Put("/sessions/{id}/selection", handleUpdateSelection(deps))
		r.Post("/sessions/{id}/save", handleSaveSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))

		r.Get("/inventory", handleGetInventory(deps))

		r.Post("/plans", handleCreatePlan(deps))
		r.Get("/plans", handleListPlans(deps))
		r.Get("/plans/{id}", handleGetPlan(deps))
		r.Delete("/plans/{id}", handleDeletePlan(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON encodes v without HTML escaping so ingredient names such as
// "Sel & Poivre" survive untouched.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
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

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeServiceError maps domain errors onto HTTP statuses. Malformed model
// output carries the raw text so the caller can inspect it.
func writeServiceError(w http.ResponseWriter, err error) {
	var malformed *gemini.MalformedOutputError
	if errors.As(err, &malformed) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"message": err.Error(),
				"type":    "malformed_output_error",
				"raw":     malformed.Raw,
			},
		})
		return
	}

	code, errType := classify(err)
	httpError(w, code, errType, "%v", err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, gemini.ErrNoCredential):
		return http.StatusServiceUnavailable, "configuration_error"
	case errors.Is(err, gemini.ErrUnavailable), errors.Is(err, gemini.ErrEmptyResponse):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, planner.ErrNoInventory),
		errors.Is(err, planner.ErrNoRecipes),
		errors.Is(err, recipes.ErrNotFound),
		errors.Is(err, inventory.ErrEmptyVocabulary):
		return http.StatusConflict, "precondition_error"
	case errors.Is(err, planner.ErrInvalidDays),
		errors.Is(err, inventory.ErrEmptySelection),
		errors.Is(err, recipes.ErrTitleRequired),
		errors.Is(err, recipes.ErrIngredientsRequired):
		return http.StatusUnprocessableEntity, "invalid_request_error"
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
