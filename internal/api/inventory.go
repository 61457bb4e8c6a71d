package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mimil/internal/inventory"
)

type selectionResponse struct {
	ID       string   `json:"id"`
	Selected []string `json:"selected"`
}

// SelectionUpdate is the body of PUT /sessions/{id}/selection. Toggle flips
// one item; otherwise Selected replaces the whole selection.
type SelectionUpdate struct {
	Selected []string `json:"selected"`
	Toggle   string   `json:"toggle"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		if err := s.Load(deps.Inventory); err != nil {
			deps.Sessions.Delete(s.ID)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load saved inventory: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, selectionResponse{ID: s.ID, Selected: s.Selected()})
	}
}

func sessionFromPath(deps AppDeps, w http.ResponseWriter, r *http.Request) (*inventory.Session, bool) {
	id := chi.URLParam(r, "id")
	s, ok := deps.Sessions.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
		return nil, false
	}
	return s, true
}

func handleGetSelection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromPath(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, selectionResponse{ID: s.ID, Selected: s.Selected()})
	}
}

func handleUpdateSelection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromPath(deps, w, r)
		if !ok {
			return
		}
		var req SelectionUpdate
		if !decodeBody(w, r, &req) {
			return
		}

		if req.Toggle != "" {
			s.Toggle(req.Toggle)
		} else {
			s.Set(req.Selected)
		}
		writeJSON(w, http.StatusOK, selectionResponse{ID: s.ID, Selected: s.Selected()})
	}
}

func handleSaveSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessionFromPath(deps, w, r)
		if !ok {
			return
		}
		if len(s.Selected()) == 0 {
			writeServiceError(w, inventory.ErrEmptySelection)
			return
		}

		vocab, err := loadVocabulary(deps.Recipes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		cats, err := deps.Categorizer.Categorize(r.Context(), vocab)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		saved, err := s.Save(deps.Inventory, cats)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inventoryResponse{Ingredients: s.Selected(), Categories: saved})
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessionFromPath(deps, w, r); !ok {
			return
		}
		deps.Sessions.Delete(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

type inventoryResponse struct {
	Ingredients []string              `json:"ingredients"`
	Categories  inventory.CategoryMap `json:"categories"`
}

func handleGetInventory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flat, err := deps.Inventory.LoadFlat()
		if errors.Is(err, inventory.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no inventory saved yet")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}

		cats, err := deps.Inventory.LoadCategorized()
		if errors.Is(err, inventory.ErrNotFound) {
			cats = inventory.CatchAll(flat)
		} else if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inventoryResponse{Ingredients: flat, Categories: cats})
	}
}
