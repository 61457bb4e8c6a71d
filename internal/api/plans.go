package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mimil/internal/planner"
	"github.com/kalambet/mimil/internal/storage"
)

// PlanView is the JSON form of a generated or archived plan.
type PlanView struct {
	ID           string               `json:"id"`
	CreatedAt    time.Time            `json:"created_at"`
	Days         int                  `json:"days"`
	Model        string               `json:"model,omitempty"`
	Plan         []planner.DayPlan    `json:"plan"`
	Shopping     planner.ShoppingList `json:"shopping_list"`
	Remarks      string               `json:"remarks,omitempty"`
	Markdown     string               `json:"markdown"`
	ShoppingText string               `json:"shopping_text"`
	Violations   []violationView      `json:"violations,omitempty"`
}

type violationView struct {
	Day   string `json:"day"`
	Title string `json:"title"`
}

// PlanSummary is one entry of GET /plans.
type PlanSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Days      int       `json:"days"`
	Model     string    `json:"model,omitempty"`
}

func viewFromOutcome(out *planner.Outcome) PlanView {
	v := PlanView{
		ID:           out.ID,
		CreatedAt:    out.CreatedAt,
		Days:         out.Result.Days,
		Plan:         out.Result.Plan,
		Shopping:     out.Result.Shopping,
		Remarks:      out.Result.Remarks,
		Markdown:     out.Artifacts.PlanMarkdown,
		ShoppingText: out.Artifacts.ShoppingList,
	}
	for _, vi := range out.Violations {
		v.Violations = append(v.Violations, violationView{Day: vi.Day, Title: vi.Title})
	}
	return v
}

func viewFromRecord(rec storage.PlanRecord) (PlanView, error) {
	res, err := planner.ResultFromRecord(rec)
	if err != nil {
		return PlanView{}, err
	}
	return PlanView{
		ID:           rec.ID,
		CreatedAt:    rec.CreatedAt,
		Days:         rec.Days,
		Model:        rec.Model,
		Plan:         res.Plan,
		Shopping:     res.Shopping,
		Remarks:      res.Remarks,
		Markdown:     rec.Markdown,
		ShoppingText: rec.ShoppingText,
	}, nil
}

func handleCreatePlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Days int `json:"days"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		// An empty body plans the default number of days.
		if err := decodeOptional(r.Body, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Days == 0 {
			req.Days = deps.DefaultDays
		}

		out, err := deps.Planner.Run(r.Context(), req.Days)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewFromOutcome(out))
	}
}

func handleListPlans(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeJSON(w, http.StatusOK, []PlanSummary{})
			return
		}
		limit := parseIntParam(r, "limit", storage.DefaultListLimit, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.History.ListPlans(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list plans: %v", err)
			return
		}

		out := make([]PlanSummary, len(recs))
		for i, rec := range recs {
			out[i] = PlanSummary{ID: rec.ID, CreatedAt: rec.CreatedAt, Days: rec.Days, Model: rec.Model}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "plan %s not found", id)
			return
		}

		var (
			rec storage.PlanRecord
			err error
		)
		if id == "latest" {
			rec, err = deps.History.LatestPlan()
		} else {
			rec, err = deps.History.GetPlan(id)
		}
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "plan %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get plan: %v", err)
			return
		}

		view, err := viewFromRecord(rec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleDeletePlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "plan %s not found", id)
			return
		}

		err := deps.History.DeletePlan(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "plan %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete plan: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func decodeOptional(body io.Reader, v any) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
