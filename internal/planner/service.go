package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

// RecipeSource loads the recipe table.
type RecipeSource interface {
	Load() ([]recipes.Recipe, error)
}

// InventorySource loads the saved available ingredients.
type InventorySource interface {
	LoadFlat() ([]string, error)
}

// PlanArchive stores generated plans.
type PlanArchive interface {
	SavePlan(p storage.PlanRecord) error
}

// Outcome is the result of one planning run.
type Outcome struct {
	ID         string
	CreatedAt  time.Time
	Result     *Result
	Artifacts  Artifacts
	Violations []Violation
}

// Service runs a full planning operation: load inputs, ask the model,
// write the artifacts and archive the plan.
type Service struct {
	recipes   RecipeSource
	inventory InventorySource
	planner   *Planner
	outDir    string
	archive   PlanArchive
	model     string
	logger    *slog.Logger
}

// NewService creates a Service writing artifacts to outDir. archive may be
// nil.
func NewService(rs RecipeSource, inv InventorySource, p *Planner, outDir string, archive PlanArchive, model string) *Service {
	return &Service{
		recipes:   rs,
		inventory: inv,
		planner:   p,
		outDir:    outDir,
		archive:   archive,
		model:     model,
		logger:    slog.Default(),
	}
}

// Run plans days days. Preconditions are checked before any model call and
// a failed precondition leaves every file untouched.
func (s *Service) Run(ctx context.Context, days int) (*Outcome, error) {
	if days < 1 || days > MaxDays {
		return nil, ErrInvalidDays
	}

	available, err := s.inventory.LoadFlat()
	if errors.Is(err, inventory.ErrNotFound) {
		return nil, ErrNoInventory
	}
	if err != nil {
		return nil, fmt.Errorf("loading inventory: %w", err)
	}

	rs, err := s.recipes.Load()
	if errors.Is(err, recipes.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNoRecipes, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}

	res, err := s.planner.Plan(ctx, rs, available, days)
	if err != nil {
		return nil, err
	}

	arts, err := WriteArtifacts(s.outDir, res)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Result:     res,
		Artifacts:  arts,
		Violations: res.Violations(rs),
	}
	s.save(out)
	return out, nil
}

func (s *Service) save(out *Outcome) {
	if s.archive == nil {
		return
	}
	rec, err := NewPlanRecord(out, s.model)
	if err == nil {
		err = s.archive.SavePlan(rec)
	}
	if err != nil {
		s.logger.Warn("failed to archive plan", "id", out.ID, "error", err)
		return
	}
	s.logger.Info("plan archived", "id", out.ID)
}

// NewPlanRecord converts an outcome into its stored form.
func NewPlanRecord(out *Outcome, model string) (storage.PlanRecord, error) {
	planJSON, err := json.Marshal(out.Result.Plan)
	if err != nil {
		return storage.PlanRecord{}, err
	}
	shoppingJSON, err := json.Marshal(out.Result.Shopping)
	if err != nil {
		return storage.PlanRecord{}, err
	}
	return storage.PlanRecord{
		ID:           out.ID,
		CreatedAt:    out.CreatedAt,
		Days:         out.Result.Days,
		Model:        model,
		PlanJSON:     string(planJSON),
		ShoppingJSON: string(shoppingJSON),
		Markdown:     out.Artifacts.PlanMarkdown,
		ShoppingText: out.Artifacts.ShoppingList,
		Remarks:      out.Result.Remarks,
	}, nil
}

// ResultFromRecord rebuilds a Result from a stored plan.
func ResultFromRecord(rec storage.PlanRecord) (*Result, error) {
	res := &Result{Days: rec.Days, Remarks: rec.Remarks}
	if err := json.Unmarshal([]byte(rec.PlanJSON), &res.Plan); err != nil {
		return nil, fmt.Errorf("decoding stored plan: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.ShoppingJSON), &res.Shopping); err != nil {
		return nil, fmt.Errorf("decoding stored shopping list: %w", err)
	}
	return res, nil
}
