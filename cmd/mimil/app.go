package main

import (
	"fmt"
	"path/filepath"

	"github.com/kalambet/mimil/internal/config"
	"github.com/kalambet/mimil/internal/gemini"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/planner"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

// app wires the packages together for one command invocation.
type app struct {
	cfg         config.Config
	model       *gemini.Client
	recipes     *recipes.Store
	importer    *recipes.Importer
	files       *inventory.Files
	categorizer *inventory.Categorizer
	history     *storage.Store
	planner     *planner.Service
}

func newApp(cfg config.Config) (*app, error) {
	model := gemini.NewClient(cfg.Gemini.APIKey,
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithModel(cfg.Gemini.Model),
		gemini.WithTimeout(cfg.Gemini.Timeout),
		gemini.WithMaxAttempts(cfg.Gemini.MaxAttempts),
	)

	history, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	store := recipes.NewStore(cfg.RecipeFile())
	files := inventory.NewFiles(cfg.Files.Dir)

	return &app{
		cfg:         cfg,
		model:       model,
		recipes:     store,
		importer:    recipes.NewImporter(model, store, recipes.NewURLLog(cfg.URLLogFile())),
		files:       files,
		categorizer: inventory.NewCategorizer(model, filepath.Join(cfg.Files.Dir, inventory.CacheFile)),
		history:     history,
		planner:     planner.NewService(store, files, planner.New(model), cfg.Files.Dir, history, cfg.Gemini.Model),
	}, nil
}

func (a *app) Close() error {
	return a.history.Close()
}

// withApp loads the configuration, builds the app and runs fn with it.
func withApp(fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	return fn(a)
}

// vocabulary loads the recipe table and returns its ingredient vocabulary.
func (a *app) vocabulary() ([]string, error) {
	rs, err := a.recipes.Load()
	if err != nil {
		return nil, err
	}
	return inventory.Vocabulary(rs), nil
}
