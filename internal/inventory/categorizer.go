package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/mimil/internal/gemini"
)

// ErrEmptyVocabulary is returned when there is nothing to categorize.
var ErrEmptyVocabulary = errors.New("ingredient vocabulary is empty")

// Generator is the LLM surface the categorizer depends on.
type Generator interface {
	HasCredential() bool
	GenerateJSON(ctx context.Context, req gemini.Request, v any) (string, error)
}

const categorizeSystemPrompt = "You are an expert culinary assistant. Your task is to categorize a list of raw ingredients " +
	"into logical groups. Return the output as a single JSON object conforming to the provided schema. " +
	"The category names should be in French, and every ingredient provided in the input must be present in exactly one category in the output."

type categorizeResponse struct {
	Categories []struct {
		Name        string   `json:"category_name"`
		Ingredients []string `json:"ingredients"`
	} `json:"Catégories"`
}

func categorizeSchema() *gemini.Schema {
	group := gemini.Object(map[string]*gemini.Schema{
		"category_name": gemini.String("The name of the category (e.g., 'Légumes')."),
		"ingredients":   gemini.ArrayOf(gemini.String("")),
	}, "category_name", "ingredients")

	s := gemini.Object(map[string]*gemini.Schema{
		"Catégories": gemini.ArrayOf(group),
	})
	s.Description = "A mapping of ingredient categories to a list of ingredients."
	return s
}

// categorizeTimeout bounds a shared categorization, which outlives any
// single caller's context.
const categorizeTimeout = 2 * time.Minute

// Categorizer groups the ingredient vocabulary into categories. A successful
// result is cached on disk and the cache is returned as-is on later calls,
// even when the vocabulary has grown since. Use Refresh to rebuild it.
type Categorizer struct {
	gen       Generator
	cachePath string
	group     singleflight.Group
	logger    *slog.Logger
}

// NewCategorizer creates a Categorizer caching its result at cachePath.
// gen may be nil, in which case every uncached call falls back to the
// catch-all category.
func NewCategorizer(gen Generator, cachePath string) *Categorizer {
	return &Categorizer{gen: gen, cachePath: cachePath, logger: slog.Default()}
}

// CachePath returns the cache file location.
func (c *Categorizer) CachePath() string {
	return c.cachePath
}

// Categorize returns the categories for vocab. Model failures degrade to a
// single catch-all category and are not reported as errors. Concurrent
// callers share one in-flight categorization; a caller whose ctx ends
// stops waiting with ctx.Err() while the others keep the shared result.
func (c *Categorizer) Categorize(ctx context.Context, vocab []string) (CategoryMap, error) {
	if len(vocab) == 0 {
		return nil, ErrEmptyVocabulary
	}

	ch := c.group.DoChan(c.cachePath, func() (any, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), categorizeTimeout)
		defer cancel()
		return c.categorize(work, vocab), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("categorization shared with concurrent caller")
		}
		return res.Val.(CategoryMap).Clone(), nil
	}
}

// Refresh drops the cache and categorizes vocab again.
func (c *Categorizer) Refresh(ctx context.Context, vocab []string) (CategoryMap, error) {
	if err := os.Remove(c.cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing category cache: %w", err)
	}
	return c.Categorize(ctx, vocab)
}

func (c *Categorizer) categorize(ctx context.Context, vocab []string) CategoryMap {
	if cached, ok := c.readCache(); ok {
		c.logger.Debug("using cached categories", "path", c.cachePath, "categories", len(cached))
		return cached
	}

	if c.gen == nil || !c.gen.HasCredential() {
		c.logger.Warn("no LLM credential configured, using catch-all category")
		return CatchAll(vocab)
	}

	var resp categorizeResponse
	_, err := c.gen.GenerateJSON(ctx, gemini.Request{
		System: categorizeSystemPrompt,
		Prompt: "Categorize the following ingredients: " + strings.Join(vocab, ", "),
		Schema: categorizeSchema(),
	}, &resp)
	if err != nil {
		c.logger.Warn("categorization failed, using catch-all category", "error", err)
		return CatchAll(vocab)
	}

	result := CategoryMap{}
	for _, g := range resp.Categories {
		result.add(g.Name, g.Ingredients...)
	}
	if len(result) == 0 {
		c.logger.Warn("model returned no categories, using catch-all category")
		return CatchAll(vocab)
	}

	if err := c.writeCache(result); err != nil {
		c.logger.Warn("failed to write category cache", "path", c.cachePath, "error", err)
	}
	c.logger.Info("ingredients categorized", "ingredients", len(vocab), "categories", len(result))
	return result
}

func (c *Categorizer) readCache() (CategoryMap, bool) {
	data, err := os.ReadFile(c.cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("failed to read category cache", "path", c.cachePath, "error", err)
		return nil, false
	}

	var m CategoryMap
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("category cache is corrupt, regenerating", "path", c.cachePath, "error", err)
		return nil, false
	}
	return m, true
}

func (c *Categorizer) writeCache(m CategoryMap) error {
	data, err := encodeIndented(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.cachePath, data, 0o644)
}
