package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mimil/internal/gemini"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Recipes     *recipes.Store
	Importer    RecipeImporter
	Categorizer IngredientCategorizer
	Inventory   *inventory.Files
	Planner     PlanRunner
	History     PlanHistory // optional; mimil://plans/latest fails when nil
	DefaultDays int
}

// NewMCPServer creates an MCP server with all mimil tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	if deps.DefaultDays == 0 {
		deps.DefaultDays = 7
	}

	s := server.NewMCPServer(
		"mimil",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mimil: weekly meal planner over a personal recipe table. Save the available ingredients before planning."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_recipes",
			mcp.WithDescription("List every recipe of the recipe table."),
		),
		mcpListRecipes(deps),
	)

	s.AddTool(
		mcp.NewTool("add_recipe",
			mcp.WithDescription("Append a recipe to the recipe table."),
			mcp.WithString("title", mcp.Description("Recipe title"), mcp.Required()),
			mcp.WithString("key_ingredients", mcp.Description("Comma-separated key ingredients"), mcp.Required()),
			mcp.WithNumber("prep_minutes", mcp.Description("Preparation time in minutes")),
			mcp.WithNumber("cook_minutes", mcp.Description("Cooking time in minutes")),
			mcp.WithString("contains_meat_or_fish", mcp.Description("Oui or Non"), mcp.Required()),
			mcp.WithString("source_url", mcp.Description("Optional source URL")),
		),
		mcpAddRecipe(deps),
	)

	s.AddTool(
		mcp.NewTool("import_recipe",
			mcp.WithDescription("Extract a recipe from a web page with the AI model and append it to the recipe table."),
			mcp.WithString("url", mcp.Description("Recipe page URL"), mcp.Required()),
		),
		mcpImportRecipe(deps),
	)

	s.AddTool(
		mcp.NewTool("list_ingredients",
			mcp.WithDescription("List the ingredient vocabulary of the recipe table, optionally grouped by category."),
			mcp.WithBoolean("categorized", mcp.Description("Group ingredients by category (default false)")),
		),
		mcpListIngredients(deps),
	)

	s.AddTool(
		mcp.NewTool("set_inventory",
			mcp.WithDescription("Save the ingredients currently available at home."),
			mcp.WithArray("ingredients", mcp.Description("Available ingredient names, as listed by list_ingredients"), mcp.Required()),
		),
		mcpSetInventory(deps),
	)

	s.AddTool(
		mcp.NewTool("plan_meals",
			mcp.WithDescription("Generate a meal plan and shopping list from the recipe table and the saved inventory."),
			mcp.WithNumber("days", mcp.Description("Number of days to plan, 1 to 7 (default from config)")),
		),
		mcpPlanMeals(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"mimil://inventory",
			"Available Ingredients",
			mcp.WithResourceDescription("Saved available ingredients grouped by category"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceInventory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"mimil://plans/latest",
			"Latest Meal Plan",
			mcp.WithResourceDescription("Most recently generated meal plan and shopping list"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLatestPlan(deps),
	)

	return s
}

func mcpListRecipes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rs, err := deps.Recipes.Load()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load recipes: %v", err)), nil
		}
		return mcpJSON(rs)
	}
}

func mcpAddRecipe(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		ingredients, err := req.RequireString("key_ingredients")
		if err != nil {
			return mcpError("key_ingredients is required"), nil
		}
		meat, err := req.RequireString("contains_meat_or_fish")
		if err != nil {
			return mcpError("contains_meat_or_fish is required"), nil
		}

		rec, err := RecipeRequest{
			Title:              title,
			KeyIngredients:     ingredients,
			PrepMinutes:        req.GetInt("prep_minutes", 0),
			CookMinutes:        req.GetInt("cook_minutes", 0),
			ContainsMeatOrFish: meat,
			SourceURL:          req.GetString("source_url", ""),
		}.recipe()
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Recipes.Append(rec); err != nil {
			return mcpError(fmt.Sprintf("failed to save recipe: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recipe %q added.", rec.Title)), nil
	}
}

func mcpImportRecipe(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		u, err := req.RequireString("url")
		if err != nil || strings.TrimSpace(u) == "" {
			return mcpError("url is required"), nil
		}
		rec, err := deps.Importer.Import(ctx, u)
		if err != nil {
			return mcpServiceError("import failed", err), nil
		}
		return mcpJSON(rec)
	}
}

func mcpListIngredients(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		vocab, err := loadVocabulary(deps.Recipes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load recipes: %v", err)), nil
		}
		if !req.GetBool("categorized", false) {
			return mcpJSON(vocab)
		}
		cats, err := deps.Categorizer.Categorize(ctx, vocab)
		if err != nil {
			return mcpServiceError("categorization failed", err), nil
		}
		return mcpJSON(cats)
	}
}

func mcpSetInventory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items := req.GetStringSlice("ingredients", nil)
		if len(items) == 0 {
			return mcpError("ingredients is required"), nil
		}

		vocab, err := loadVocabulary(deps.Recipes)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load recipes: %v", err)), nil
		}
		cats, err := deps.Categorizer.Categorize(ctx, vocab)
		if err != nil {
			return mcpServiceError("categorization failed", err), nil
		}

		sess := inventory.NewSession()
		sess.Set(items)
		saved, err := sess.Save(deps.Inventory, cats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save inventory: %v", err)), nil
		}
		return mcpJSON(inventoryResponse{Ingredients: sess.Selected(), Categories: saved})
	}
}

func mcpPlanMeals(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := req.GetInt("days", deps.DefaultDays)
		out, err := deps.Planner.Run(ctx, days)
		if err != nil {
			return mcpServiceError("planning failed", err), nil
		}

		var b strings.Builder
		b.WriteString(out.Artifacts.PlanMarkdown)
		b.WriteString("\n\n")
		b.WriteString(out.Artifacts.ShoppingList)
		for _, v := range out.Violations {
			fmt.Fprintf(&b, "\n\nWarning: dinner on %s (%s) contains meat or fish.", v.Day, v.Title)
		}
		return mcpText(b.String()), nil
	}
}

func mcpResourceInventory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cats, err := deps.Inventory.LoadCategorized()
		if err != nil {
			return nil, fmt.Errorf("failed to load inventory: %w", err)
		}
		b, err := cats.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inventory: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceLatestPlan(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.History == nil {
			return nil, fmt.Errorf("plan history is not configured")
		}
		rec, err := deps.History.LatestPlan()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("no plan generated yet")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get latest plan: %w", err)
		}
		view, err := viewFromRecord(rec)
		if err != nil {
			return nil, err
		}
		b, err := marshalNoEscape(view)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal plan: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := marshalNoEscape(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

// mcpServiceError reports model failures with the raw output when the
// model answered with something unparseable.
func mcpServiceError(prefix string, err error) *mcp.CallToolResult {
	var malformed *gemini.MalformedOutputError
	if errors.As(err, &malformed) {
		return mcpError(fmt.Sprintf("%s: %v\nraw output:\n%s", prefix, err, malformed.Raw))
	}
	return mcpError(fmt.Sprintf("%s: %v", prefix, err))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
