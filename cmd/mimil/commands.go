package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mimil/internal/config"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/planner"
	"github.com/kalambet/mimil/internal/recipes"
	"github.com/kalambet/mimil/internal/storage"
)

// --- recipe ---

var recipeCmd = &cobra.Command{
	Use:   "recipe",
	Short: "Manage the recipe table",
}

var recipeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			rs, err := a.recipes.Load()
			if errors.Is(err, recipes.ErrNotFound) {
				return fmt.Errorf("recipe file %s not found: add a recipe first", a.recipes.Path())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rs) == 0 {
				fmt.Fprintln(out, "No recipes found.")
				return nil
			}
			for i, r := range rs {
				veg := ""
				if r.Vegetarian() {
					veg = colorize(colorGreen, " (veg)")
				}
				fmt.Fprintf(out, "%s  %s%s  %d+%d min  %s\n",
					colorize(colorCyan, fmt.Sprintf("%3d", i+1)),
					r.Title, veg, r.PrepMinutes, r.CookMinutes, r.KeyIngredients)
			}
			return nil
		})
	},
}

var recipeAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Append a recipe to the table",
	Long: `Append a recipe to the table.

Examples:
  mimil recipe add "Ratatouille" --ingredients "courgette, aubergine, tomate" --prep 20 --cook 45 --meat Non
  mimil recipe add "Steak frites" --ingredients "boeuf, pommes de terre" --meat Oui --url https://example.com/steak`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ingredients, _ := cmd.Flags().GetString("ingredients")
		prep, _ := cmd.Flags().GetInt("prep")
		cook, _ := cmd.Flags().GetInt("cook")
		meatFlag, _ := cmd.Flags().GetString("meat")
		url, _ := cmd.Flags().GetString("url")

		meat, err := recipes.ParseMeatFlag(meatFlag)
		if err != nil {
			return err
		}
		r := recipes.Recipe{
			Title:              strings.TrimSpace(args[0]),
			KeyIngredients:     strings.TrimSpace(ingredients),
			PrepMinutes:        prep,
			CookMinutes:        cook,
			ContainsMeatOrFish: meat,
			SourceURL:          strings.TrimSpace(url),
		}
		if err := r.Validate(); err != nil {
			return err
		}

		return withApp(func(a *app) error {
			warnNewTable(a)
			if err := a.recipes.Append(r); err != nil {
				return err
			}
			printSuccess("Added %q to %s", r.Title, a.recipes.Path())
			return nil
		})
	},
}

// warnNewTable flags an append that is about to create the recipe file, so
// a mistyped files.dir does not go unnoticed.
func warnNewTable(a *app) {
	if !a.recipes.Exists() {
		printWarning("recipe file %s does not exist, creating a new table", a.recipes.Path())
	}
}

var recipeImportCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Extract a recipe from a web page with the AI model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			printStep("Extracting recipe from %s", args[0])
			created := !a.recipes.Exists()
			r, err := a.importer.Import(cmd.Context(), args[0])
			if err != nil {
				return describeModelError(err)
			}
			if created {
				printWarning("recipe file %s did not exist, created a new table", a.recipes.Path())
			}
			printSuccess("Imported %q (%d+%d min, viande/poisson: %s)", r.Title, r.PrepMinutes, r.CookMinutes, r.ContainsMeatOrFish)
			return nil
		})
	},
}

func init() {
	recipeAddCmd.Flags().String("ingredients", "", "comma-separated key ingredients")
	recipeAddCmd.Flags().Int("prep", 0, "preparation time in minutes")
	recipeAddCmd.Flags().Int("cook", 0, "cooking time in minutes")
	recipeAddCmd.Flags().String("meat", "", "contains meat or fish: Oui or Non")
	recipeAddCmd.Flags().String("url", "", "source URL")
	recipeAddCmd.MarkFlagRequired("ingredients")
	recipeAddCmd.MarkFlagRequired("meat")

	recipeCmd.AddCommand(recipeListCmd)
	recipeCmd.AddCommand(recipeAddCmd)
	recipeCmd.AddCommand(recipeImportCmd)
}

// --- ingredients ---

var ingredientsCmd = &cobra.Command{
	Use:   "ingredients",
	Short: "Inspect the ingredient vocabulary of the recipe table",
}

var ingredientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every distinct key ingredient",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			vocab, err := a.vocabulary()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ing := range vocab {
				fmt.Fprintln(out, ing)
			}
			return nil
		})
	},
}

var ingredientsCategorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Group the ingredient vocabulary into categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		return withApp(func(a *app) error {
			vocab, err := a.vocabulary()
			if err != nil {
				return err
			}
			if !a.model.HasCredential() {
				printWarning("No API key configured: using a single catch-all category")
			}

			categorize := a.categorizer.Categorize
			if refresh {
				categorize = a.categorizer.Refresh
			}
			cats, err := categorize(cmd.Context(), vocab)
			if err != nil {
				return err
			}
			printCategories(cmd.OutOrStdout(), cats)
			return nil
		})
	},
}

func init() {
	ingredientsCategorizeCmd.Flags().Bool("refresh", false, "ignore the cached categories and ask the model again")
	ingredientsCmd.AddCommand(ingredientsListCmd)
	ingredientsCmd.AddCommand(ingredientsCategorizeCmd)
}

func printCategories(out io.Writer, cats inventory.CategoryMap) {
	for _, c := range cats {
		fmt.Fprintln(out, colorize(colorBold, c.Name))
		for _, ing := range c.Ingredients {
			fmt.Fprintf(out, "  - %s\n", ing)
		}
	}
}

// --- inventory ---

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Show or update the ingredients available at home",
}

var inventoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved available ingredients",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			cats, err := a.files.LoadCategorized()
			if errors.Is(err, inventory.ErrNotFound) {
				flat, flatErr := a.files.LoadFlat()
				if flatErr != nil {
					if errors.Is(flatErr, inventory.ErrNotFound) {
						fmt.Fprintln(cmd.OutOrStdout(), "No inventory saved yet.")
						return nil
					}
					return flatErr
				}
				cats = inventory.CatchAll(flat)
			} else if err != nil {
				return err
			}
			printCategories(cmd.OutOrStdout(), cats)
			return nil
		})
	},
}

var inventorySetCmd = &cobra.Command{
	Use:   "set <ingredient>...",
	Short: "Replace the available ingredients",
	Long: `Replace the available ingredients.

With --toggle, each argument is added when absent and removed when present
in the saved inventory instead.

Examples:
  mimil inventory set tomate "pommes de terre" boeuf
  mimil inventory set --toggle boeuf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toggle, _ := cmd.Flags().GetBool("toggle")

		return withApp(func(a *app) error {
			vocab, err := a.vocabulary()
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(vocab))
			for _, v := range vocab {
				known[v] = true
			}

			sess := inventory.NewSession()
			if toggle {
				if err := sess.Load(a.files); err != nil {
					return err
				}
				for _, item := range args {
					sess.Toggle(item)
				}
			} else {
				sess.Set(args)
			}
			for _, item := range sess.Selected() {
				if !known[item] {
					printWarning("%q is not an ingredient of any recipe", item)
				}
			}

			cats, err := a.categorizer.Categorize(cmd.Context(), vocab)
			if err != nil {
				return err
			}
			saved, err := sess.Save(a.files, cats)
			if err != nil {
				return err
			}
			printSuccess("Saved %d available ingredients to %s", len(sess.Selected()), a.files.FlatPath())
			printCategories(cmd.OutOrStdout(), saved)
			return nil
		})
	},
}

func init() {
	inventorySetCmd.Flags().Bool("toggle", false, "toggle each ingredient in the saved inventory")
	inventoryCmd.AddCommand(inventoryShowCmd)
	inventoryCmd.AddCommand(inventorySetCmd)
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate a meal plan and shopping list",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			days := a.cfg.Planner.DefaultDays
			if cmd.Flags().Changed("days") {
				days, _ = cmd.Flags().GetInt("days")
			}

			printStep("Planning %d days with %s", days, a.cfg.Gemini.Model)
			out, err := a.planner.Run(cmd.Context(), days)
			if err != nil {
				return describeModelError(err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Artifacts.PlanMarkdown)
			fmt.Fprintln(w, out.Artifacts.ShoppingList)
			for _, v := range out.Violations {
				printWarning("Dinner on %s (%s) contains meat or fish", v.Day, v.Title)
			}
			for _, p := range out.Artifacts.Paths {
				printStatus("Wrote", "%s", p)
			}
			printSuccess("Plan %s saved", out.ID)
			return nil
		})
	},
}

func init() {
	planCmd.Flags().Int("days", 0, fmt.Sprintf("number of days to plan, 1 to %d (default from planner.default_days)", planner.MaxDays))
}

// describeModelError adds a hint to model failures the user can act on.
func describeModelError(err error) error {
	switch {
	case errors.Is(err, planner.ErrNoInventory):
		return fmt.Errorf("%w (run: mimil inventory set <ingredient>...)", err)
	case errors.Is(err, recipes.ErrNotFound), errors.Is(err, planner.ErrNoRecipes):
		return fmt.Errorf("%w (run: mimil recipe add or mimil recipe import)", err)
	}
	return err
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse previously generated plans",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generated plans, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(func(a *app) error {
			recs, err := a.history.ListPlans(limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No plans found.")
				return nil
			}
			for _, rec := range recs {
				fmt.Fprintf(out, "%s  %s  %d days  %s\n",
					colorize(colorCyan, rec.ID[:8]),
					rec.CreatedAt.Local().Format("2006-01-02 15:04"),
					rec.Days,
					rec.Model,
				)
			}
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id|latest>",
	Short: "Show a generated plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			rec, err := findPlan(a.history, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rec.Markdown)
			fmt.Fprintln(out, rec.ShoppingText)
			return nil
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a generated plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			rec, err := findPlan(a.history, args[0])
			if err != nil {
				return err
			}
			if err := a.history.DeletePlan(rec.ID); err != nil {
				return err
			}
			printSuccess("Deleted plan %s", rec.ID)
			return nil
		})
	},
}

func init() {
	historyListCmd.Flags().Int("limit", storage.DefaultListLimit, "maximum number of plans to list")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

// findPlan resolves "latest", a full ID or an unambiguous ID prefix as
// printed by history list.
func findPlan(s *storage.Store, ref string) (storage.PlanRecord, error) {
	if ref == "latest" {
		return s.LatestPlan()
	}
	rec, err := s.GetPlan(ref)
	if !errors.Is(err, storage.ErrNotFound) {
		return rec, err
	}

	n, err := s.CountPlans()
	if err != nil {
		return storage.PlanRecord{}, err
	}
	recs, err := s.ListPlans(n, 0)
	if err != nil {
		return storage.PlanRecord{}, err
	}
	var match []storage.PlanRecord
	for _, r := range recs {
		if strings.HasPrefix(r.ID, ref) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 0:
		return storage.PlanRecord{}, fmt.Errorf("plan %s: %w", ref, storage.ErrNotFound)
	case 1:
		return match[0], nil
	}
	return storage.PlanRecord{}, fmt.Errorf("plan prefix %s is ambiguous (%d matches)", ref, len(match))
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		key := "not set"
		if cfg.Gemini.APIKey != "" {
			key = "set"
		}
		fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, "gemini.api_key"), key)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <api-key>",
	Short: "Store the Gemini API key in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIKey(strings.TrimSpace(args[0])); err != nil {
			return err
		}
		printSuccess("API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
