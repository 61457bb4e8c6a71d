package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/mimil/internal/api"
	"github.com/kalambet/mimil/internal/inventory"
	"github.com/kalambet/mimil/internal/recipes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runServer)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(runMCP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mimil configuration and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer(a *app) error {
	fmt.Fprintf(os.Stderr, "mimil version %s\n", version)
	warnMissingInputs(a)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.NewAppHandler(api.AppDeps{
		Recipes:     a.recipes,
		Importer:    a.importer,
		Categorizer: a.categorizer,
		Inventory:   a.files,
		Sessions:    inventory.NewSessionManager(),
		Planner:     a.planner,
		History:     a.history,
		DefaultDays: a.cfg.Planner.DefaultDays,
		Token:       a.cfg.Server.Token,
	})
	if a.cfg.Server.Token == "" {
		slog.Warn("server.token is not set: the API accepts unauthenticated requests")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mimil listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP(a *app) error {
	warnMissingInputs(a)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Recipes:     a.recipes,
		Importer:    a.importer,
		Categorizer: a.categorizer,
		Inventory:   a.files,
		Planner:     a.planner,
		History:     a.history,
		DefaultDays: a.cfg.Planner.DefaultDays,
	}, version)

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

// warnMissingInputs reports missing input files at startup. Long-running
// servers keep going: the files can be created through the API.
func warnMissingInputs(a *app) {
	if !a.recipes.Exists() {
		slog.Warn("recipe file not found", "path", a.recipes.Path())
	}
	if !a.model.HasCredential() {
		slog.Warn("no Gemini API key configured: categorization degrades to a single category and planning is unavailable")
	}
}

func showStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	printStatus("Files dir", "%s", cfg.Files.Dir)
	store := recipes.NewStore(cfg.RecipeFile())
	if rs, err := store.Load(); err != nil {
		printStatus("Recipes", "%s", colorize(colorYellow, "missing"))
	} else {
		printStatus("Recipes", "%d", len(rs))
	}
	if flat, err := inventory.NewFiles(cfg.Files.Dir).LoadFlat(); err != nil {
		printStatus("Inventory", "%s", colorize(colorYellow, "not saved"))
	} else {
		printStatus("Inventory", "%d ingredients", len(flat))
	}
	printStatus("Model", "%s", cfg.Gemini.Model)
	if cfg.Gemini.APIKey == "" {
		printStatus("API key", "%s", colorize(colorYellow, "not set"))
	} else {
		printStatus("API key", "set")
	}

	client := newAPIClient(cfg)
	if err := client.health(context.Background()); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		var plans []api.PlanSummary
		if err := client.getJSON(context.Background(), "/plans?limit=100", &plans); err == nil {
			printStatus("Plans", "%s", countLabel(len(plans), 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
