package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oxhq/scour/core"
	"github.com/oxhq/scour/db"
	"github.com/oxhq/scour/internal/config"
)

func main() {
	// Best-effort .env loading; the environment wins over defaults
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "scour",
		Short: "Bulk text search and transform",
		Long:  "Scour searches file trees with bounded memory and applies previewed, reversible bulk replacements.",
	}

	rootCmd.AddCommand(newSearchCmd(), newReplaceCmd(), newRollbackCmd(), newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newEngine wires an engine from the environment config. The returned cleanup
// is safe to call even when construction partially failed.
func newEngine() (*core.Engine, *config.Config, error) {
	cfg := config.LoadConfig()

	logger := core.NewLogger(os.Stderr, core.LogLevel(cfg.LogLevel), "scour")

	engineCfg := core.EngineConfig{
		Workers:      cfg.Workers,
		CursorTTL:    cfg.CursorTTL,
		OperationTTL: cfg.OperationTTL,
		BackupDir:    cfg.BackupDir,
		UseFsync:     cfg.UseFsync,
		Logger:       logger,
	}

	if cfg.DatabaseDSN != "" {
		gdb, err := db.Connect(cfg.DatabaseDSN, cfg.Debug)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		store := db.NewStore(gdb)
		engineCfg.Cursors = store
		engineCfg.Persistence = store
	}

	engine, err := core.NewEngine(engineCfg)
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

// scopeFromFlags builds the shared file scope from command flags.
func scopeFromFlags(cmd *cobra.Command, args []string, pathIndex int) core.FileScope {
	path := "."
	if len(args) > pathIndex {
		path = args[pathIndex]
	}

	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	followSymlinks, _ := cmd.Flags().GetBool("follow-symlinks")
	maxFileSize, _ := cmd.Flags().GetInt64("max-bytes")
	noDefaults, _ := cmd.Flags().GetBool("no-default-excludes")

	return core.FileScope{
		Path:           path,
		Include:        include,
		Exclude:        exclude,
		MaxDepth:       maxDepth,
		FollowSymlinks: followSymlinks,
		MaxFileSize:    maxFileSize,
		NoDefaultSkips: noDefaults,
	}
}

// addScopeFlags registers the flags every scope-taking command shares.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("include", nil, "Include file patterns (glob).")
	cmd.Flags().StringSlice("exclude", nil, "Exclude file patterns (glob).")
	cmd.Flags().Int("max-depth", 0, "Maximum directory depth, 0 means unlimited.")
	cmd.Flags().Bool("follow-symlinks", false, "Follow symbolic links during traversal.")
	cmd.Flags().Int64("max-bytes", 0, "Maximum file size to scan, 0 means the built-in default.")
	cmd.Flags().Bool("no-default-excludes", false, "Scan .git, node_modules and the other default-excluded directories.")
}

func addPatternFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("regex", "e", false, "Treat the pattern as a regular expression.")
	cmd.Flags().BoolP("ignore-case", "i", false, "Case-insensitive matching.")
	cmd.Flags().BoolP("word", "w", false, "Match whole words only.")
}
