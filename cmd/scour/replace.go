package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/oxhq/scour/core"
)

func newReplaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replace <pattern> <replacement> [path]",
		Short: "Preview and apply a bulk replacement",
		Long: "Preview a bulk find/replace as unified diffs. Previews are never applied " +
			"in the same run; re-invoke with --apply and the printed operation ID.",
		Args: cobra.RangeArgs(2, 3),
		RunE: runReplace,
	}

	addPatternFlags(cmd)
	addScopeFlags(cmd)
	cmd.Flags().String("apply", "", "Apply a previously previewed operation by ID.")
	cmd.Flags().Bool("all-or-nothing", false, "Roll every file back if any file fails.")
	cmd.Flags().Bool("force", false, "Apply even when files changed since the preview.")
	cmd.Flags().BoolP("json", "j", false, "Output results in JSON format.")

	return cmd
}

func runReplace(cmd *cobra.Command, args []string) error {
	engine, cfg, err := newEngine()
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opID, _ := cmd.Flags().GetString("apply"); opID != "" {
		allOrNothing, _ := cmd.Flags().GetBool("all-or-nothing")
		force, _ := cmd.Flags().GetBool("force")

		result, err := engine.ApplyTransform(ctx, opID, core.ApplyOptions{
			AllOrNothing:  allOrNothing,
			ForceOverride: force,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		printApplyResult(result)
		return nil
	}

	isRegex, _ := cmd.Flags().GetBool("regex")
	ignoreCase, _ := cmd.Flags().GetBool("ignore-case")
	wholeWord, _ := cmd.Flags().GetBool("word")

	scope := scopeFromFlags(cmd, args, 2)
	if scope.MaxFileSize == 0 {
		scope.MaxFileSize = cfg.MaxFileSize
	}

	req := core.TransformRequest{
		Pattern:       args[0],
		IsRegex:       isRegex,
		CaseSensitive: !ignoreCase,
		WholeWord:     wholeWord,
		Replacement:   args[1],
		Scope:         scope,
	}

	preview, err := engine.PreviewTransform(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(preview)
	}
	printPreviewResult(preview)
	return nil
}

func printPreviewResult(preview *core.PreviewResult) {
	total := 0
	for _, d := range preview.Diffs {
		fmt.Print(d.Diff)
		total += d.MatchCount
	}
	for _, c := range preview.Conflicts {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", c.Path, c.Reason)
	}

	fmt.Printf("\n%d replacements across %d files.\n", total, len(preview.Diffs))
	if len(preview.Diffs) > 0 {
		fmt.Printf("Apply with: scour replace --apply %s\n", preview.OperationID)
	}
}

func printApplyResult(result *core.ApplyResult) {
	for _, path := range result.FilesModified {
		fmt.Printf("✓ %s\n", path)
	}
	for _, f := range result.FilesFailed {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", f.Path, f.Reason)
	}
	for _, c := range result.Conflicts {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", c.Path, c.Reason)
	}

	fmt.Printf("\nOperation %s: %s (%d modified, %d failed)\n",
		result.OperationID, result.Status, len(result.FilesModified), len(result.FilesFailed))
	if result.Status == core.OpFailed {
		fmt.Printf("Restore originals with: scour rollback %s\n", result.OperationID)
	}
}
