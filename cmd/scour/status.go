package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <operation-id>",
		Short: "Restore files touched by a failed operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runRollback,
	}
	cmd.Flags().BoolP("json", "j", false, "Output results in JSON format.")
	return cmd
}

func runRollback(cmd *cobra.Command, args []string) error {
	engine, _, err := newEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := engine.RollbackTransform(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	for _, path := range result.FilesRestored {
		fmt.Printf("✓ %s\n", path)
	}
	for _, f := range result.FilesFailed {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", f.Path, f.Reason)
	}
	fmt.Printf("\nOperation %s: %s (%d restored)\n",
		result.OperationID, result.Status, len(result.FilesRestored))
	return nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <operation-id>",
		Short: "Show the state of a bulk operation",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	cmd.Flags().BoolP("json", "j", false, "Output results in JSON format.")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	engine, _, err := newEngine()
	if err != nil {
		return err
	}

	op, ok := engine.GetOperation(args[0])
	if !ok {
		return fmt.Errorf("operation %s not found", args[0])
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(op)
	}

	fmt.Printf("Operation %s\n", op.ID)
	fmt.Printf("  Status:  %s\n", op.Status)
	fmt.Printf("  Pattern: %s\n", op.Request.Pattern)
	fmt.Printf("  Files:   %d\n", len(op.Files))
	fmt.Printf("  Created: %s\n", op.CreatedAt.Format("2006-01-02 15:04:05"))
	if !op.CompletedAt.IsZero() {
		fmt.Printf("  Done:    %s\n", op.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if state, ok := engine.GetProgress(op.ID); ok {
		fmt.Printf("  Progress: %d/%d files\n", state.CompletedUnits, state.TotalUnits)
	}
	return nil
}
