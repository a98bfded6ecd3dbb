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

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <pattern> [path]",
		Short: "Search files for a pattern",
		Long:  "Search the file tree for a literal string or regular expression, streaming ordered results.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSearch,
	}

	addPatternFlags(cmd)
	addScopeFlags(cmd)
	cmd.Flags().IntP("context", "C", 0, "Lines of context around each match.")
	cmd.Flags().IntP("max-results", "m", 0, "Stop after this many matches, 0 means unlimited.")
	cmd.Flags().String("cursor", "", "Resume token from a previous truncated search.")
	cmd.Flags().BoolP("json", "j", false, "Output results in JSON format.")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	engine, cfg, err := newEngine()
	if err != nil {
		return err
	}

	isRegex, _ := cmd.Flags().GetBool("regex")
	ignoreCase, _ := cmd.Flags().GetBool("ignore-case")
	wholeWord, _ := cmd.Flags().GetBool("word")
	contextLines, _ := cmd.Flags().GetInt("context")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	cursor, _ := cmd.Flags().GetString("cursor")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	scope := scopeFromFlags(cmd, args, 1)
	if scope.MaxFileSize == 0 {
		scope.MaxFileSize = cfg.MaxFileSize
	}

	req := core.SearchRequest{
		Pattern:       args[0],
		IsRegex:       isRegex,
		CaseSensitive: !ignoreCase,
		WholeWord:     wholeWord,
		Scope:         scope,
		ContextLines:  contextLines,
		MaxResults:    maxResults,
		ResumeCursor:  cursor,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := engine.Search(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	printSearchResult(result, contextLines)
	return nil
}

func printSearchResult(result *core.SearchResult, contextLines int) {
	lastFile := ""
	for _, m := range result.Matches {
		if m.FilePath != lastFile {
			if lastFile != "" {
				fmt.Println()
			}
			fmt.Println(m.FilePath)
			lastFile = m.FilePath
		}
		for i, line := range m.ContextBefore {
			fmt.Printf("%d- %s\n", m.LineNumber-len(m.ContextBefore)+i, line)
		}
		fmt.Printf("%d: %s\n", m.LineNumber, m.LineText)
		for i, line := range m.ContextAfter {
			fmt.Printf("%d- %s\n", m.LineNumber+1+i, line)
		}
	}

	fmt.Printf("\n%d matches in %d files (%d scanned, %d skipped)\n",
		len(result.Matches), result.Stats.FilesMatched,
		result.Stats.FilesScanned, result.Stats.FilesSkipped)

	switch result.Status {
	case core.SearchTruncated:
		fmt.Printf("More results available. Resume with --cursor %s\n", result.NextCursor)
	case core.SearchCancelled:
		fmt.Println("Search cancelled; results above are partial.")
	}
}
