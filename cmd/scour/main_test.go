package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addScopeFlags(cmd)

	require.NoError(t, cmd.Flags().Set("include", "*.go"))
	require.NoError(t, cmd.Flags().Set("exclude", "*_test.go"))
	require.NoError(t, cmd.Flags().Set("max-depth", "3"))
	require.NoError(t, cmd.Flags().Set("no-default-excludes", "true"))

	scope := scopeFromFlags(cmd, []string{"needle", "/repo/src"}, 1)

	assert.Equal(t, "/repo/src", scope.Path)
	assert.Equal(t, []string{"*.go"}, scope.Include)
	assert.Equal(t, []string{"*_test.go"}, scope.Exclude)
	assert.Equal(t, 3, scope.MaxDepth)
	assert.True(t, scope.NoDefaultSkips)
	assert.False(t, scope.FollowSymlinks)
}

func TestScopeFromFlagsDefaultsToCwd(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addScopeFlags(cmd)

	scope := scopeFromFlags(cmd, []string{"needle"}, 1)
	assert.Equal(t, ".", scope.Path)
}

func TestCommandTree(t *testing.T) {
	for _, newCmd := range []func() *cobra.Command{
		newSearchCmd, newReplaceCmd, newRollbackCmd, newStatusCmd,
	} {
		cmd := newCmd()
		require.NotEmpty(t, cmd.Use)
		require.NotEmpty(t, cmd.Short)
		assert.NotNil(t, cmd.RunE, "%s must report errors through RunE", cmd.Use)
	}
}

func TestPatternFlagShorthands(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addPatternFlags(cmd)

	for flag, shorthand := range map[string]string{
		"regex":       "e",
		"ignore-case": "i",
		"word":        "w",
	} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "missing flag %s", flag)
		assert.Equal(t, shorthand, f.Shorthand)
	}
}
