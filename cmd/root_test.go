package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"scan", "hunts", "matches", "alerts", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sourcing-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScanCommand_Flags(t *testing.T) {
	flag := scanCmd.Flags().Lookup("batch-size")
	require.NotNil(t, flag, "scan command should have --batch-size flag")
}

func TestHuntsSeedCommand_Flags(t *testing.T) {
	for _, name := range []string{"priority", "interval", "all"} {
		require.NotNil(t, huntsSeedCmd.Flags().Lookup(name), "hunts seed should have --%s flag", name)
	}
}

func TestAlertsListCommand_Flags(t *testing.T) {
	for _, name := range []string{"unacked", "type", "limit"} {
		require.NotNil(t, alertsListCmd.Flags().Lookup(name), "alerts list should have --%s flag", name)
	}
}
