package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nLEADPILOT_TEST_A=plain\nexport LEADPILOT_TEST_B=\"quoted value\"\nLEADPILOT_TEST_C='x=y'\nbroken line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("LEADPILOT_TEST_A", "old")
	t.Setenv("LEADPILOT_TEST_B", "")
	t.Setenv("LEADPILOT_TEST_C", "")
	require.NoError(t, LoadEnvFile(path))

	assert.Equal(t, "plain", os.Getenv("LEADPILOT_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("LEADPILOT_TEST_B"))
	assert.Equal(t, "x=y", os.Getenv("LEADPILOT_TEST_C"))

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing")))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "sk****yz", maskSecret("sk-abcdefxyz"))
}

func TestCheckRequiredConfig(t *testing.T) {
	t.Setenv("LEADPILOT_DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("LEADPILOT_SERVER_JWT_SECRET", "")
	t.Setenv("LEADPILOT_LLM_API_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://other")

	r := CheckRequiredConfig()
	assert.ElementsMatch(t, []string{"LEADPILOT_SERVER_JWT_SECRET", "LEADPILOT_LLM_API_KEY"}, r.Missing)
	assert.Contains(t, r.Present, "LEADPILOT_DATABASE_URL")
	assert.Len(t, r.Warnings, 1)
}
