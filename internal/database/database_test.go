package database

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaIsIdempotent(t *testing.T) {
	require.NotEmpty(t, schemaSQL)
	tables := []string{
		"tenants", "channel_mappings", "leads", "messages", "autopilot_settings",
		"lead_overrides", "drafts", "action_logs", "learning_events", "learning_aggregates",
		"template_performance", "follow_up_tasks", "reactivation_runs", "reactivation_checkpoints",
	}
	for _, table := range tables {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
	bare := regexp.MustCompile(`(?i)CREATE\s+(UNIQUE\s+)?(TABLE|INDEX)\s+(\w+)`)
	for _, m := range bare.FindAllStringSubmatch(schemaSQL, -1) {
		assert.True(t, strings.EqualFold(m[3], "IF"), "statement without IF NOT EXISTS: %s", m[0])
	}
}

func TestEmptyURLIsRejected(t *testing.T) {
	_, err := NewDB("  ")
	assert.ErrorIs(t, err, errNoURL)
	_, err = NewPool(context.Background(), "")
	assert.ErrorIs(t, err, errNoURL)
}
