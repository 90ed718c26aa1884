package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatSuccess("synced"), "synced")
	assert.Contains(t, FormatError("failed"), ErrorIcon)
	assert.Contains(t, FormatPrompt("Delete trips?"), "[y/N]")
	assert.Contains(t, FormatTitle("Sync"), "Sync")
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary("Sync complete", []KeyValue{
		{Key: "Scraped", Value: 12},
		{Key: "Saved", Value: 10},
	})
	assert.Contains(t, out, "Sync complete")
	assert.Contains(t, out, "Scraped:")
	assert.Contains(t, out, "12")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"When", "Where"}, [][]string{
		{"2024-03-15 14:30", "М4-1046км-Москва"},
		{"2024-03-15 16:05", "ПВП-416M"},
	})
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "When")
	assert.Contains(t, lines[2], "ПВП-416M")
}
