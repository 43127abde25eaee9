package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

func init() {
	color.NoColor = true
}

func fp(v float64) *float64 { return &v }

func testModels() []copilot.Model {
	return []copilot.Model{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ModelPickerCategory: "lightweight",
			Capabilities: copilot.Capabilities{Limits: copilot.Limits{MaxContextWindowTokens: 128000, MaxOutputTokens: 4096}}},
		{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Vendor: "Anthropic", ModelPickerCategory: "powerful", Preview: true,
			Capabilities: copilot.Capabilities{
				Limits:   copilot.Limits{MaxContextWindowTokens: 200000, MaxOutputTokens: 16000},
				Supports: copilot.Supports{Vision: true, MaxThinkingBudget: 32000},
			}},
		{ID: "embed", Name: "Embedding", Capabilities: copilot.Capabilities{Type: "embeddings"}},
	}
}

func TestWriteModelTable(t *testing.T) {
	var buf bytes.Buffer
	WriteModelTable(&buf, testModels())
	out := buf.String()

	assert.Less(t, strings.Index(out, "Powerful (1)"), strings.Index(out, "Lightweight (1)"))
	assert.Contains(t, out, "Claude Sonnet 4 (Preview)")
	assert.Contains(t, out, "200K")
	assert.Contains(t, out, "128K")
	assert.NotContains(t, out, "embed")
	assert.NotContains(t, out, "VENDOR")
}

func TestWriteModelTableWide(t *testing.T) {
	var buf bytes.Buffer
	WriteModelTableWide(&buf, testModels())
	out := buf.String()

	assert.Contains(t, out, "VENDOR")
	assert.Contains(t, out, "Anthropic")
	assert.Regexp(t, `claude-sonnet-4\s+Claude Sonnet 4 \(Preview\)\s+Anthropic\s+200K\s+16K\s+yes\s+yes`, out)
}

func TestWriteModelTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	WriteModelTable(&buf, nil)
	assert.Equal(t, "No models available.\n", buf.String())
}

func TestWriteUsage(t *testing.T) {
	enabled := true
	usage := &copilot.Usage{
		Token: &copilot.TokenInfo{SKU: "sku", ChatEnabled: &enabled, ExpiresAt: 1735689600},
		User: &copilot.UserInfo{
			CopilotPlan: "business",
			QuotaSnapshots: map[string]copilot.QuotaSnapshot{
				"premium_interactions": {Entitlement: fp(300), Remaining: fp(0), Overage: fp(12)},
				"chat":                 {Unlimited: true},
			},
		},
	}

	var buf bytes.Buffer
	WriteUsage(&buf, usage)
	out := buf.String()

	assert.Regexp(t, `Plan:\s+business`, out)
	assert.Regexp(t, `Chat:\s+enabled`, out)
	assert.Regexp(t, `Token expires:\s+2025-01-01T00:00:00Z`, out)
	assert.Regexp(t, `Renewal:\s+2025-01-31 \(estimated\)`, out)
	assert.Regexp(t, `Chat\s+unlimited / unlimited\s+-`, out)
	assert.Regexp(t, `Premium Interactions\s+0 / 300\s+0%`, out)
	assert.Regexp(t, `overage\s+12`, out)
}

func TestWriteUsageUnknown(t *testing.T) {
	var buf bytes.Buffer
	WriteUsage(&buf, &copilot.Usage{})
	out := buf.String()
	assert.Regexp(t, `Plan:\s+-`, out)
	assert.Regexp(t, `Renewal:\s+-`, out)
	assert.NotContains(t, out, "QUOTA")
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	WriteStats(&buf, stats.Snapshot{Total: 4, Success: 3, Fail: 1, Retries: 2})
	assert.Regexp(t, `4\s+3\s+1\s+2\s+75.0%`, buf.String())

	buf.Reset()
	WriteStats(&buf, stats.Snapshot{})
	assert.Regexp(t, `0\s+0\s+0\s+0\s+-`, buf.String())
}

func TestWriteKeyValues(t *testing.T) {
	var buf bytes.Buffer
	WriteKeyValues(&buf, []string{"b", "a"}, map[string]string{"a": "1"})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Regexp(t, `^b\s+-$`, lines[1])
	assert.Regexp(t, `^a\s+1$`, lines[2])
}
