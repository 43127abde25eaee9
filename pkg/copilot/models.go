package copilot

import (
	"context"
	"net/http"
)

type Model struct {
	ID                  string       `json:"id" yaml:"id"`
	Name                string       `json:"name" yaml:"name"`
	Vendor              string       `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Version             string       `json:"version,omitempty" yaml:"version,omitempty"`
	Preview             bool         `json:"preview,omitempty" yaml:"preview,omitempty"`
	ModelPickerEnabled  bool         `json:"model_picker_enabled" yaml:"modelPickerEnabled"`
	ModelPickerCategory string       `json:"model_picker_category,omitempty" yaml:"modelPickerCategory,omitempty"`
	Capabilities        Capabilities `json:"capabilities" yaml:"capabilities"`
}

type Capabilities struct {
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Family   string   `json:"family,omitempty" yaml:"family,omitempty"`
	Limits   Limits   `json:"limits" yaml:"limits"`
	Supports Supports `json:"supports" yaml:"supports"`
}

type Limits struct {
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty" yaml:"maxContextWindowTokens,omitempty"`
	MaxOutputTokens        int `json:"max_output_tokens,omitempty" yaml:"maxOutputTokens,omitempty"`
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty" yaml:"maxPromptTokens,omitempty"`
}

type Supports struct {
	Vision            bool `json:"vision,omitempty" yaml:"vision,omitempty"`
	ToolCalls         bool `json:"tool_calls,omitempty" yaml:"toolCalls,omitempty"`
	Streaming         bool `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	AdaptiveThinking  bool `json:"adaptive_thinking,omitempty" yaml:"adaptiveThinking,omitempty"`
	MaxThinkingBudget int  `json:"max_thinking_budget,omitempty" yaml:"maxThinkingBudget,omitempty"`
}

// Thinking reports whether the model exposes a reasoning budget.
func (m Model) Thinking() bool {
	return m.Capabilities.Supports.AdaptiveThinking || m.Capabilities.Supports.MaxThinkingBudget > 0
}

func (m Model) Embedding() bool {
	return m.Capabilities.Type == "embeddings"
}

type Category string

const (
	CategoryPowerful    Category = "powerful"
	CategoryVersatile   Category = "versatile"
	CategoryLightweight Category = "lightweight"
	CategoryOther       Category = "other"
)

// CategoryOrder is the display order of model groups.
var CategoryOrder = []Category{CategoryPowerful, CategoryVersatile, CategoryLightweight, CategoryOther}

func (c Category) Label() string {
	switch c {
	case CategoryPowerful:
		return "Powerful"
	case CategoryVersatile:
		return "Versatile"
	case CategoryLightweight:
		return "Lightweight"
	default:
		return "Other (internal/legacy)"
	}
}

type ModelGroup struct {
	Category Category `json:"category" yaml:"category"`
	Models   []Model  `json:"models" yaml:"models"`
}

// GroupModels buckets models by picker category in CategoryOrder. Embedding
// models are skipped, unknown categories land in CategoryOther and empty
// groups are omitted.
func GroupModels(models []Model) []ModelGroup {
	buckets := map[Category][]Model{}
	for _, m := range models {
		if m.Embedding() {
			continue
		}
		cat := Category(m.ModelPickerCategory)
		switch cat {
		case CategoryPowerful, CategoryVersatile, CategoryLightweight:
		default:
			cat = CategoryOther
		}
		buckets[cat] = append(buckets[cat], m)
	}
	var groups []ModelGroup
	for _, cat := range CategoryOrder {
		if len(buckets[cat]) == 0 {
			continue
		}
		groups = append(groups, ModelGroup{Category: cat, Models: buckets[cat]})
	}
	return groups
}

// ListModels fetches the model catalog available to the token.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if _, err := c.token(); err != nil {
		return nil, err
	}
	header := http.Header{}
	c.setCopilotHeaders(header)

	var out struct {
		Data []Model `json:"data"`
	}
	if err := c.get(ctx, c.authClient(""), c.apiURL("models"), header, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
