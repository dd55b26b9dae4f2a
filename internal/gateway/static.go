package gateway

import (
	"context"
	"strings"

	"github.com/groblegark/crawlgraph/internal/model"
)

// StaticFilter is the no-LLM ActionFilter used when no API key is
// configured. It answers input actions by exact field-label lookup in run
// memory, records visible input values as facts, and labels intents from the
// action itself.
type StaticFilter struct{}

var _ ActionFilter = StaticFilter{}

func (StaticFilter) FilterFillable(_ context.Context, actions []model.Action, mem *model.RunMemory) ([]model.Action, error) {
	var out []model.Action
	for _, a := range actions {
		if v, ok := mem.Fact(a.Name); ok && v != "" {
			filled := a
			filled.Value = v
			out = append(out, filled)
		}
	}
	return out, nil
}

func (StaticFilter) UpdateMemory(_ context.Context, mem *model.RunMemory, page *model.PageState) (bool, error) {
	changed := false
	for _, in := range page.Inputs {
		if in.Secret || in.Value == "" {
			continue
		}
		if mem.SetFact(in.Selector, in.Value) {
			changed = true
		}
	}
	return changed, nil
}

func (StaticFilter) LabelIntent(_ context.Context, _, _ *model.Node, edge *model.Edge) (string, error) {
	label := strings.TrimSpace(strings.ToLower(edge.Action.Name))
	if label == "" {
		label = string(edge.Action.Type)
	}
	return model.TruncateIntent(label), nil
}
