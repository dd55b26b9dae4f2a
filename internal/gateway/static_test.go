package gateway

import (
	"context"
	"testing"

	"github.com/groblegark/crawlgraph/internal/model"
)

func TestStaticFilter_FillableFromMemory(t *testing.T) {
	mem := model.NewRunMemory()
	mem.SetFact("Email", "a@example.com")

	actions := []model.Action{
		{Type: model.ActionFill, Selector: "#email", Name: "Email"},
		{Type: model.ActionFill, Selector: "#phone", Name: "Phone"},
	}

	out, err := StaticFilter{}.FilterFillable(context.Background(), actions, mem)
	if err != nil {
		t.Fatalf("FilterFillable error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d fillable actions, want 1", len(out))
	}
	if out[0].Selector != "#email" || out[0].Value != "a@example.com" {
		t.Errorf("fillable = %+v, want #email with known value", out[0])
	}
}

func TestStaticFilter_UpdateMemory(t *testing.T) {
	mem := model.NewRunMemory()
	page := &model.PageState{
		Inputs: []model.InputState{
			{Selector: "#user", Value: "alice"},
			{Selector: "#pass", Value: "hunter2", Secret: true},
		},
	}

	changed, err := StaticFilter{}.UpdateMemory(context.Background(), mem, page)
	if err != nil {
		t.Fatalf("UpdateMemory error: %v", err)
	}
	if !changed {
		t.Fatal("first update should report a change")
	}
	if _, ok := mem.Fact("#pass"); ok {
		t.Error("secret value must not enter memory facts")
	}

	// Same page again: no change.
	changed, err = StaticFilter{}.UpdateMemory(context.Background(), mem, page)
	if err != nil {
		t.Fatalf("UpdateMemory error: %v", err)
	}
	if changed {
		t.Error("repeated update should report no change")
	}
}

func TestStaticFilter_LabelIntent(t *testing.T) {
	edge := &model.Edge{Action: model.Action{Type: model.ActionClick, Name: "Open Billing Settings"}}
	label, err := StaticFilter{}.LabelIntent(context.Background(), nil, nil, edge)
	if err != nil {
		t.Fatalf("LabelIntent error: %v", err)
	}
	if len([]rune(label)) > model.IntentLabelMaxLen {
		t.Errorf("label %q exceeds %d runes", label, model.IntentLabelMaxLen)
	}
}
