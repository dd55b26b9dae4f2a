package crawl

import (
	"testing"

	"github.com/groblegark/crawlgraph/internal/model"
)

func TestClassify(t *testing.T) {
	before := &model.Node{URLNormalized: "https://app.example.com/a", A11yHash: "a11y-1", StateHash: "state-1"}

	tests := []struct {
		name  string
		after *model.Node
		page  *model.PageState
		want  model.TransitionClass
	}{
		{
			name: "no resulting node",
			want: model.TransitionInteractionOnly,
		},
		{
			name:  "url changed",
			after: &model.Node{URLNormalized: "https://app.example.com/b"},
			page:  &model.PageState{HasModal: true},
			want:  model.TransitionNewPage,
		},
		{
			name:  "modal on same url",
			after: &model.Node{URLNormalized: "https://app.example.com/a", A11yHash: "a11y-2", StateHash: "state-1"},
			page:  &model.PageState{HasModal: true},
			want:  model.TransitionModalOverlay,
		},
		{
			name:  "drawer on same url",
			after: &model.Node{URLNormalized: "https://app.example.com/a", A11yHash: "a11y-2", StateHash: "state-1"},
			page:  &model.PageState{HasDrawer: true},
			want:  model.TransitionDrawer,
		},
		{
			name:  "identical hashes",
			after: &model.Node{URLNormalized: "https://app.example.com/a", A11yHash: "a11y-1", StateHash: "state-1"},
			page:  &model.PageState{},
			want:  model.TransitionSameNode,
		},
		{
			name:  "content changed in place",
			after: &model.Node{URLNormalized: "https://app.example.com/a", A11yHash: "a11y-2", StateHash: "state-1"},
			page:  &model.PageState{},
			want:  model.TransitionInteractionOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(before, tt.after, tt.page); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
