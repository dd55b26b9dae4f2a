package crawl

import "github.com/groblegark/crawlgraph/internal/model"

// Classify decides what kind of UI change an action produced. Evaluation
// order matters: URL changes outrank live modal/drawer signals, which
// outrank hash equality. Computed once per first-time node; the result
// drives depth accounting.
func Classify(before, after *model.Node, page *model.PageState) model.TransitionClass {
	if after == nil {
		return model.TransitionInteractionOnly
	}
	if after.URLNormalized != before.URLNormalized {
		return model.TransitionNewPage
	}
	if page != nil && page.HasModal {
		return model.TransitionModalOverlay
	}
	if page != nil && page.HasDrawer {
		return model.TransitionDrawer
	}
	if after.A11yHash == before.A11yHash && after.StateHash == before.StateHash {
		return model.TransitionSameNode
	}
	return model.TransitionInteractionOnly
}
