package model

import "time"

// Node is a distinct application state observed within a run.
//
// Identity within a run is (URLNormalized, A11yHash, StateHash), with one
// exception: when InputHash is set and an existing node carries the same
// (URLNormalized, StateHash, InputHash), that node is reused even if the
// a11y hash differs. Form-validation noise must not fork the graph.
type Node struct {
	ID            string `json:"id"`
	RunID         string `json:"run_id"`
	URL           string `json:"url"`
	URLNormalized string `json:"url_normalized"`
	A11yHash      string `json:"a11y_hash"`
	StateHash     string `json:"state_hash"`
	ContentHash   string `json:"content_hash,omitempty"`
	InputHash     string `json:"input_hash,omitempty"`

	// Depth counters, back-filled once on the first classified transition
	// that reaches this node.
	RouteDepth       int `json:"route_depth"`
	ModalDepth       int `json:"modal_depth"`
	InteractionDepth int `json:"interaction_depth"`

	// Opaque artifact keys (DOM, CSS, screenshot, storage snapshot).
	DOMKey        string `json:"dom_key,omitempty"`
	CSSKey        string `json:"css_key,omitempty"`
	ScreenshotKey string `json:"screenshot_key,omitempty"`
	SnapshotKey   string `json:"snapshot_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NodeDepths carries the three depth counters written once per node.
type NodeDepths struct {
	Route       int
	Modal       int
	Interaction int
}

// DepthsFor derives the child node's depth counters from the parent's,
// according to how the transition was classified.
func DepthsFor(parent *Node, class TransitionClass) NodeDepths {
	d := NodeDepths{
		Route:       parent.RouteDepth,
		Modal:       parent.ModalDepth,
		Interaction: parent.InteractionDepth,
	}
	switch class {
	case TransitionNewPage:
		d.Route++
	case TransitionModalOverlay:
		d.Modal++
	default:
		d.Interaction++
	}
	return d
}
