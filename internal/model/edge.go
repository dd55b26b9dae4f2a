package model

import "time"

// Outcome is the recorded result of one action attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// TransitionClass categorizes what kind of UI change an action produced.
type TransitionClass string

const (
	TransitionSameNode        TransitionClass = "same_node"
	TransitionInteractionOnly TransitionClass = "interaction_only"
	TransitionNewPage         TransitionClass = "new_page"
	TransitionModalOverlay    TransitionClass = "modal_overlay"
	TransitionDrawer          TransitionClass = "drawer"
)

// IntentLabelMaxLen caps the length of LLM-provided intent labels.
const IntentLabelMaxLen = 15

// FailedEdgeCap is the maximum number of failed edges recorded per
// (from node, action signature) before further attempts short-circuit.
const FailedEdgeCap = 3

// Edge is one attempted action transition between nodes. Edges are never
// mutated in place; connectivity changes are applied as delete+insert.
type Edge struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	FromNodeID string          `json:"from_node_id"`
	ToNodeID   string          `json:"to_node_id,omitempty"` // empty for failed edges
	Action     Action          `json:"action"`
	Outcome    Outcome         `json:"outcome"`
	LatencyMS  int64           `json:"latency_ms"`
	Error      string          `json:"error,omitempty"`
	Class      TransitionClass `json:"class,omitempty"`
	Intent     string          `json:"intent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Signature returns the dedup key (from node, type, target, value).
func (e *Edge) Signature() string {
	return e.Action.Signature(e.FromNodeID)
}

// TruncateIntent clips an intent label to IntentLabelMaxLen runes.
func TruncateIntent(label string) string {
	r := []rune(label)
	if len(r) <= IntentLabelMaxLen {
		return label
	}
	return string(r[:IntentLabelMaxLen])
}
