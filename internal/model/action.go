package model

import "fmt"

// ActionType categorizes a single user action the crawler can perform.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionSelect   ActionType = "select"
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
)

// String returns the string representation of the action type.
func (t ActionType) String() string {
	return string(t)
}

// NeedsInput reports whether the action requires a value before it can run.
func (t ActionType) NeedsInput() bool {
	return t == ActionFill || t == ActionSelect
}

// Action describes one candidate user action on a page. The target is
// identified by a CSS selector, by an accessibility (role, name) pair, or,
// for navigations, by the Value alone.
type Action struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Role     string     `json:"role,omitempty"`
	Name     string     `json:"name,omitempty"`
	Value    string     `json:"value,omitempty"`
	Tag      string     `json:"tag,omitempty"`
	Href     string     `json:"href,omitempty"`
}

// Target returns the canonical target identification used for edge dedup.
func (a Action) Target() string {
	if a.Selector != "" {
		return a.Selector
	}
	if a.Role != "" || a.Name != "" {
		return a.Role + "|" + a.Name
	}
	return a.Href
}

// Signature returns the dedup key for this action from a given node:
// (from node, type, target, value).
func (a Action) Signature(fromNodeID string) string {
	return fmt.Sprintf("%s|%s|%s|%s", fromNodeID, a.Type, a.Target(), a.Value)
}
