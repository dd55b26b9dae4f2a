package model

// A11yEntry is one accessibility-tree entry as reported by the DOM scanner.
type A11yEntry struct {
	Role  string `json:"role"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

// StorageSnapshot holds the raw local and session storage of a page.
// Raw values never reach the store; only fingerprints do.
type StorageSnapshot struct {
	Local   map[string]string `json:"local"`
	Session map[string]string `json:"session"`
}

// AuthState holds the auth indicators observed on a page.
type AuthState struct {
	LoggedIn   bool     `json:"logged_in"`
	CookieKeys []string `json:"cookie_keys,omitempty"`
	TokenKeys  []string `json:"token_keys,omitempty"`
}

// InputState is the observed value of one input field, used to distinguish
// form states that share a URL.
type InputState struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
	Secret   bool   `json:"secret"` // password-class fields; value stored only as hash
}

// PageState is everything the crawler observes about a live page in one
// capture: the raw signals the hashers consume plus the live indicators the
// transition classifier needs.
type PageState struct {
	URL         string          `json:"url"`
	A11y        []A11yEntry     `json:"a11y"`
	VisibleText []string        `json:"visible_text,omitempty"`
	Storage     StorageSnapshot `json:"storage"`
	Auth        AuthState       `json:"auth"`
	Inputs      []InputState    `json:"inputs,omitempty"`

	// Live signals, valid only at capture time.
	HasModal  bool `json:"has_modal"`
	HasDrawer bool `json:"has_drawer"`

	// Captured artifacts, handed to the artifact store as opaque blobs.
	DOM        []byte `json:"-"`
	CSS        []byte `json:"-"`
	Screenshot []byte `json:"-"`
}
