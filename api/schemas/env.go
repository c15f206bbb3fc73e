package schemas

import (
	"time"
)

// -- Observation Schemas --

// Modality identifies one channel of the observation space.
type Modality string

const (
	ModalityDOM             Modality = "dom"
	ModalityAXTree          Modality = "axtree"
	ModalityScreenshot      Modality = "screenshot"
	ModalityOpenTabs        Modality = "open_tabs"
	ModalityLastActionError Modality = "last_action_error"
)

// ModalitySet is the configured observation space. The zero value requests
// nothing; use DefaultModalities for the usual full set.
type ModalitySet map[Modality]bool

// DefaultModalities enables every recognized modality.
func DefaultModalities() ModalitySet {
	return ModalitySet{
		ModalityDOM:             true,
		ModalityAXTree:          true,
		ModalityScreenshot:      true,
		ModalityOpenTabs:        true,
		ModalityLastActionError: true,
	}
}

// Has reports whether the modality is enabled.
func (m ModalitySet) Has(mod Modality) bool { return m[mod] }

// Element describes one addressable interactive element in the current page.
// Bid is the stable identifier actions use to target it.
type Element struct {
	Bid        string            `json:"bid"`
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Visible    bool              `json:"visible"`
}

// DOMSnapshot is the structured DOM channel: raw serialized HTML plus the
// indexed table of interactive elements.
type DOMSnapshot struct {
	HTML     string    `json:"html"`
	Elements []Element `json:"elements"`
}

// AXNode is one node of the accessibility tree, flattened depth-first.
type AXNode struct {
	NodeID      string `json:"node_id"`
	Role        string `json:"role"`
	Name        string `json:"name,omitempty"`
	Value       string `json:"value,omitempty"`
	Ignored     bool   `json:"ignored,omitempty"`
	BackendNode int64  `json:"backend_node,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
}

// TabInfo describes one open tab.
type TabInfo struct {
	TargetID string `json:"target_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Active   bool   `json:"active"`
}

// ChatRole distinguishes who authored a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleInfeasible ChatRole = "infeasible"
)

// ChatMessage is one entry in the episode's chat transcript. Terminal
// meta-actions and task validators both append to it.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is the immutable per-step snapshot handed to the caller. Only
// the modalities enabled in the observation space are populated.
type Observation struct {
	Goal            string        `json:"goal"`
	URL             string        `json:"url"`
	DOM             *DOMSnapshot  `json:"dom,omitempty"`
	AXTree          []AXNode      `json:"axtree,omitempty"`
	Screenshot      []byte        `json:"screenshot,omitempty"`
	OpenTabs        []TabInfo     `json:"open_tabs,omitempty"`
	Chat            []ChatMessage `json:"chat,omitempty"`
	LastActionError string        `json:"last_action_error,omitempty"`
	// ExtractionError carries a degraded-capture note (for example a settle
	// timeout). The observation is still usable.
	ExtractionError string    `json:"extraction_error,omitempty"`
	CapturedAt      time.Time `json:"captured_at"`
}

// HasElement reports whether the DOM channel contains the given bid.
func (o *Observation) HasElement(bid string) bool {
	if o == nil || o.DOM == nil {
		return false
	}
	for _, el := range o.DOM.Elements {
		if el.Bid == bid {
			return true
		}
	}
	return false
}

// Info is the free-form diagnostic mapping attached to reset and step results.
type Info map[string]any

// StepResult is the tuple produced by one environment step. Terminated and
// Truncated are distinct: termination is the task-defined end condition,
// truncation is the external step budget.
type StepResult struct {
	Observation Observation `json:"observation"`
	Reward      float64     `json:"reward"`
	Terminated  bool        `json:"terminated"`
	Truncated   bool        `json:"truncated"`
	Info        Info        `json:"info"`
}
