package schemas

import "fmt"

// ActionKind enumerates the closed operation set the executor accepts.
type ActionKind string

const (
	ActionClick            ActionKind = "click"
	ActionFill             ActionKind = "fill"
	ActionSelectOption     ActionKind = "select_option"
	ActionNavigate         ActionKind = "navigate"
	ActionScroll           ActionKind = "scroll"
	ActionKeyPress         ActionKind = "keypress"
	ActionNewTab           ActionKind = "new_tab"
	ActionSwitchTab        ActionKind = "switch_tab"
	ActionWait             ActionKind = "noop"
	ActionSendMessage      ActionKind = "send_msg"
	ActionReportInfeasible ActionKind = "report_infeasible"
)

// Action is the tagged variant over operation kinds. Kind selects the
// operation; only the fields that operation uses are consulted.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Bid targets an element from the last observation (click, fill,
	// select_option, keypress with focus).
	Bid string `json:"bid,omitempty"`

	// Text is the fill payload, the chat message, or the infeasibility reason.
	Text string `json:"text,omitempty"`

	// Option is the value chosen by select_option.
	Option string `json:"option,omitempty"`

	// URL is the navigation target.
	URL string `json:"url,omitempty"`

	// DeltaX/DeltaY are the scroll amounts in CSS pixels.
	DeltaX float64 `json:"delta_x,omitempty"`
	DeltaY float64 `json:"delta_y,omitempty"`

	// Key is the key to press (chromedp/kb notation, e.g. "Enter").
	Key string `json:"key,omitempty"`

	// TargetID selects the tab for switch_tab.
	TargetID string `json:"target_id,omitempty"`
}

// Terminal reports whether the action is a terminal meta-action that ends the
// episode without touching the page.
func (a Action) Terminal() bool {
	return a.Kind == ActionSendMessage || a.Kind == ActionReportInfeasible
}

// String renders a compact human-readable form for logs and action history.
func (a Action) String() string {
	switch a.Kind {
	case ActionClick:
		return fmt.Sprintf("click(%s)", a.Bid)
	case ActionFill:
		return fmt.Sprintf("fill(%s, %q)", a.Bid, a.Text)
	case ActionSelectOption:
		return fmt.Sprintf("select_option(%s, %q)", a.Bid, a.Option)
	case ActionNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	case ActionScroll:
		return fmt.Sprintf("scroll(%.0f, %.0f)", a.DeltaX, a.DeltaY)
	case ActionKeyPress:
		return fmt.Sprintf("keypress(%s)", a.Key)
	case ActionSwitchTab:
		return fmt.Sprintf("switch_tab(%s)", a.TargetID)
	case ActionSendMessage:
		return fmt.Sprintf("send_msg(%q)", a.Text)
	case ActionReportInfeasible:
		return fmt.Sprintf("report_infeasible(%q)", a.Text)
	default:
		return string(a.Kind)
	}
}

// Validate performs the structural checks that do not need page state.
// Element existence is checked separately against the last observation.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionClick:
		if a.Bid == "" {
			return fmt.Errorf("%w: click requires a bid", ErrInvalidAction)
		}
	case ActionFill:
		if a.Bid == "" {
			return fmt.Errorf("%w: fill requires a bid", ErrInvalidAction)
		}
	case ActionSelectOption:
		if a.Bid == "" || a.Option == "" {
			return fmt.Errorf("%w: select_option requires a bid and an option", ErrInvalidAction)
		}
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("%w: navigate requires a url", ErrInvalidAction)
		}
	case ActionKeyPress:
		if a.Key == "" {
			return fmt.Errorf("%w: keypress requires a key", ErrInvalidAction)
		}
	case ActionSwitchTab:
		if a.TargetID == "" {
			return fmt.Errorf("%w: switch_tab requires a target id", ErrInvalidAction)
		}
	case ActionScroll, ActionNewTab, ActionWait, ActionSendMessage, ActionReportInfeasible:
		// No structural requirements.
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Kind)
	}
	return nil
}
