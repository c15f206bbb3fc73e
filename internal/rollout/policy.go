package rollout

import (
	"context"
	"sync"

	"github.com/pagegym/pagegym/api/schemas"
)

// ScriptedPolicy replays a fixed action sequence, then reports the task
// infeasible. Useful for smoke runs and deterministic fixtures.
type ScriptedPolicy struct {
	mu      sync.Mutex
	actions []schemas.Action
	next    int
}

// NewScriptedPolicy builds a policy over the given sequence.
func NewScriptedPolicy(actions []schemas.Action) *ScriptedPolicy {
	return &ScriptedPolicy{actions: actions}
}

// NextAction returns the next scripted action, or report_infeasible once the
// script is exhausted.
func (p *ScriptedPolicy) NextAction(ctx context.Context, observation schemas.Observation) (schemas.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.actions) {
		return schemas.Action{
			Kind: schemas.ActionReportInfeasible,
			Text: "script exhausted",
		}, nil
	}
	act := p.actions[p.next]
	p.next++
	return act, nil
}

// ClickFirstPolicy clicks the first visible element of each observation. A
// trivial baseline for exercising the full loop against real pages.
type ClickFirstPolicy struct{}

// NextAction picks the first visible element, scrolling when none qualify.
func (ClickFirstPolicy) NextAction(ctx context.Context, observation schemas.Observation) (schemas.Action, error) {
	if observation.DOM != nil {
		for _, el := range observation.DOM.Elements {
			if el.Visible {
				return schemas.Action{Kind: schemas.ActionClick, Bid: el.Bid}, nil
			}
		}
	}
	return schemas.Action{Kind: schemas.ActionScroll, DeltaY: 400}, nil
}
