// Package action translates validated actions into browser operations.
package action

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
	"github.com/pagegym/pagegym/internal/obs"
)

// Executor dispatches actions against a session. Element-targeting actions
// are validated strictly: a bid must exist in the observation the caller
// last received, so an agent can only act on what it has seen.
type Executor struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewExecutor builds an executor from the environment configuration.
func NewExecutor(cfg *config.Config, logger *zap.Logger) *Executor {
	timeout := cfg.Env.ActionTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Executor{
		logger:  logger.Named("action"),
		timeout: timeout,
	}
}

// bidSelector addresses the element carrying the given bid.
func bidSelector(bid string) string {
	return fmt.Sprintf(`[%s=%q]`, obs.BidAttribute, bid)
}

// Execute validates the action against the last observation and performs it.
// Terminal meta-actions (send_msg, report_infeasible) never reach the
// executor; they are resolved by the environment before dispatch.
func (e *Executor) Execute(
	ctx context.Context,
	sess schemas.BrowserSession,
	act schemas.Action,
	lastObs *schemas.Observation,
) error {

	if err := act.Validate(); err != nil {
		return err
	}
	if act.Terminal() {
		return fmt.Errorf("%w: terminal action %q reached the executor", schemas.ErrInvalidAction, act.Kind)
	}
	if act.Bid != "" && !lastObs.HasElement(act.Bid) {
		return fmt.Errorf("%w: bid %q not present in the last observation", schemas.ErrInvalidAction, act.Bid)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("Executing action", zap.Stringer("action", act))

	switch act.Kind {
	case schemas.ActionClick:
		return sess.Click(execCtx, bidSelector(act.Bid))
	case schemas.ActionFill:
		return sess.Fill(execCtx, bidSelector(act.Bid), act.Text)
	case schemas.ActionSelectOption:
		return sess.SelectOption(execCtx, bidSelector(act.Bid), act.Option)
	case schemas.ActionNavigate:
		return sess.Navigate(execCtx, act.URL)
	case schemas.ActionScroll:
		return sess.Scroll(execCtx, act.DeltaX, act.DeltaY)
	case schemas.ActionKeyPress:
		if act.Bid != "" {
			if err := sess.Click(execCtx, bidSelector(act.Bid)); err != nil {
				return fmt.Errorf("failed to focus %q before keypress: %w", act.Bid, err)
			}
		}
		return sess.PressKey(execCtx, act.Key)
	case schemas.ActionNewTab:
		return sess.NewTab(execCtx)
	case schemas.ActionSwitchTab:
		return sess.SwitchTab(execCtx, act.TargetID)
	case schemas.ActionWait:
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-execCtx.Done():
			return execCtx.Err()
		}
	default:
		return fmt.Errorf("%w: %q", schemas.ErrUnsupportedAction, act.Kind)
	}
}
