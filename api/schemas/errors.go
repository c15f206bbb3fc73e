package schemas

import "errors"

// -- Error Taxonomy --
//
// Setup errors are fatal to the call that raised them and are never retried
// internally; transient extraction failures are degraded into the observation
// instead of raised; protocol violations leave episode state untouched;
// session loss forces termination through the guaranteed-teardown path.

var (
	// ErrUnknownTask is returned when resolving a task identifier that was
	// never registered.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrDuplicateTask is returned when registering a task identifier twice.
	ErrDuplicateTask = errors.New("task id already registered")

	// ErrSessionStart wraps browser process or driver launch failures.
	ErrSessionStart = errors.New("browser session start failed")

	// ErrSessionLost marks a session whose browser target is gone or whose
	// lifetime context has been canceled. Any in-flight operation observing
	// it must fail promptly instead of hanging.
	ErrSessionLost = errors.New("browser session lost")

	// ErrEpisodeNotReset signals a Step call on an environment that is
	// uninitialized or already done.
	ErrEpisodeNotReset = errors.New("episode not reset")

	// ErrInvalidAction signals an action whose parameters failed structural
	// validation against the last observation. The browser is not touched.
	ErrInvalidAction = errors.New("invalid action")

	// ErrUnsupportedAction signals an action kind outside the closed
	// operation set.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrExtractionTimeout marks an observation that could not be fully
	// captured before the extraction deadline. It is recorded inside the
	// observation rather than returned, so episodes continue on busy pages.
	ErrExtractionTimeout = errors.New("observation extraction timed out")

	// ErrEvaluation wraps a task evaluator failure or panic. The step
	// proceeds with a zero reward and the error surfaced in StepResult.Info.
	ErrEvaluation = errors.New("task evaluation failed")

	// ErrCheatUnsupported is returned by tasks that do not provide an oracle
	// solution.
	ErrCheatUnsupported = errors.New("task does not implement a cheat routine")
)
