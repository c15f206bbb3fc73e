package schemas

import (
	"context"
	"time"
)

// -- Browser Interfaces --

// BrowserSession is the driver-facing capability a live session exposes.
// Selectors are CSS. Implementations must check liveness cooperatively and
// fail with ErrSessionLost instead of hanging once the target is gone.
type BrowserSession interface {
	ID() string
	Healthy() bool

	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, deltaX, deltaY float64) error
	PressKey(ctx context.Context, key string) error
	NewTab(ctx context.Context) error
	SwitchTab(ctx context.Context, targetID string) error

	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	AXTree(ctx context.Context) ([]AXNode, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Tabs(ctx context.Context) ([]TabInfo, error)
	Eval(ctx context.Context, script string, res any) error

	// Stabilize blocks until the page settles (DOM ready and the network
	// quiet for quietPeriod) or ctx expires.
	Stabilize(ctx context.Context, quietPeriod time.Duration) error

	Close(ctx context.Context) error
}

// SessionManager owns the browser process and hands out exclusive sessions.
type SessionManager interface {
	// Acquire returns a fresh session. Launch failures wrap ErrSessionStart.
	Acquire(ctx context.Context) (BrowserSession, error)
	// Release tears the session down. Safe to call on an already-dead
	// session; must never leave a browser target behind.
	Release(ctx context.Context, sess BrowserSession) error
	// Shutdown closes every outstanding session and the browser process.
	Shutdown(ctx context.Context) error
}

// -- Task Interfaces --

// TaskSpec is the capability interface a benchmark task implements. Specs are
// immutable once registered; per-episode state lives in the value a factory
// builds for each seed.
type TaskSpec interface {
	// ID returns the unique task identifier.
	ID() string

	// Setup prepares the initial page state inside the session and returns
	// the goal text plus task-specific context info.
	Setup(ctx context.Context, sess BrowserSession) (goal string, info Info, err error)

	// Validate computes the reward earned since the last call, whether the
	// task has finished, and an optional new assistant chat message. It must
	// not mutate the session.
	Validate(ctx context.Context, sess BrowserSession, chat []ChatMessage) (reward float64, done bool, message string, info Info, err error)

	// Teardown releases anything Setup created. Called exactly once per
	// episode, on reset and on close.
	Teardown(ctx context.Context, sess BrowserSession) error

	// Cheat drives the session through a known-good solution, when the task
	// provides one. Others return ErrCheatUnsupported.
	Cheat(ctx context.Context, sess BrowserSession, chat []ChatMessage) error
}

// TaskHints are optional per-task environment overrides, mirroring the
// viewport/timeout properties tasks may declare.
type TaskHints struct {
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
}

// HintedTask is implemented by tasks that override environment defaults.
type HintedTask interface {
	Hints() TaskHints
}

// ConsoleReporter is implemented by sessions that collect page console
// output. DrainConsoleErrors returns the error-level messages captured since
// the previous drain and clears the buffer, so each step reports only fresh
// page faults.
type ConsoleReporter interface {
	DrainConsoleErrors() []string
}

// TaskFactory builds a fresh, seeded task instance for one episode. Equal
// seeds must produce identical task parameters.
type TaskFactory func(seed int64) (TaskSpec, error)

// -- Persistence Interfaces --

// EpisodeRecord captures the identity of one episode for persistence.
type EpisodeRecord struct {
	EpisodeID string    `json:"episode_id"`
	TaskID    string    `json:"task_id"`
	Seed      int64     `json:"seed"`
	StartedAt time.Time `json:"started_at"`
}

// StepRecord captures one step's outcome for persistence.
type StepRecord struct {
	EpisodeID  string    `json:"episode_id"`
	Step       int       `json:"step"`
	Action     string    `json:"action"`
	Reward     float64   `json:"reward"`
	Terminated bool      `json:"terminated"`
	Truncated  bool      `json:"truncated"`
	URL        string    `json:"url"`
	Info       Info      `json:"info,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EpisodeSummary closes out a persisted episode.
type EpisodeSummary struct {
	EpisodeID        string    `json:"episode_id"`
	Steps            int       `json:"steps"`
	CumulativeReward float64   `json:"cumulative_reward"`
	Terminated       bool      `json:"terminated"`
	Truncated        bool      `json:"truncated"`
	FinishedAt       time.Time `json:"finished_at"`
}

// EpisodeStore persists episode trajectories for later analysis.
type EpisodeStore interface {
	BeginEpisode(ctx context.Context, rec EpisodeRecord) error
	RecordStep(ctx context.Context, rec StepRecord) error
	FinishEpisode(ctx context.Context, sum EpisodeSummary) error
}
