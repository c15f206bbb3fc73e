// Package env implements the episodic browser environment: the reset/step/
// close protocol over a live browser session, a task, and an evaluator.
package env

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/action"
	"github.com/pagegym/pagegym/internal/artifacts"
	"github.com/pagegym/pagegym/internal/config"
	"github.com/pagegym/pagegym/internal/obs"
	"github.com/pagegym/pagegym/internal/task"
)

// State is the environment lifecycle state.
type State int

const (
	// StateUninitialized means no episode has been started yet, or the
	// previous one has been closed.
	StateUninitialized State = iota
	// StateReady means an episode is live and accepting steps.
	StateReady
	// StateDone means the episode finished; only Reset or Close are legal.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Env is the episodic environment. One Env drives at most one live episode
// at a time; its methods are safe for concurrent use but serialize.
type Env struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *task.Registry
	manager   schemas.SessionManager
	extractor *obs.Extractor
	executor  *action.Executor
	store     schemas.EpisodeStore
	sink      artifacts.Sink

	// closing and live sit outside mu so Close can kill the session while a
	// Step holds the lock.
	closing atomic.Bool
	sessMu  sync.Mutex
	live    schemas.BrowserSession

	mu        sync.Mutex
	state     State
	episodeID string
	taskID    string
	seed      int64
	spec      schemas.TaskSpec
	sess      schemas.BrowserSession
	goal      string
	chat      []schemas.ChatMessage
	lastObs   *schemas.Observation
	lastErr   string
	stepCount int
	maxSteps  int
	deadline  time.Time
	reward    float64
	closed    bool
}

// Option customizes environment construction.
type Option func(*Env)

// WithStore attaches an episode store; trajectories are persisted to it.
func WithStore(s schemas.EpisodeStore) Option {
	return func(e *Env) {
		if s != nil {
			e.store = s
		}
	}
}

// WithArtifactSink attaches an artifact sink; per-step screenshots and HTML
// are written to it.
func WithArtifactSink(s artifacts.Sink) Option {
	return func(e *Env) {
		if s != nil {
			e.sink = s
		}
	}
}

// New builds an environment over the given session manager and registry.
func New(cfg *config.Config, logger *zap.Logger, registry *task.Registry, manager schemas.SessionManager, opts ...Option) *Env {
	e := &Env{
		cfg:       cfg,
		logger:    logger.Named("env"),
		registry:  registry,
		manager:   manager,
		extractor: obs.NewExtractor(cfg, logger),
		executor:  action.NewExecutor(cfg, logger),
		store:     nopStore{},
		sink:      artifacts.NopSink{},
		state:     StateUninitialized,
		maxSteps:  cfg.Env.MaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Env) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// EpisodeID returns the identifier of the current episode, or "" when no
// episode is live.
func (e *Env) EpisodeID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.episodeID
}

// Reset starts a new episode of the given task. A live episode is torn down
// first; its session is always released, even when the new setup fails.
func (e *Env) Reset(ctx context.Context, taskID string, seed int64) (schemas.Observation, schemas.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return schemas.Observation{}, nil, fmt.Errorf("%w: environment is closed", schemas.ErrEpisodeNotReset)
	}

	e.teardownEpisodeLocked(ctx)

	spec, err := e.registry.Resolve(taskID, seed)
	if err != nil {
		return schemas.Observation{}, nil, err
	}

	sess, err := e.manager.Acquire(ctx)
	if err != nil {
		return schemas.Observation{}, nil, err
	}
	e.setLive(sess)

	episodeID := uuid.New().String()
	log := e.logger.With(
		zap.String("episode_id", episodeID),
		zap.String("task_id", taskID),
		zap.Int64("seed", seed),
	)
	log.Info("Starting episode.")

	goal, setupInfo, err := spec.Setup(ctx, sess)
	if err != nil {
		log.Error("Task setup failed; releasing session.", zap.Error(err))
		e.releaseSession(ctx, sess)
		return schemas.Observation{}, nil, fmt.Errorf("task setup failed: %w", err)
	}

	e.state = StateReady
	e.episodeID = episodeID
	e.taskID = taskID
	e.seed = seed
	e.spec = spec
	e.sess = sess
	e.goal = goal
	e.chat = nil
	e.lastErr = ""
	e.stepCount = 0
	e.reward = 0
	e.maxSteps = e.cfg.Env.MaxSteps
	if e.maxSteps <= 0 {
		e.maxSteps = 50
	}
	e.deadline = time.Time{}
	if hinted, ok := spec.(schemas.HintedTask); ok {
		if timeout := hinted.Hints().Timeout; timeout > 0 {
			e.deadline = time.Now().Add(timeout)
		}
	}

	observation, err := e.extractor.Extract(ctx, sess, goal, nil, "")
	if err != nil {
		log.Error("Session lost during initial extraction.", zap.Error(err))
		e.abandonEpisodeLocked(ctx)
		return schemas.Observation{}, nil, err
	}
	obsCopy := observation
	e.lastObs = &obsCopy

	if err := e.store.BeginEpisode(ctx, schemas.EpisodeRecord{
		EpisodeID: episodeID,
		TaskID:    taskID,
		Seed:      seed,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn("Episode store rejected begin record.", zap.Error(err))
	}
	e.saveArtifacts(0, &observation)

	info := schemas.Info{
		"episode_id": episodeID,
		"task_id":    taskID,
		"seed":       seed,
	}
	for k, v := range setupInfo {
		info[k] = v
	}
	return observation, info, nil
}

// Step executes one action and returns the resulting transition.
func (e *Env) Step(ctx context.Context, act schemas.Action) (schemas.StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUninitialized:
		return schemas.StepResult{}, schemas.ErrEpisodeNotReset
	case StateDone:
		return schemas.StepResult{}, fmt.Errorf("%w: episode already finished", schemas.ErrEpisodeNotReset)
	}

	log := e.logger.With(zap.String("episode_id", e.episodeID), zap.Int("step", e.stepCount+1))
	log.Debug("Stepping", zap.Stringer("action", act))

	info := schemas.Info{"action": act.String()}
	lastActionError := ""
	terminated := false
	sessionLost := false

	switch {
	case act.Terminal():
		e.appendTerminalMessage(act)
		terminated = true
	case !e.sess.Healthy():
		log.Error("Session died between steps.")
		sessionLost = true
	default:
		if err := e.executor.Execute(ctx, e.sess, act, e.lastObs); err != nil {
			switch {
			case errors.Is(err, schemas.ErrInvalidAction), errors.Is(err, schemas.ErrUnsupportedAction):
				// Protocol violations are rejected outright: no step budget
				// consumed, no evaluation, episode state untouched.
				log.Debug("Rejecting malformed action.", zap.Error(err))
				return schemas.StepResult{}, err
			case errors.Is(err, schemas.ErrSessionLost):
				log.Error("Session lost during action execution.", zap.Error(err))
				sessionLost = true
			default:
				// Failed page interactions do not end the episode; the agent
				// sees the error in the next observation.
				lastActionError = err.Error()
				log.Debug("Action failed.", zap.Error(err))
			}
		}
	}

	e.stepCount++
	stepNo := e.stepCount

	reward := 0.0
	if !sessionLost {
		var done bool
		reward, done, info = e.evaluateLocked(ctx, info)
		terminated = terminated || done
	}
	e.reward += reward

	// Truncation is reported independently of termination: an episode that
	// the evaluator ends on its final budgeted step carries both signals.
	truncated := false
	if e.stepCount >= e.maxSteps {
		truncated = true
		info["truncation_reason"] = "max_steps"
	} else if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		truncated = true
		info["truncation_reason"] = "timeout"
	}

	var observation schemas.Observation
	if sessionLost {
		terminated = true
		info["session_lost"] = true
		if e.lastObs != nil {
			observation = *e.lastObs
		}
		observation.Goal = e.goal
		observation.Chat = e.chat
		observation.ExtractionError = "session lost"
	} else {
		var err error
		observation, err = e.extractor.Extract(ctx, e.sess, e.goal, e.chat, lastActionError)
		if err != nil {
			log.Error("Session lost during extraction.", zap.Error(err))
			sessionLost = true
			terminated = true
			info["session_lost"] = true
			observation.Goal = e.goal
			observation.Chat = e.chat
			observation.ExtractionError = "session lost"
		}
	}
	obsCopy := observation
	e.lastObs = &obsCopy
	e.lastErr = lastActionError

	if reporter, ok := e.sess.(schemas.ConsoleReporter); ok && !sessionLost {
		if consoleErrs := reporter.DrainConsoleErrors(); len(consoleErrs) > 0 {
			info["console_errors"] = consoleErrs
		}
	}

	if err := e.store.RecordStep(ctx, schemas.StepRecord{
		EpisodeID:  e.episodeID,
		Step:       stepNo,
		Action:     act.String(),
		Reward:     reward,
		Terminated: terminated,
		Truncated:  truncated,
		URL:        observation.URL,
		Info:       info,
		RecordedAt: time.Now().UTC(),
	}); err != nil {
		log.Warn("Episode store rejected step record.", zap.Error(err))
	}
	if !sessionLost {
		e.saveArtifacts(stepNo, &observation)
	}

	if terminated || truncated {
		log.Info("Episode finished.",
			zap.Bool("terminated", terminated),
			zap.Bool("truncated", truncated),
			zap.Float64("cumulative_reward", e.reward))
		e.finishEpisodeLocked(ctx, terminated, truncated)
	}

	return schemas.StepResult{
		Observation: observation,
		Reward:      reward,
		Terminated:  terminated,
		Truncated:   truncated,
		Info:        info,
	}, nil
}

// appendTerminalMessage records the chat entry a terminal meta-action carries.
func (e *Env) appendTerminalMessage(act schemas.Action) {
	role := schemas.RoleAssistant
	if act.Kind == schemas.ActionReportInfeasible {
		role = schemas.RoleInfeasible
	}
	e.chat = append(e.chat, schemas.ChatMessage{
		Role:      role,
		Message:   act.Text,
		Timestamp: time.Now().UTC(),
	})
}

// SendUserMessage appends a user message to the episode chat. Tasks see it on
// the next validation.
func (e *Env) SendUserMessage(message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return schemas.ErrEpisodeNotReset
	}
	e.chat = append(e.chat, schemas.ChatMessage{
		Role:      schemas.RoleUser,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Chat returns a copy of the current episode transcript.
func (e *Env) Chat() []schemas.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.ChatMessage, len(e.chat))
	copy(out, e.chat)
	return out
}

// Cheat drives the current task's reference solution, when it has one.
func (e *Env) Cheat(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return schemas.ErrEpisodeNotReset
	}
	return e.spec.Cheat(ctx, e.sess, e.chat)
}

// Close ends any live episode and releases its session. Idempotent; the
// environment cannot be used afterwards. A Step in flight when Close is
// called observes the session loss at its next browser operation and still
// finishes with its normal session-lost teardown.
func (e *Env) Close(ctx context.Context) error {
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Kill the live session before taking the step mutex, so a Step holding
	// it fails over to its session-lost path instead of running the episode
	// out against a closing environment.
	e.sessMu.Lock()
	live := e.live
	e.sessMu.Unlock()
	if live != nil {
		if err := live.Close(ctx); err != nil {
			e.logger.Warn("Session close failed.", zap.Error(err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.teardownEpisodeLocked(ctx)
	e.logger.Info("Environment closed.")
	return nil
}

// saveArtifacts writes the step's screenshot and HTML to the sink.
func (e *Env) saveArtifacts(step int, observation *schemas.Observation) {
	var html string
	if observation.DOM != nil {
		html = observation.DOM.HTML
	}
	if err := e.sink.SaveStep(e.episodeID, step, observation.Screenshot, html); err != nil {
		e.logger.Warn("Failed to write step artifacts.", zap.Error(err))
	}
}

// finishEpisodeLocked closes out the episode after a terminal or truncating
// step: task teardown, session release, store summary.
func (e *Env) finishEpisodeLocked(ctx context.Context, terminated, truncated bool) {
	if err := e.store.FinishEpisode(ctx, schemas.EpisodeSummary{
		EpisodeID:        e.episodeID,
		Steps:            e.stepCount,
		CumulativeReward: e.reward,
		Terminated:       terminated,
		Truncated:        truncated,
		FinishedAt:       time.Now().UTC(),
	}); err != nil {
		e.logger.Warn("Episode store rejected summary.", zap.Error(err))
	}
	e.releaseEpisodeResourcesLocked(ctx)
	e.state = StateDone
}

// teardownEpisodeLocked releases any live episode without recording a
// summary beyond what has already been written. Used by Reset and Close.
func (e *Env) teardownEpisodeLocked(ctx context.Context) {
	if e.sess == nil && e.spec == nil {
		e.state = StateUninitialized
		return
	}
	if e.state == StateReady {
		if err := e.store.FinishEpisode(ctx, schemas.EpisodeSummary{
			EpisodeID:        e.episodeID,
			Steps:            e.stepCount,
			CumulativeReward: e.reward,
			Terminated:       false,
			Truncated:        true,
			FinishedAt:       time.Now().UTC(),
		}); err != nil {
			e.logger.Warn("Episode store rejected summary.", zap.Error(err))
		}
	}
	e.releaseEpisodeResourcesLocked(ctx)
	e.state = StateUninitialized
}

// abandonEpisodeLocked unwinds a reset that failed after session acquisition.
func (e *Env) abandonEpisodeLocked(ctx context.Context) {
	e.releaseEpisodeResourcesLocked(ctx)
	e.state = StateUninitialized
}

// releaseEpisodeResourcesLocked runs task teardown and releases the session.
// Both are best-effort; the session release always happens.
func (e *Env) releaseEpisodeResourcesLocked(ctx context.Context) {
	if e.spec != nil && e.sess != nil {
		if err := e.spec.Teardown(ctx, e.sess); err != nil {
			e.logger.Warn("Task teardown failed.", zap.Error(err))
		}
	}
	if e.sess != nil {
		e.releaseSession(ctx, e.sess)
	}
	e.spec = nil
	e.sess = nil
	e.lastObs = nil
	e.episodeID = ""
}

func (e *Env) releaseSession(ctx context.Context, sess schemas.BrowserSession) {
	// Release must succeed even when the caller's context is already dead.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.manager.Release(releaseCtx, sess); err != nil {
		e.logger.Warn("Session release failed.", zap.Error(err))
	}
	e.setLive(nil)
}

func (e *Env) setLive(sess schemas.BrowserSession) {
	e.sessMu.Lock()
	e.live = sess
	e.sessMu.Unlock()
}

// nopStore discards all records.
type nopStore struct{}

func (nopStore) BeginEpisode(context.Context, schemas.EpisodeRecord) error   { return nil }
func (nopStore) RecordStep(context.Context, schemas.StepRecord) error        { return nil }
func (nopStore) FinishEpisode(context.Context, schemas.EpisodeSummary) error { return nil }
