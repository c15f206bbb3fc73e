package task

import (
	"context"
	"strings"

	"github.com/pagegym/pagegym/api/schemas"
)

// OpenEndedTaskID is the free-form task: the goal arrives through the chat
// and the episode ends when the user says so.
const OpenEndedTaskID = "openended"

type openEndedTask struct {
	startURL string
}

// NewOpenEndedFactory builds the open-ended task anchored at startURL.
func NewOpenEndedFactory(startURL string) schemas.TaskFactory {
	return func(seed int64) (schemas.TaskSpec, error) {
		return &openEndedTask{startURL: startURL}, nil
	}
}

func (t *openEndedTask) ID() string { return OpenEndedTaskID }

func (t *openEndedTask) Setup(ctx context.Context, sess schemas.BrowserSession) (string, schemas.Info, error) {
	if err := sess.Navigate(ctx, t.startURL); err != nil {
		return "", nil, err
	}
	goal := "Follow the instructions provided in the chat."
	return goal, schemas.Info{"start_url": t.startURL}, nil
}

// Validate never scores on its own; the episode ends when the user sends an
// "exit" message through the chat.
func (t *openEndedTask) Validate(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) (float64, bool, string, schemas.Info, error) {
	for _, msg := range chat {
		if msg.Role == schemas.RoleUser && strings.EqualFold(strings.TrimSpace(msg.Message), "exit") {
			return 0, true, "", nil, nil
		}
	}
	return 0, false, "", nil, nil
}

func (t *openEndedTask) Teardown(ctx context.Context, sess schemas.BrowserSession) error {
	return nil
}

func (t *openEndedTask) Cheat(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) error {
	return schemas.ErrCheatUnsupported
}
