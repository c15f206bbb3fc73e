package env

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
)

// evaluateLocked runs the task validator with panic isolation. A validator
// failure never crashes the environment: the step continues with zero reward
// and the fault recorded in info.
func (e *Env) evaluateLocked(ctx context.Context, info schemas.Info) (reward float64, done bool, _ schemas.Info) {
	var (
		message  string
		taskInfo schemas.Info
		err      error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: validator panicked: %v", schemas.ErrEvaluation, r)
			}
		}()
		reward, done, message, taskInfo, err = e.spec.Validate(ctx, e.sess, e.chat)
	}()

	if err != nil {
		e.logger.Warn("Task validation failed.",
			zap.String("episode_id", e.episodeID), zap.Error(err))
		info["evaluation_error"] = err.Error()
		return 0, false, info
	}

	if message != "" {
		e.chat = append(e.chat, schemas.ChatMessage{
			Role:      schemas.RoleAssistant,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	}
	for k, v := range taskInfo {
		info["task."+k] = v
	}
	return reward, done, info
}
