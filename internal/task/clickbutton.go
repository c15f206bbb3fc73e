package task

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"

	"github.com/pagegym/pagegym/api/schemas"
)

// ClickButtonTaskID is a synthetic single-page task: click the one button
// whose label the goal names.
const ClickButtonTaskID = "click-button"

var buttonLabels = []string{"Submit", "Continue", "Confirm", "Accept", "Start", "Proceed"}

type clickButtonTask struct {
	label  string
	decoys []string
}

// NewClickButtonFactory builds the click-button task. The seed picks the
// target label and the positions of the decoy buttons.
func NewClickButtonFactory() schemas.TaskFactory {
	return func(seed int64) (schemas.TaskSpec, error) {
		rng := rand.New(rand.NewSource(seed))
		labels := make([]string, len(buttonLabels))
		copy(labels, buttonLabels)
		rng.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })
		return &clickButtonTask{label: labels[0], decoys: labels[1:3]}, nil
	}
}

func (t *clickButtonTask) ID() string { return ClickButtonTaskID }

func (t *clickButtonTask) page() string {
	html := `<html><head><title>click-button</title></head><body><h1>Pick a button</h1>`
	buttons := append([]string{t.label}, t.decoys...)
	for _, label := range buttons {
		html += fmt.Sprintf(
			`<button onclick="window.__pagegym_clicked = %q">%s</button>`,
			label, label,
		)
	}
	html += `</body></html>`
	return "data:text/html," + url.PathEscape(html)
}

func (t *clickButtonTask) Setup(ctx context.Context, sess schemas.BrowserSession) (string, schemas.Info, error) {
	if err := sess.Navigate(ctx, t.page()); err != nil {
		return "", nil, err
	}
	goal := fmt.Sprintf("Click the button labeled %q.", t.label)
	return goal, schemas.Info{"target_label": t.label}, nil
}

func (t *clickButtonTask) Validate(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) (float64, bool, string, schemas.Info, error) {
	var clicked string
	if err := sess.Eval(ctx, "window.__pagegym_clicked || ''", &clicked); err != nil {
		return 0, false, "", nil, fmt.Errorf("%w: %v", schemas.ErrEvaluation, err)
	}
	if clicked == "" {
		return 0, false, "", nil, nil
	}
	if clicked == t.label {
		return 1, true, "Well done.", schemas.Info{"clicked": clicked}, nil
	}
	// Wrong button ends the episode without reward.
	return 0, true, fmt.Sprintf("You clicked %q instead of %q.", clicked, t.label), schemas.Info{"clicked": clicked}, nil
}

func (t *clickButtonTask) Teardown(ctx context.Context, sess schemas.BrowserSession) error {
	return nil
}

// Cheat clicks the target button directly.
func (t *clickButtonTask) Cheat(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) error {
	script := fmt.Sprintf(`(() => {
		for (const b of document.querySelectorAll('button')) {
			if (b.innerText.trim() === %q) { b.click(); return true; }
		}
		return false;
	})()`, t.label)
	var ok bool
	if err := sess.Eval(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("target button %q not found", t.label)
	}
	return nil
}
