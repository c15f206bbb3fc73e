package task

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/pagegym/pagegym/api/schemas"
)

// FillFormTaskID is a synthetic form task: type the requested phrase into the
// text field and submit.
const FillFormTaskID = "fill-form"

var formPhrases = []string{
	"quiet harbor", "amber signal", "paper lantern",
	"winter orbit", "copper meadow", "silent archive",
}

type fillFormTask struct {
	phrase string
}

// NewFillFormFactory builds the fill-form task. The seed picks the phrase.
func NewFillFormFactory() schemas.TaskFactory {
	return func(seed int64) (schemas.TaskSpec, error) {
		rng := rand.New(rand.NewSource(seed))
		return &fillFormTask{phrase: formPhrases[rng.Intn(len(formPhrases))]}, nil
	}
}

func (t *fillFormTask) ID() string { return FillFormTaskID }

func (t *fillFormTask) page() string {
	html := `<html><head><title>fill-form</title></head><body>` +
		`<form onsubmit="window.__pagegym_submitted = document.getElementById('phrase').value; return false;">` +
		`<label for="phrase">Phrase</label>` +
		`<input type="text" id="phrase" name="phrase">` +
		`<button type="submit">Send</button>` +
		`</form></body></html>`
	return "data:text/html," + url.PathEscape(html)
}

func (t *fillFormTask) Setup(ctx context.Context, sess schemas.BrowserSession) (string, schemas.Info, error) {
	if err := sess.Navigate(ctx, t.page()); err != nil {
		return "", nil, err
	}
	goal := fmt.Sprintf("Type %q into the phrase field and submit the form.", t.phrase)
	return goal, schemas.Info{"phrase": t.phrase}, nil
}

func (t *fillFormTask) Validate(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) (float64, bool, string, schemas.Info, error) {
	var submitted string
	if err := sess.Eval(ctx, "window.__pagegym_submitted || ''", &submitted); err != nil {
		return 0, false, "", nil, fmt.Errorf("%w: %v", schemas.ErrEvaluation, err)
	}
	if submitted == "" {
		return 0, false, "", nil, nil
	}
	if submitted == t.phrase {
		return 1, true, "Form submitted correctly.", schemas.Info{"submitted": submitted}, nil
	}
	// A wrong submission is recoverable; the agent may resubmit.
	return 0, false, "", schemas.Info{"submitted": submitted}, nil
}

func (t *fillFormTask) Teardown(ctx context.Context, sess schemas.BrowserSession) error {
	return nil
}

// Cheat fills and submits the form directly.
func (t *fillFormTask) Cheat(ctx context.Context, sess schemas.BrowserSession, chat []schemas.ChatMessage) error {
	script := fmt.Sprintf(`(() => {
		const input = document.getElementById('phrase');
		if (!input) return false;
		input.value = %q;
		input.form.dispatchEvent(new Event('submit', {cancelable: true}));
		window.__pagegym_submitted = input.value;
		return true;
	})()`, t.phrase)
	var ok bool
	if err := sess.Eval(ctx, script, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("phrase input not found")
	}
	return nil
}

// Hints narrows the viewport; the form page is small and renders fully at
// the reduced size.
func (t *fillFormTask) Hints() schemas.TaskHints {
	return schemas.TaskHints{
		ViewportWidth:  1024,
		ViewportHeight: 768,
		Timeout:        2 * time.Minute,
	}
}

var _ schemas.HintedTask = (*fillFormTask)(nil)
