package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
)

// recordingSession captures the calls the executor dispatches.
type recordingSession struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingSession) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

func (s *recordingSession) ID() string    { return "recording" }
func (s *recordingSession) Healthy() bool { return true }

func (s *recordingSession) Navigate(ctx context.Context, url string) error {
	s.record("navigate:" + url)
	return nil
}
func (s *recordingSession) Click(ctx context.Context, sel string) error {
	s.record("click:" + sel)
	return nil
}
func (s *recordingSession) Fill(ctx context.Context, sel, text string) error {
	s.record("fill:" + sel + ":" + text)
	return nil
}
func (s *recordingSession) SelectOption(ctx context.Context, sel, value string) error {
	s.record("select:" + sel + ":" + value)
	return nil
}
func (s *recordingSession) Scroll(ctx context.Context, dx, dy float64) error {
	s.record("scroll")
	return nil
}
func (s *recordingSession) PressKey(ctx context.Context, key string) error {
	s.record("key:" + key)
	return nil
}
func (s *recordingSession) NewTab(ctx context.Context) error { s.record("new_tab"); return nil }
func (s *recordingSession) SwitchTab(ctx context.Context, id string) error {
	s.record("switch_tab:" + id)
	return nil
}
func (s *recordingSession) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (s *recordingSession) HTML(ctx context.Context) (string, error)       { return "", nil }
func (s *recordingSession) AXTree(ctx context.Context) ([]schemas.AXNode, error) {
	return nil, nil
}
func (s *recordingSession) Screenshot(ctx context.Context) ([]byte, error)    { return nil, nil }
func (s *recordingSession) Tabs(ctx context.Context) ([]schemas.TabInfo, error) { return nil, nil }
func (s *recordingSession) Eval(ctx context.Context, script string, res any) error {
	return nil
}
func (s *recordingSession) Stabilize(ctx context.Context, quiet time.Duration) error { return nil }
func (s *recordingSession) Close(ctx context.Context) error                          { return nil }

func testObservation() *schemas.Observation {
	return &schemas.Observation{
		DOM: &schemas.DOMSnapshot{Elements: []schemas.Element{
			{Bid: "3", Tag: "button", Visible: true},
			{Bid: "7", Tag: "input", Visible: true},
		}},
	}
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(config.NewDefaultConfig(), zaptest.NewLogger(t))
}

func TestExecuteRejectsUnknownBid(t *testing.T) {
	e := newTestExecutor(t)
	sess := &recordingSession{}

	err := e.Execute(context.Background(), sess, schemas.Action{Kind: schemas.ActionClick, Bid: "42"}, testObservation())
	require.ErrorIs(t, err, schemas.ErrInvalidAction)
	assert.Empty(t, sess.calls, "no browser call may happen for a rejected action")
}

func TestExecuteRejectsStructurallyInvalid(t *testing.T) {
	e := newTestExecutor(t)
	sess := &recordingSession{}

	cases := []schemas.Action{
		{Kind: schemas.ActionClick},                  // missing bid
		{Kind: schemas.ActionNavigate},               // missing url
		{Kind: schemas.ActionSelectOption, Bid: "3"}, // missing option
		{Kind: schemas.ActionKind("teleport")},       // unknown kind
	}
	for _, act := range cases {
		t.Run(string(act.Kind), func(t *testing.T) {
			err := e.Execute(context.Background(), sess, act, testObservation())
			require.Error(t, err)
		})
	}
	assert.Empty(t, sess.calls)
}

func TestExecuteRejectsTerminalActions(t *testing.T) {
	e := newTestExecutor(t)
	err := e.Execute(context.Background(), &recordingSession{}, schemas.Action{
		Kind: schemas.ActionSendMessage, Text: "hi",
	}, testObservation())
	require.ErrorIs(t, err, schemas.ErrInvalidAction)
}

func TestExecuteDispatch(t *testing.T) {
	e := newTestExecutor(t)
	observation := testObservation()

	cases := []struct {
		name string
		act  schemas.Action
		want string
	}{
		{"click", schemas.Action{Kind: schemas.ActionClick, Bid: "3"}, `click:[data-pagegym-bid="3"]`},
		{"fill", schemas.Action{Kind: schemas.ActionFill, Bid: "7", Text: "hello"}, `fill:[data-pagegym-bid="7"]:hello`},
		{"select", schemas.Action{Kind: schemas.ActionSelectOption, Bid: "7", Option: "b"}, `select:[data-pagegym-bid="7"]:b`},
		{"navigate", schemas.Action{Kind: schemas.ActionNavigate, URL: "https://example.test"}, "navigate:https://example.test"},
		{"scroll", schemas.Action{Kind: schemas.ActionScroll, DeltaY: 200}, "scroll"},
		{"keypress", schemas.Action{Kind: schemas.ActionKeyPress, Key: "Enter"}, "key:Enter"},
		{"new_tab", schemas.Action{Kind: schemas.ActionNewTab}, "new_tab"},
		{"switch_tab", schemas.Action{Kind: schemas.ActionSwitchTab, TargetID: "t9"}, "switch_tab:t9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &recordingSession{}
			require.NoError(t, e.Execute(context.Background(), sess, tc.act, observation))
			assert.Equal(t, tc.want, sess.last(t))
		})
	}
}

func TestExecuteKeypressWithBidFocusesFirst(t *testing.T) {
	e := newTestExecutor(t)
	sess := &recordingSession{}

	require.NoError(t, e.Execute(context.Background(), sess, schemas.Action{
		Kind: schemas.ActionKeyPress, Bid: "7", Key: "Enter",
	}, testObservation()))

	require.Len(t, sess.calls, 2)
	assert.Equal(t, `click:[data-pagegym-bid="7"]`, sess.calls[0])
	assert.Equal(t, "key:Enter", sess.calls[1])
}

func TestExecuteWaitHonorsContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, &recordingSession{}, schemas.Action{Kind: schemas.ActionWait}, testObservation())
	require.ErrorIs(t, err, context.Canceled)
}
