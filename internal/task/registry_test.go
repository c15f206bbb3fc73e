package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegym/pagegym/api/schemas"
)

// pageSession is a minimal BrowserSession for exercising task logic.
type pageSession struct {
	navigated  string
	evalString string
	evalBool   bool
}

func (s *pageSession) ID() string    { return "page" }
func (s *pageSession) Healthy() bool { return true }

func (s *pageSession) Navigate(ctx context.Context, url string) error {
	s.navigated = url
	return nil
}
func (s *pageSession) Click(ctx context.Context, sel string) error           { return nil }
func (s *pageSession) Fill(ctx context.Context, sel, text string) error      { return nil }
func (s *pageSession) SelectOption(ctx context.Context, sel, v string) error { return nil }
func (s *pageSession) Scroll(ctx context.Context, dx, dy float64) error      { return nil }
func (s *pageSession) PressKey(ctx context.Context, key string) error        { return nil }
func (s *pageSession) NewTab(ctx context.Context) error                      { return nil }
func (s *pageSession) SwitchTab(ctx context.Context, id string) error        { return nil }
func (s *pageSession) CurrentURL(ctx context.Context) (string, error)        { return s.navigated, nil }
func (s *pageSession) HTML(ctx context.Context) (string, error)              { return "", nil }
func (s *pageSession) AXTree(ctx context.Context) ([]schemas.AXNode, error)  { return nil, nil }
func (s *pageSession) Screenshot(ctx context.Context) ([]byte, error)        { return nil, nil }
func (s *pageSession) Tabs(ctx context.Context) ([]schemas.TabInfo, error)   { return nil, nil }
func (s *pageSession) Eval(ctx context.Context, script string, res any) error {
	switch dst := res.(type) {
	case *string:
		*dst = s.evalString
	case *bool:
		*dst = s.evalBool
	}
	return nil
}
func (s *pageSession) Stabilize(ctx context.Context, quiet time.Duration) error { return nil }
func (s *pageSession) Close(ctx context.Context) error                          { return nil }

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	factory := func(seed int64) (schemas.TaskSpec, error) {
		return &openEndedTask{startURL: "about:blank"}, nil
	}

	require.Error(t, r.Register("", factory))
	require.NoError(t, r.Register(OpenEndedTaskID, factory))

	err := r.Register(OpenEndedTaskID, factory)
	require.ErrorIs(t, err, schemas.ErrDuplicateTask)

	spec, err := r.Resolve(OpenEndedTaskID, 0)
	require.NoError(t, err)
	assert.Equal(t, OpenEndedTaskID, spec.ID())

	_, err = r.Resolve("missing", 0)
	require.ErrorIs(t, err, schemas.ErrUnknownTask)
}

func TestRegistryRejectsMismatchedID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("impostor", func(seed int64) (schemas.TaskSpec, error) {
		return &openEndedTask{startURL: "about:blank"}, nil
	}))

	_, err := r.Resolve("impostor", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched id")
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewDefaultRegistry("about:blank")
	ids := r.IDs()
	assert.Equal(t, []string{ClickButtonTaskID, FillFormTaskID, OpenEndedTaskID}, ids)
}

func TestSeedDeterminism(t *testing.T) {
	r := NewDefaultRegistry("about:blank")
	ctx := context.Background()

	for _, id := range []string{ClickButtonTaskID, FillFormTaskID} {
		t.Run(id, func(t *testing.T) {
			a, err := r.Resolve(id, 42)
			require.NoError(t, err)
			b, err := r.Resolve(id, 42)
			require.NoError(t, err)

			goalA, _, err := a.Setup(ctx, &pageSession{})
			require.NoError(t, err)
			goalB, _, err := b.Setup(ctx, &pageSession{})
			require.NoError(t, err)
			assert.Equal(t, goalA, goalB, "equal seeds must produce identical goals")
		})
	}
}

func TestOpenEndedExitMessageEndsEpisode(t *testing.T) {
	spec, err := NewOpenEndedFactory("https://example.test")(0)
	require.NoError(t, err)
	sess := &pageSession{}

	goal, _, err := spec.Setup(context.Background(), sess)
	require.NoError(t, err)
	assert.NotEmpty(t, goal)
	assert.Equal(t, "https://example.test", sess.navigated)

	_, done, _, _, err := spec.Validate(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.False(t, done)

	chat := []schemas.ChatMessage{{Role: schemas.RoleUser, Message: " Exit "}}
	reward, done, _, _, err := spec.Validate(context.Background(), sess, chat)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, reward)

	require.ErrorIs(t, spec.Cheat(context.Background(), sess, nil), schemas.ErrCheatUnsupported)
}

func TestClickButtonValidation(t *testing.T) {
	spec, err := NewClickButtonFactory()(7)
	require.NoError(t, err)
	sess := &pageSession{}

	goal, info, err := spec.Setup(context.Background(), sess)
	require.NoError(t, err)
	target := info["target_label"].(string)
	assert.Contains(t, goal, target)

	t.Run("no click yet", func(t *testing.T) {
		reward, done, _, _, err := spec.Validate(context.Background(), sess, nil)
		require.NoError(t, err)
		assert.Zero(t, reward)
		assert.False(t, done)
	})

	t.Run("correct click", func(t *testing.T) {
		sess.evalString = target
		reward, done, _, _, err := spec.Validate(context.Background(), sess, nil)
		require.NoError(t, err)
		assert.Equal(t, 1.0, reward)
		assert.True(t, done)
	})

	t.Run("wrong click", func(t *testing.T) {
		sess.evalString = "Totally Wrong"
		reward, done, message, _, err := spec.Validate(context.Background(), sess, nil)
		require.NoError(t, err)
		assert.Zero(t, reward)
		assert.True(t, done)
		assert.Contains(t, message, "Totally Wrong")
	})
}

func TestFillFormValidation(t *testing.T) {
	spec, err := NewFillFormFactory()(3)
	require.NoError(t, err)
	sess := &pageSession{}

	_, info, err := spec.Setup(context.Background(), sess)
	require.NoError(t, err)
	phrase := info["phrase"].(string)

	sess.evalString = "wrong words"
	reward, done, _, _, err := spec.Validate(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.Zero(t, reward)
	assert.False(t, done, "a wrong submission must stay recoverable")

	sess.evalString = phrase
	reward, done, _, _, err = spec.Validate(context.Background(), sess, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, reward)
	assert.True(t, done)

	hinted, ok := spec.(schemas.HintedTask)
	require.True(t, ok)
	assert.Equal(t, 1024, hinted.Hints().ViewportWidth)
}
