package browser

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pagegym/pagegym/internal/config"
)

// These tests launch a real Chrome process.

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}

	cfg := config.NewDefaultConfig()
	m := NewManager(context.Background(), cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(shutdownCtx))
	})
	return m
}

func dataURL(html string) string {
	return "data:text/html," + url.PathEscape(html)
}

func TestManagerSessionLifecycle(t *testing.T) {
	m := setupTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, sess.Healthy())

	require.NoError(t, sess.Navigate(ctx, dataURL("<html><body><h1>hello</h1></body></html>")))

	html, err := sess.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "hello")

	shot, err := sess.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	tree, err := sess.AXTree(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tree)

	require.NoError(t, m.Release(ctx, sess))
	assert.False(t, sess.Healthy())

	// Release is idempotent.
	require.NoError(t, m.Release(ctx, sess))
}

func TestSessionIsolation(t *testing.T) {
	m := setupTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer m.Release(ctx, a)

	b, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer m.Release(ctx, b)

	// State written in one session must not leak into the other.
	require.NoError(t, a.Navigate(ctx, dataURL("<html><body></body></html>")))
	require.NoError(t, b.Navigate(ctx, dataURL("<html><body></body></html>")))
	require.NoError(t, a.Eval(ctx, `localStorage.setItem('who', 'session-a')`, nil))

	var who string
	require.NoError(t, b.Eval(ctx, `localStorage.getItem('who') || ''`, &who))
	assert.Empty(t, who)

	// Each session sees only its own tabs.
	tabsA, err := a.Tabs(ctx)
	require.NoError(t, err)
	assert.Len(t, tabsA, 1)
}

func TestSessionTabManagement(t *testing.T) {
	m := setupTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := m.Acquire(ctx)
	require.NoError(t, err)
	defer m.Release(ctx, sess)

	require.NoError(t, sess.Navigate(ctx, dataURL("<html><body>first</body></html>")))
	require.NoError(t, sess.NewTab(ctx))

	tabs, err := sess.Tabs(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 2)

	var inactive string
	for _, tab := range tabs {
		if !tab.Active {
			inactive = tab.TargetID
		}
	}
	require.NotEmpty(t, inactive)
	require.NoError(t, sess.SwitchTab(ctx, inactive))

	html, err := sess.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "first")

	require.Error(t, sess.SwitchTab(ctx, "no-such-target"))
}
