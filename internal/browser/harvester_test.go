package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWaitNetworkIdleWhenQuiet(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, h.WaitNetworkIdle(ctx, 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"the quiet period must elapse before idle is reported")
}

func TestWaitNetworkIdleBlocksOnInflightRequests(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t))
	h.markInflight("req-1")
	assert.Equal(t, 1, h.InflightCount())

	// Clear the request after a delay; idle must not be reported before.
	go func() {
		time.Sleep(250 * time.Millisecond)
		h.clearInflight("req-1")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, h.WaitNetworkIdle(ctx, 100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Zero(t, h.InflightCount())
}

func TestWaitNetworkIdleHonorsContext(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t))
	h.markInflight("req-stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := h.WaitNetworkIdle(ctx, time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t))
	h.Stop()
	h.Stop()
}

func TestConsoleLogCollection(t *testing.T) {
	h := NewHarvester(context.Background(), zaptest.NewLogger(t))

	h.append(ConsoleLog{Type: "log", Text: "hello", Source: "console-api"})
	h.append(ConsoleLog{Type: "error", Text: "boom", Source: "exception"})

	require.Len(t, h.ConsoleLogs(), 2)

	errs := h.ConsoleErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, "boom", errs[0].Text)

	h.DrainConsole()
	assert.Empty(t, h.ConsoleLogs())
}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancellation propagates", func(t *testing.T) {
		parent := context.Background()
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(parent, secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe secondary cancellation")
		}
	})

	t.Run("parent cancellation propagates", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		combined, cancel := CombineContext(parent, context.Background())
		defer cancel()

		cancelParent()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe parent cancellation")
		}
	})

	t.Run("explicit cancel releases the combined context", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe explicit cancel")
		}
	})
}
