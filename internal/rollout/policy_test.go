package rollout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegym/pagegym/api/schemas"
)

func TestScriptedPolicyReplaysThenReportsInfeasible(t *testing.T) {
	p := NewScriptedPolicy([]schemas.Action{
		{Kind: schemas.ActionClick, Bid: "1"},
		{Kind: schemas.ActionScroll, DeltaY: 100},
	})
	ctx := context.Background()

	act, err := p.NextAction(ctx, schemas.Observation{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, act.Kind)

	act, err = p.NextAction(ctx, schemas.Observation{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionScroll, act.Kind)

	act, err = p.NextAction(ctx, schemas.Observation{})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionReportInfeasible, act.Kind)
}

func TestClickFirstPolicy(t *testing.T) {
	p := ClickFirstPolicy{}
	ctx := context.Background()

	t.Run("clicks the first visible element", func(t *testing.T) {
		observation := schemas.Observation{DOM: &schemas.DOMSnapshot{Elements: []schemas.Element{
			{Bid: "0", Visible: false},
			{Bid: "1", Visible: true},
		}}}
		act, err := p.NextAction(ctx, observation)
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionClick, act.Kind)
		assert.Equal(t, "1", act.Bid)
	})

	t.Run("scrolls when nothing is visible", func(t *testing.T) {
		act, err := p.NextAction(ctx, schemas.Observation{})
		require.NoError(t, err)
		assert.Equal(t, schemas.ActionScroll, act.Kind)
	})
}
