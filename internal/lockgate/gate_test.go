package lockgate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/core"
)

func summary(id int64, closed bool) core.MonthSummary {
	return core.MonthSummary{Month: core.Month{ID: id, IsClosed: closed}}
}

func TestGate_UnknownIsOpen(t *testing.T) {
	g := New(nil)
	assert.False(t, g.IsLocked())
	assert.NoError(t, g.Check())
}

func TestGate_FollowsLatestSummary(t *testing.T) {
	g := New(nil)

	g.Update(summary(4, true))
	assert.True(t, g.IsLocked())
	err := g.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMonthClosed))
	assert.Equal(t, "period closed", err.Error())

	var le *core.LockedError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, int64(4), le.MonthID)

	g.Update(summary(4, false))
	assert.False(t, g.IsLocked())
	assert.NoError(t, g.Check())
}

func TestGate_Reset(t *testing.T) {
	g := New(nil)
	g.Update(summary(1, true))
	g.Reset()
	assert.False(t, g.IsLocked())
	assert.NoError(t, g.Check())
}

func TestGate_ReverseTransitions(t *testing.T) {
	g := New(nil)

	g.Update(summary(1, false))
	assert.NoError(t, g.CheckClose())
	assert.ErrorIs(t, g.CheckReopen(), core.ErrLockTransition)

	g.Update(summary(1, true))
	assert.ErrorIs(t, g.CheckClose(), core.ErrLockTransition)
	assert.NoError(t, g.CheckReopen())
}
