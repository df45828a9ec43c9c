package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trade-engine/internal/clock"
)

func TestRegistry_ReportTransitions(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(clk, nil)

	ok, checks := r.Status()
	assert.True(t, ok, "empty registry is healthy")
	assert.Empty(t, checks)

	r.Report("task:trading", nil)
	r.Report("account:refresh", errors.New("exchange down"))
	clk.Advance(time.Minute)
	r.Report("account:refresh", errors.New("exchange down"))

	ok, checks = r.Status()
	assert.False(t, ok)
	require.Len(t, checks, 2)
	assert.Equal(t, "account:refresh", checks[0].Name)
	assert.Equal(t, int64(2), checks[0].Failures)
	assert.Equal(t, "exchange down", checks[0].Message)
	assert.Equal(t, clk.Now(), checks[0].UpdatedAt)

	r.Report("account:refresh", nil)
	c, found := r.Check("account:refresh")
	require.True(t, found)
	assert.True(t, c.Healthy)
	assert.Empty(t, c.Message)
	assert.Equal(t, int64(2), c.Failures, "failure count is kept")

	ok, _ = r.Status()
	assert.True(t, ok)

	r.Remove("task:trading")
	_, found = r.Check("task:trading")
	assert.False(t, found)
}
