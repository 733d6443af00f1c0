package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/orchestrator"
	"github.com/pario-ai/augur/pkg/replay"
)

func runWorld(t *testing.T, seed uint64, ticks int, opts ...orchestrator.Option) ([]string, *orchestrator.Orchestrator) {
	t.Helper()
	opts = append(opts, orchestrator.WithLogger(zaptest.NewLogger(t)))
	orch, err := orchestrator.New(config.Default(), opts...)
	require.NoError(t, err)

	world := newDemoWorld(seed)
	var calls []*tracked
	var lines []string
	for tick := uint64(1); tick <= uint64(ticks); tick++ {
		orch.SetTick(tick)
		cs, rejected, err := world.step(orch, tick)
		require.NoError(t, err)
		calls = append(calls, cs...)
		lines = append(lines, rejected...)
	}
	require.NoError(t, orch.Close(context.Background()))

	for _, c := range calls {
		text, _, done := c.poll()
		require.True(t, done, "%s never settled", c.label)
		lines = append(lines, fmt.Sprintf("%d %s: %s", c.tick, c.label, text))
	}
	return lines, orch
}

func TestDemoWorldReplaysWithoutDivergence(t *testing.T) {
	recorded, rec := runWorld(t, 7, 15)
	require.NotEmpty(t, recorded)
	log := rec.ReplayLog()
	require.Positive(t, log.Len())

	// round trip through records as the save file would
	loaded, err := replay.FromRecords(log.Records())
	require.NoError(t, err)

	replayed, orch := runWorld(t, 7, 15, orchestrator.WithReplay(loaded))
	assert.NoError(t, orch.Divergence())
	assert.Equal(t, recorded, replayed)

	stats := orch.UsageStats()
	assert.Zero(t, stats.LiveCalls)
	assert.Equal(t, stats.Resolved, stats.Replayed)
}

func TestDemoWorldSeedChangesRequests(t *testing.T) {
	_, rec := runWorld(t, 7, 6)

	_, orch := runWorld(t, 8, 6, orchestrator.WithReplay(rec.ReplayLog()))
	var div *replay.DivergenceError
	assert.ErrorAs(t, orch.Divergence(), &div)
}

func TestDemoWorldSchedule(t *testing.T) {
	_, orch := runWorld(t, 1, 10)
	byType := orch.UsageStats().ByCallType
	assert.Equal(t, 10, byType[models.CallAmbient].Requests)
	assert.Equal(t, 4, byType[models.CallDecision].Requests) // ticks 1, 4, 7, 10
	assert.Equal(t, 2, byType[models.CallNarrative].Requests)
}
