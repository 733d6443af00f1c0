package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/augur/pkg/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

var testTTLs = map[models.CallType]time.Duration{
	models.CallDecision:  120 * time.Second,
	models.CallNarrative: 600 * time.Second,
	models.CallAmbient:   300 * time.Second,
}

func newTestCache(t *testing.T, capacity int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(capacity, testTTLs, WithClock(clock.Now)), clock
}

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint(models.CallDecision, "  Allocate food\n to   FARMERS ")
	b := Fingerprint(models.CallDecision, "allocate food to farmers")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint(models.CallAmbient, "allocate food to farmers"))
	assert.Len(t, a, 64)
}

func TestRoundTripZeroCost(t *testing.T) {
	c, clock := newTestCache(t, 10)
	key := Fingerprint(models.CallDecision, "p")

	require.True(t, c.Put(key, models.CallDecision, "v", 100, 50, 0.25))
	clock.Advance(119 * time.Second)

	resp, ok := c.Get(key, models.CallDecision)
	require.True(t, ok)
	assert.Equal(t, "v", resp.Content)
	assert.Equal(t, models.SourceCache, resp.Source)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Cost)
	assert.Zero(t, resp.TokensIn+resp.TokensOut)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.InDelta(t, 0.25, stats.SavedCost, 1e-9)
}

func TestExpiryThenOverwrite(t *testing.T) {
	c, clock := newTestCache(t, 10)
	key := "k"

	c.Put(key, models.CallDecision, "v1", 1, 1, 0)
	clock.Advance(120*time.Second + time.Millisecond)

	_, ok := c.Get(key, models.CallDecision)
	assert.False(t, ok, "entry past its ttl must miss")
	assert.EqualValues(t, 1, c.Stats().Expired)

	c.Put(key, models.CallDecision, "v2", 1, 1, 0)
	resp, ok := c.Get(key, models.CallDecision)
	require.True(t, ok)
	assert.Equal(t, "v2", resp.Content)
}

func TestTTLPerCallType(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("d", models.CallDecision, "x", 0, 0, 0)
	c.Put("n", models.CallNarrative, "y", 0, 0, 0)

	clock.Advance(200 * time.Second)
	_, ok := c.Get("d", models.CallDecision)
	assert.False(t, ok)
	_, ok = c.Get("n", models.CallNarrative)
	assert.True(t, ok)
}

func TestUnknownCallTypeNotCached(t *testing.T) {
	c, _ := newTestCache(t, 10)
	assert.False(t, c.Put("k", "custom-call", "x", 0, 0, 0))
	assert.Zero(t, c.Len())
}

func TestCallTypeMismatchMisses(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("k", models.CallDecision, "x", 0, 0, 0)
	_, ok := c.Get("k", models.CallAmbient)
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c, clock := newTestCache(t, 3)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), models.CallAmbient, "v", 0, 0, 0)
		clock.Advance(time.Second)
	}

	// k0 is the oldest; touching it leaves k1 as least recently used.
	_, ok := c.Get("k0", models.CallAmbient)
	require.True(t, ok)

	c.Put("k3", models.CallAmbient, "v", 0, 0, 0)

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("k1", models.CallAmbient)
	assert.False(t, ok, "k1 should have been evicted")
	for _, k := range []string{"k0", "k2", "k3"} {
		_, ok := c.Get(k, models.CallAmbient)
		assert.True(t, ok, "expected %s to survive", k)
	}
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.Put("a", models.CallAmbient, "1", 0, 0, 0)
	c.Put("b", models.CallAmbient, "1", 0, 0, 0)
	c.Put("a", models.CallAmbient, "2", 0, 0, 0)

	assert.Equal(t, 2, c.Len())
	assert.Zero(t, c.Stats().Evictions)
}

func TestSnapshotAndWarm(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("a", models.CallNarrative, "A", 1, 2, 0.1)
	clock.Advance(time.Second)
	c.Put("b", models.CallNarrative, "B", 1, 2, 0.1)
	clock.Advance(time.Second)
	c.Get("a", models.CallNarrative)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Key)
	assert.Equal(t, "a", snap[1].Key)

	fresh := New(1, testTTLs, WithClock(clock.Now))
	assert.Equal(t, 2, fresh.Warm(snap))
	// capacity 1 keeps the most recently used entry
	_, ok := fresh.Get("a", models.CallNarrative)
	assert.True(t, ok)
	_, ok = fresh.Get("b", models.CallNarrative)
	assert.False(t, ok)
}

func TestWarmSkipsStale(t *testing.T) {
	c, clock := newTestCache(t, 10)
	old := models.CacheEntry{
		Key:       "old",
		CallType:  models.CallDecision,
		Content:   "x",
		CreatedAt: clock.Now().Add(-time.Hour),
	}
	assert.Zero(t, c.Warm([]models.CacheEntry{old}))
}

func TestClear(t *testing.T) {
	c, clock := newTestCache(t, 10)
	c.Put("d", models.CallDecision, "x", 0, 0, 0)
	c.Put("n", models.CallNarrative, "y", 0, 0, 0)
	clock.Advance(200 * time.Second)

	assert.Equal(t, 1, c.Clear(true))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Clear(false))
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Stats().Evictions)
}
