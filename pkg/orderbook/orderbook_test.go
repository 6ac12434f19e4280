package orderbook

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

func TestApplyBidThenRemove(t *testing.T) {
	s := NewStore()
	require.True(t, s.Apply(transport.Diff{TokenID: "T", Side: transport.SideBid, Price: 0.55, Size: 10}))

	top, ok := s.TopOfBook("T", 0)
	require.True(t, ok)
	assert.True(t, top.HasBid)
	assert.Equal(t, 0.55, top.BestBid)
	assert.Equal(t, 10.0, top.BestBidSize)
	assert.False(t, top.HasAsk)

	require.True(t, s.Apply(transport.Diff{TokenID: "T", Side: transport.SideBid, Price: 0.55, Size: 0}))
	top, ok = s.TopOfBook("T", 0)
	require.True(t, ok)
	assert.False(t, top.HasBid)
	assert.Zero(t, top.BestBid)
}

func TestRemoveAndRestoreLevel(t *testing.T) {
	s := NewStore()
	s.ApplyDiff("T", transport.SideAsk, 0.40, 100)
	s.ApplyDiff("T", transport.SideAsk, 0.42, 50)

	s.ApplyDiff("T", transport.SideAsk, 0.40, -1)
	snap, ok := s.Snapshot("T", 0, -1)
	require.True(t, ok)
	assert.Equal(t, []Level{{Price: 0.42, Size: 50}}, snap.Asks)
	assert.Equal(t, 0.42, snap.BestAsk)

	s.ApplyDiff("T", transport.SideAsk, 0.40, 25)
	snap, _ = s.Snapshot("T", 0, -1)
	assert.Equal(t, []Level{{Price: 0.40, Size: 25}, {Price: 0.42, Size: 50}}, snap.Asks)
	assert.Equal(t, 0.40, snap.BestAsk)
	assert.Equal(t, 25.0, snap.BestAskSize)
}

func TestBestSizeTracksUpdatesAtBest(t *testing.T) {
	s := NewStore()
	s.ApplyDiff("T", transport.SideBid, 0.50, 10)
	s.ApplyDiff("T", transport.SideBid, 0.48, 5)
	s.ApplyDiff("T", transport.SideBid, 0.50, 7)

	top, _ := s.TopOfBook("T", 0)
	assert.Equal(t, 0.50, top.BestBid)
	assert.Equal(t, 7.0, top.BestBidSize)
}

func TestFloatNoiseSharesLevel(t *testing.T) {
	s := NewStore()
	s.ApplyDiff("T", transport.SideAsk, 0.1+0.2, 10)
	s.ApplyDiff("T", transport.SideAsk, 0.3, 4)

	snap, _ := s.Snapshot("T", 0, -1)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 4.0, snap.Asks[0].Size)
}

func TestInvalidDiffsDropped(t *testing.T) {
	s := NewStore()
	assert.False(t, s.ApplyDiff("T", transport.SideBid, math.NaN(), 1))
	assert.False(t, s.ApplyDiff("T", transport.SideBid, 0.5, math.Inf(1)))
	assert.False(t, s.ApplyDiff("T", transport.SideBid, -0.5, 1))
	assert.False(t, s.ApplyDiff("T", transport.SideUnknown, 0.5, 1))
	assert.False(t, s.ApplyDiff("", transport.SideBid, 0.5, 1))
	assert.Equal(t, 0, s.Len())
}

func TestSubKeyPriceDropped(t *testing.T) {
	s := NewStore()
	assert.False(t, s.ApplyDiff("T", transport.SideBid, 4e-9, 10))
	assert.Equal(t, 0, s.Len())

	require.True(t, s.ApplyDiff("T", transport.SideBid, 0.01, 5))
	assert.False(t, s.ApplyDiff("T", transport.SideBid, 1e-12, 10))
	top, ok := s.TopOfBook("T", 0)
	require.True(t, ok)
	assert.Equal(t, 0.01, top.BestBid)
	assert.Equal(t, 5.0, top.BestBidSize)
}

func TestCrossedBookTolerated(t *testing.T) {
	s := NewStore()
	s.ApplyDiff("T", transport.SideBid, 0.60, 1)
	s.ApplyDiff("T", transport.SideAsk, 0.55, 1)

	top, ok := s.TopOfBook("T", 0)
	require.True(t, ok)
	assert.Equal(t, 0.60, top.BestBid)
	assert.Equal(t, 0.55, top.BestAsk)
}

func TestSnapshotOrderingAndDepth(t *testing.T) {
	s := NewStore()
	for _, p := range []float64{0.30, 0.35, 0.32, 0.31} {
		s.ApplyDiff("T", transport.SideBid, p, 1)
	}
	for _, p := range []float64{0.45, 0.40, 0.42} {
		s.ApplyDiff("T", transport.SideAsk, p, 2)
	}

	snap, ok := s.Snapshot("T", 0, 2)
	require.True(t, ok)
	assert.Equal(t, []Level{{0.35, 1}, {0.32, 1}}, snap.Bids)
	assert.Equal(t, []Level{{0.40, 2}, {0.42, 2}}, snap.Asks)

	snap, _ = s.Snapshot("T", 0, 0)
	assert.Nil(t, snap.Bids)
	assert.Nil(t, snap.Asks)
	assert.Equal(t, 0.35, snap.BestBid)
}

func TestStalenessRejectsOldBooks(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewStore().WithClock(func() time.Time { return now })
	s.ApplyDiff("T", transport.SideBid, 0.5, 1)

	now = now.Add(2 * time.Second)
	_, ok := s.TopOfBook("T", time.Second)
	assert.False(t, ok)
	_, ok = s.Snapshot("T", time.Second, 5)
	assert.False(t, ok)

	_, ok = s.TopOfBook("T", 3*time.Second)
	assert.True(t, ok)
	_, ok = s.TopOfBook("T", 0)
	assert.True(t, ok)

	_, ok = s.TopOfBook("missing", 0)
	assert.False(t, ok)
}

func TestResetClearsBooks(t *testing.T) {
	s := NewStore()
	s.ApplyDiff("A", transport.SideBid, 0.5, 1)
	s.ApplyDiff("B", transport.SideAsk, 0.5, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, s.Tokens())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	_, ok := s.TopOfBook("A", 0)
	assert.False(t, ok)
}

// TestBestOfBookMatchesRescan checks the cached best prices against an
// independent scan of a shadow book after every diff.
func TestBestOfBookMatchesRescan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewStore()
	shadow := map[transport.Side]map[float64]float64{
		transport.SideBid: {},
		transport.SideAsk: {},
	}

	for i := 0; i < 5000; i++ {
		side := transport.SideBid
		if rng.Intn(2) == 1 {
			side = transport.SideAsk
		}
		price := float64(rng.Intn(20)+1) / 100
		size := 0.0
		if rng.Intn(3) > 0 {
			size = float64(rng.Intn(500) + 1)
		}
		require.True(t, s.ApplyDiff("T", side, price, size))
		if size > 0 {
			shadow[side][price] = size
		} else {
			delete(shadow[side], price)
		}

		top, ok := s.TopOfBook("T", 0)
		require.True(t, ok)

		wantBid, wantBidSize, hasBid := extreme(shadow[transport.SideBid], func(a, b float64) bool { return a > b })
		wantAsk, wantAskSize, hasAsk := extreme(shadow[transport.SideAsk], func(a, b float64) bool { return a < b })
		require.Equal(t, hasBid, top.HasBid, "step %d", i)
		require.Equal(t, hasAsk, top.HasAsk, "step %d", i)
		require.Equal(t, wantBid, top.BestBid, "step %d", i)
		require.Equal(t, wantBidSize, top.BestBidSize, "step %d", i)
		require.Equal(t, wantAsk, top.BestAsk, "step %d", i)
		require.Equal(t, wantAskSize, top.BestAskSize, "step %d", i)
	}
}

func extreme(levels map[float64]float64, better func(a, b float64) bool) (float64, float64, bool) {
	var price, size float64
	found := false
	for p, s := range levels {
		if !found || better(p, price) {
			price, size, found = p, s, true
		}
	}
	return price, size, found
}
