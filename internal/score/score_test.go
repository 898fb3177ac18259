package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trendscope/trendscope/internal/store"
)

func TestSampleInstagram(t *testing.T) {
	e := Engagement{Likes: 1000, Comments: 50, Shares: 10, Views: 50000}
	got := Sample(store.PlatformInstagram, e)
	assert.InDelta(t, 3660.0, got, 0.001)
}

func TestSamplePerPlatform(t *testing.T) {
	e := Engagement{Likes: 100, Comments: 10, Shares: 5, Views: 1000}
	cases := []struct {
		platform store.Platform
		want     float64
	}{
		{store.PlatformInstagram, 100 + 25 + 17.5 + 50},
		{store.PlatformTikTok, 100 + 20 + 20 + 150},
		{store.PlatformX, 100 + 30 + 20 + 20},
		{store.PlatformFacebook, 100 + 20 + 15 + 100},
		{store.PlatformLinkedIn, 100 + 35 + 20 + 50},
		{store.PlatformYouTube, 100 + 25 + 15 + 500},
	}
	for _, tc := range cases {
		t.Run(string(tc.platform), func(t *testing.T) {
			assert.InDelta(t, tc.want, Sample(tc.platform, e), 0.001)
		})
	}
}

func TestWeightsForUnknownPlatformFallsBack(t *testing.T) {
	assert.Equal(t, WeightsFor(store.PlatformInstagram), WeightsFor(store.Platform("myspace")))
}

func TestTrendBreakdown(t *testing.T) {
	samples := []Engagement{{Likes: 1000, Comments: 50, Shares: 10, Views: 50000}}
	total, bd := Trend(store.PlatformInstagram, samples)

	assert.InDelta(t, 3660.0, total, 0.001)
	assert.InDelta(t, 3660.0, bd.Total, 0.001)
	assert.InDelta(t, 27.32, bd.Likes.PercentTotal, 0.01)
	assert.InDelta(t, 3.42, bd.Comments.PercentTotal, 0.01)
	assert.InDelta(t, 0.96, bd.Shares.PercentTotal, 0.01)
	assert.InDelta(t, 68.31, bd.Views.PercentTotal, 0.01)
}

func TestTrendMeansSamples(t *testing.T) {
	samples := []Engagement{
		{Likes: 100},
		{Likes: 300},
	}
	total, bd := Trend(store.PlatformInstagram, samples)
	assert.InDelta(t, 200.0, total, 0.001)
	assert.Equal(t, int64(200), bd.Likes.Count)
}

func TestTrendEmpty(t *testing.T) {
	total, bd := Trend(store.PlatformTikTok, nil)
	assert.Zero(t, total)
	assert.Zero(t, bd.Total)
}

func TestDecay(t *testing.T) {
	// Three inactive weeks at 5% weekly.
	assert.InDelta(t, 8573.75, Decay(10000, 3, 0.05), 0.01)

	// Long inactivity floors at 10% of the original score.
	assert.InDelta(t, 10.0, Decay(100, 50, 0.5), 0.001)

	// No decay without inactivity.
	assert.InDelta(t, 500.0, Decay(500, 0, 0.05), 0.001)
}

func TestClamp(t *testing.T) {
	assert.Zero(t, Clamp(-5))
	assert.Equal(t, float64(MaxScore), Clamp(MaxScore*2))
	assert.Equal(t, 42.0, Clamp(42))
}
