// Package score implements the platform-weighted engagement scorer and the
// inactivity decay applied at snapshot time.
package score

import (
	"math"

	"github.com/trendscope/trendscope/internal/store"
)

// MaxScore is the clamp ceiling for any engagement score.
const MaxScore = 1e9

// Weights are the per-platform multipliers applied to raw engagement counts.
type Weights struct {
	Likes    float64
	Comments float64
	Shares   float64
	Views    float64
}

var platformWeights = map[store.Platform]Weights{
	store.PlatformInstagram: {Likes: 1.0, Comments: 2.5, Shares: 3.5, Views: 0.05},
	store.PlatformTikTok:    {Likes: 1.0, Comments: 2.0, Shares: 4.0, Views: 0.15},
	store.PlatformX:         {Likes: 1.0, Comments: 3.0, Shares: 4.0, Views: 0.02},
	store.PlatformFacebook:  {Likes: 1.0, Comments: 2.0, Shares: 3.0, Views: 0.10},
	store.PlatformLinkedIn:  {Likes: 1.0, Comments: 3.5, Shares: 4.0, Views: 0.05},
	store.PlatformYouTube:   {Likes: 1.0, Comments: 2.5, Shares: 3.0, Views: 0.50},
}

// WeightsFor returns the weight table for a platform. Unknown platforms fall
// back to the Instagram defaults.
func WeightsFor(platform store.Platform) Weights {
	if w, ok := platformWeights[platform]; ok {
		return w
	}
	return platformWeights[store.PlatformInstagram]
}

// Engagement is one sample's raw counts.
type Engagement struct {
	Likes    int64
	Comments int64
	Shares   int64
	Views    int64
}

// Component is one term of the weighted sum, retained for version records.
type Component struct {
	Count        int64   `json:"count"`
	Weight       float64 `json:"weight"`
	Weighted     float64 `json:"weighted"`
	PercentTotal float64 `json:"percent_of_total"`
}

// Breakdown explains how a score was produced.
type Breakdown struct {
	Likes    Component `json:"likes"`
	Comments Component `json:"comments"`
	Shares   Component `json:"shares"`
	Views    Component `json:"views"`
	Total    float64   `json:"total"`
}

// Sample computes the weighted sum for one engagement sample.
func Sample(platform store.Platform, e Engagement) float64 {
	w := WeightsFor(platform)
	return float64(e.Likes)*w.Likes +
		float64(e.Comments)*w.Comments +
		float64(e.Shares)*w.Shares +
		float64(e.Views)*w.Views
}

// Trend scores a trend as the arithmetic mean of its per-sample scores and
// returns the component breakdown of the mean engagement.
func Trend(platform store.Platform, samples []Engagement) (float64, Breakdown) {
	if len(samples) == 0 {
		return 0, Breakdown{}
	}

	var mean Engagement
	var total float64
	for _, s := range samples {
		total += Sample(platform, s)
		mean.Likes += s.Likes
		mean.Comments += s.Comments
		mean.Shares += s.Shares
		mean.Views += s.Views
	}
	n := int64(len(samples))
	mean.Likes /= n
	mean.Comments /= n
	mean.Shares /= n
	mean.Views /= n

	avg := Clamp(total / float64(len(samples)))

	w := WeightsFor(platform)
	bd := Breakdown{
		Likes:    Component{Count: mean.Likes, Weight: w.Likes, Weighted: float64(mean.Likes) * w.Likes},
		Comments: Component{Count: mean.Comments, Weight: w.Comments, Weighted: float64(mean.Comments) * w.Comments},
		Shares:   Component{Count: mean.Shares, Weight: w.Shares, Weighted: float64(mean.Shares) * w.Shares},
		Views:    Component{Count: mean.Views, Weight: w.Views, Weighted: float64(mean.Views) * w.Views},
	}
	bd.Total = bd.Likes.Weighted + bd.Comments.Weighted + bd.Shares.Weighted + bd.Views.Weighted
	if bd.Total > 0 {
		bd.Likes.PercentTotal = 100 * bd.Likes.Weighted / bd.Total
		bd.Comments.PercentTotal = 100 * bd.Comments.Weighted / bd.Total
		bd.Shares.PercentTotal = 100 * bd.Shares.Weighted / bd.Total
		bd.Views.PercentTotal = 100 * bd.Views.Weighted / bd.Total
	}
	return avg, bd
}

// Decay applies the weekly inactivity decay, floored at 10% of the original
// score: max(score*(1-rate)^weeks, 0.1*score).
func Decay(score, weeksInactive, weeklyRate float64) float64 {
	if weeksInactive <= 0 || weeklyRate <= 0 {
		return Clamp(score)
	}
	decayed := score * math.Pow(1-weeklyRate, weeksInactive)
	floor := 0.1 * score
	if decayed < floor {
		decayed = floor
	}
	return Clamp(decayed)
}

// Clamp bounds a score to [0, MaxScore].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
