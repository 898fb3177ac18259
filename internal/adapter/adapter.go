// Package adapter defines the per-platform source adapter contract and the
// six platform implementations that drive a browser session through public
// trend-discovery surfaces.
package adapter

import (
	"context"
	"time"

	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/enrich"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// RawTrend is one candidate trend from a discovery surface.
type RawTrend struct {
	Topic string
	URL   string
	// Engagement is the raw engagement visible on the discovery page, when
	// the platform shows any.
	Engagement score.Engagement
	// SampleURLs reference public posts to visit during enrichment.
	SampleURLs []string
}

// Sample is one enriched sample post.
type Sample struct {
	URL         string
	Engagement  score.Engagement
	Caption     string
	ContentType string // photo | video | reel | carousel | post
	Signal      enrich.Signal
}

// EnrichedTrend pairs a raw trend with its visited samples.
type EnrichedTrend struct {
	Raw     RawTrend
	Samples []Sample
}

// TrendRecord is the per-topic rollup handed to the ETL pipeline.
type TrendRecord struct {
	Platform store.Platform
	Topic    string
	URL      string
	// Engagement holds the arithmetic mean of the sample metrics.
	Engagement   score.Engagement
	Score        float64
	Breakdown    score.Breakdown
	Sentiment    enrich.Summary
	ContentTypes map[string]int
	SampleCount  int
	ScrapedAt    time.Time
	Metadata     map[string]string
}

// Adapter is the per-platform scraping contract. Implementations only
// navigate public URLs and must tolerate missing optional fields.
type Adapter interface {
	Platform() store.Platform
	// RateDelay is the minimum spacing between navigations on this platform.
	RateDelay() time.Duration
	// Discover returns up to limit candidate trends from the platform's
	// public discovery surface.
	Discover(ctx context.Context, sess browser.Session, limit int) ([]RawTrend, error)
	// Enrich visits up to the configured number of sample posts for a raw
	// trend and extracts engagement, caption and content type.
	Enrich(ctx context.Context, sess browser.Session, raw RawTrend, sampleLimit int) (EnrichedTrend, error)
}

// All returns every platform adapter keyed by platform.
func All() map[store.Platform]Adapter {
	adapters := []Adapter{
		NewTikTok(), NewInstagram(), NewLinkedIn(),
		NewFacebook(), NewYouTube(), NewX(),
	}
	out := make(map[store.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		out[a.Platform()] = a
	}
	return out
}
