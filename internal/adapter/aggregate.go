package adapter

import (
	"time"

	"github.com/trendscope/trendscope/internal/enrich"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// Aggregate rolls enriched trends into per-topic records: arithmetic mean of
// numeric metrics, content-type distribution, aggregated sentiment/language
// summaries, and the platform-weighted score with its breakdown.
func Aggregate(platform store.Platform, enriched []EnrichedTrend, scrapedAt time.Time) []TrendRecord {
	records := make([]TrendRecord, 0, len(enriched))
	for _, et := range enriched {
		rec := TrendRecord{
			Platform:     platform,
			Topic:        et.Raw.Topic,
			URL:          et.Raw.URL,
			ContentTypes: map[string]int{},
			SampleCount:  len(et.Samples),
			ScrapedAt:    scrapedAt,
			Metadata:     map[string]string{},
		}

		engagements := make([]score.Engagement, 0, len(et.Samples))
		signals := make([]enrich.Signal, 0, len(et.Samples))
		for _, s := range et.Samples {
			engagements = append(engagements, s.Engagement)
			signals = append(signals, s.Signal)
			if s.ContentType != "" {
				rec.ContentTypes[s.ContentType]++
			}
		}
		if len(engagements) == 0 {
			engagements = []score.Engagement{et.Raw.Engagement}
		}

		rec.Score, rec.Breakdown = score.Trend(platform, engagements)
		rec.Sentiment = enrich.Aggregate(signals)

		var sum score.Engagement
		for _, e := range engagements {
			sum.Likes += e.Likes
			sum.Comments += e.Comments
			sum.Shares += e.Shares
			sum.Views += e.Views
		}
		n := int64(len(engagements))
		rec.Engagement = score.Engagement{
			Likes:    sum.Likes / n,
			Comments: sum.Comments / n,
			Shares:   sum.Shares / n,
			Views:    sum.Views / n,
		}

		records = append(records, rec)
	}
	return records
}
