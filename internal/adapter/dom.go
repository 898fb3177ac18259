package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// domAdapter is the shared DOM-driven adapter implementation. Each platform
// supplies its origin, discovery URL, pacing and selector chains; the
// navigation and parsing skeleton is common.
type domAdapter struct {
	platform     store.Platform
	origin       string
	discoveryURL string
	rateDelay    time.Duration

	navTimeout time.Duration
	selTimeout time.Duration

	// Discovery page chains.
	topicChain selectorChain
	linkChain  selectorChain
	statChain  selectorChain

	// Topic page chain locating sample post links.
	postChain selectorChain

	// Sample page chains.
	captionChain selectorChain
	likeChain    selectorChain
	commentChain selectorChain
	viewChain    selectorChain
	shareChain   selectorChain

	// contentType classifies a sample by its URL.
	contentType func(url string) string

	// statMetric routes discovery-page stat strings into an engagement
	// field. Defaults to views.
	statMetric func(e *score.Engagement, v int64)
}

func (d *domAdapter) Platform() store.Platform { return d.platform }

func (d *domAdapter) RateDelay() time.Duration { return d.rateDelay }

func (d *domAdapter) classifyContent(url string) string {
	if d.contentType != nil {
		return d.contentType(url)
	}
	return "post"
}

// Discover navigates the public discovery surface and extracts candidate
// trends. Topic extraction is essential; links and stats are optional.
func (d *domAdapter) Discover(ctx context.Context, sess browser.Session, limit int) ([]RawTrend, error) {
	if err := sess.Goto(ctx, d.discoveryURL, d.navTimeout); err != nil {
		return nil, errkind.Classify(errkind.Scrape, err, "navigate discovery page")
	}
	browser.Jitter(ctx, 300*time.Millisecond, 900*time.Millisecond)

	// Wait for the most likely topic selector; fall through to the query
	// chain either way since a fallback selector may still match.
	if len(d.topicChain) > 0 {
		_ = sess.WaitFor(ctx, d.topicChain[0], d.selTimeout)
	}
	if err := sess.ScrollToBottom(ctx); err == nil {
		browser.Jitter(ctx, 200*time.Millisecond, 600*time.Millisecond)
	}

	topics, err := queryFirst(ctx, sess, d.topicChain)
	if err != nil {
		return nil, err
	}
	links := queryOptional(ctx, sess, d.linkChain)
	stats := queryOptional(ctx, sess, d.statChain)

	seen := make(map[string]bool)
	var raws []RawTrend
	for i, el := range topics {
		if len(raws) >= limit {
			break
		}
		topic := cleanTopic(el.Text())
		if topic == "" || seen[strings.ToLower(topic)] {
			continue
		}
		seen[strings.ToLower(topic)] = true

		raw := RawTrend{Topic: topic}
		if i < len(links) {
			raw.URL = absoluteURL(d.origin, links[i].Attr("href"))
		}
		if i < len(stats) {
			if v := ParseEngagement(stats[i].Text()); v > 0 {
				if d.statMetric != nil {
					d.statMetric(&raw.Engagement, v)
				} else {
					raw.Engagement.Views = v
				}
			}
		}
		if raw.URL != "" {
			raw.SampleURLs = append(raw.SampleURLs, raw.URL)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// Enrich visits up to sampleLimit sample posts for the trend. Missing
// optional fields fall back to zero values; a sample that fails to load is
// skipped rather than failing the trend.
func (d *domAdapter) Enrich(ctx context.Context, sess browser.Session, raw RawTrend, sampleLimit int) (EnrichedTrend, error) {
	out := EnrichedTrend{Raw: raw}

	urls := d.sampleURLs(ctx, sess, raw, sampleLimit)
	for _, u := range urls {
		if len(out.Samples) >= sampleLimit {
			break
		}
		browser.Jitter(ctx, d.rateDelay/2, d.rateDelay)
		if err := sess.Goto(ctx, u, d.navTimeout); err != nil {
			continue
		}
		sample := Sample{
			URL:         u,
			Caption:     firstText(ctx, sess, d.captionChain),
			ContentType: d.classifyContent(u),
			Engagement: score.Engagement{
				Likes:    ParseEngagement(firstText(ctx, sess, d.likeChain)),
				Comments: ParseEngagement(firstText(ctx, sess, d.commentChain)),
				Views:    ParseEngagement(firstText(ctx, sess, d.viewChain)),
				Shares:   ParseEngagement(firstText(ctx, sess, d.shareChain)),
			},
		}
		out.Samples = append(out.Samples, sample)
	}

	// No reachable samples: keep the discovery-page engagement so the trend
	// still aggregates instead of vanishing.
	if len(out.Samples) == 0 {
		out.Samples = append(out.Samples, Sample{
			URL:         raw.URL,
			Engagement:  raw.Engagement,
			ContentType: d.classifyContent(raw.URL),
		})
	}
	return out, nil
}

// sampleURLs expands the raw trend into post links, visiting the topic page
// when the discovery surface gave fewer links than requested.
func (d *domAdapter) sampleURLs(ctx context.Context, sess browser.Session, raw RawTrend, limit int) []string {
	urls := append([]string(nil), raw.SampleURLs...)
	if len(urls) >= limit || raw.URL == "" || len(d.postChain) == 0 {
		return urls
	}
	if err := sess.Goto(ctx, raw.URL, d.navTimeout); err != nil {
		return urls
	}
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		seen[u] = true
	}
	for _, el := range queryOptional(ctx, sess, d.postChain) {
		if len(urls) >= limit {
			break
		}
		u := absoluteURL(d.origin, el.Attr("href"))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}
