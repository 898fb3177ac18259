package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// testAdapter returns a minimal DOM adapter with fast pacing for tests.
func testAdapter() *domAdapter {
	return &domAdapter{
		platform:     store.PlatformTikTok,
		origin:       "https://example.com",
		discoveryURL: "https://example.com/discover",
		rateDelay:    4 * time.Millisecond,
		navTimeout:   time.Second,
		selTimeout:   time.Second,

		topicChain:   selectorChain{".topic-primary", ".topic-fallback"},
		linkChain:    selectorChain{".link"},
		statChain:    selectorChain{".views"},
		postChain:    selectorChain{".post-link"},
		captionChain: selectorChain{".caption"},
		likeChain:    selectorChain{".likes"},
		commentChain: selectorChain{".comments"},
		viewChain:    selectorChain{".view-count"},

		statMetric: func(e *score.Engagement, v int64) { e.Views = v },
	}
}

func discoveryPage() browser.FakePage {
	return browser.FakePage{
		Selectors: map[string][]browser.FakeElement{
			".topic-primary": {
				{TextContent: "#SummerVibes"},
				{TextContent: "#DanceChallenge"},
				{TextContent: "#summervibes"}, // duplicate, case-insensitive
				{TextContent: "#ThirdTopic"},
			},
			".link": {
				{Attributes: map[string]string{"href": "/tag/summervibes"}},
				{Attributes: map[string]string{"href": "/tag/dancechallenge"}},
			},
			".views": {
				{TextContent: "5.2M"},
				{TextContent: "900K"},
			},
		},
	}
}

func TestDiscoverParsesDedupesAndLimits(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{Pages: map[string]browser.FakePage{
		a.discoveryURL: discoveryPage(),
	}}

	raws, err := a.Discover(context.Background(), sess, 10)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("raws = %d, want 3 after dedupe", len(raws))
	}
	first := raws[0]
	if first.Topic != "#SummerVibes" {
		t.Errorf("topic = %q", first.Topic)
	}
	if first.URL != "https://example.com/tag/summervibes" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Engagement.Views != 5200000 {
		t.Errorf("views = %d, want 5200000", first.Engagement.Views)
	}
	// Third topic has no link or stat row; optional fields stay zero.
	if raws[2].URL != "" || raws[2].Engagement.Views != 0 {
		t.Errorf("optional fields should be empty: %+v", raws[2])
	}

	limited, err := a.Discover(context.Background(), sess, 2)
	if err != nil {
		t.Fatalf("limited Discover: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func TestDiscoverFallbackSelector(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{Pages: map[string]browser.FakePage{
		a.discoveryURL: {
			Selectors: map[string][]browser.FakeElement{
				// Primary selector empty; the fallback carries the topics.
				".topic-fallback": {{TextContent: "#Resilient"}},
			},
		},
	}}
	raws, err := a.Discover(context.Background(), sess, 5)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(raws) != 1 || raws[0].Topic != "#Resilient" {
		t.Errorf("raws = %+v", raws)
	}
}

func TestDiscoverExhaustedChainIsScrapeError(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{Pages: map[string]browser.FakePage{
		a.discoveryURL: {Selectors: map[string][]browser.FakeElement{}},
	}}
	_, err := a.Discover(context.Background(), sess, 5)
	if !errkind.IsKind(err, errkind.Scrape) {
		t.Fatalf("err = %v, want SCRAPE", err)
	}
}

func TestEnrichVisitsSamples(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{Pages: map[string]browser.FakePage{
		"https://example.com/p/1": {
			Selectors: map[string][]browser.FakeElement{
				".caption":    {{TextContent: "great summer video"}},
				".likes":      {{TextContent: "1.5K"}},
				".comments":   {{TextContent: "120"}},
				".view-count": {{TextContent: "80K"}},
			},
		},
	}}

	raw := RawTrend{Topic: "#SummerVibes", SampleURLs: []string{"https://example.com/p/1"}}
	et, err := a.Enrich(context.Background(), sess, raw, 3)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(et.Samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(et.Samples))
	}
	s := et.Samples[0]
	if s.Caption != "great summer video" {
		t.Errorf("caption = %q", s.Caption)
	}
	if s.Engagement.Likes != 1500 || s.Engagement.Comments != 120 || s.Engagement.Views != 80000 {
		t.Errorf("engagement = %+v", s.Engagement)
	}
}

func TestEnrichExpandsTopicPage(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{Pages: map[string]browser.FakePage{
		"https://example.com/tag/summer": {
			Selectors: map[string][]browser.FakeElement{
				".post-link": {
					{Attributes: map[string]string{"href": "/p/1"}},
					{Attributes: map[string]string{"href": "/p/2"}},
					{Attributes: map[string]string{"href": "/p/1"}}, // dup
				},
			},
		},
		"https://example.com/p/1": {Selectors: map[string][]browser.FakeElement{
			".likes": {{TextContent: "10"}},
		}},
		"https://example.com/p/2": {Selectors: map[string][]browser.FakeElement{
			".likes": {{TextContent: "20"}},
		}},
	}}

	raw := RawTrend{Topic: "#Summer", URL: "https://example.com/tag/summer"}
	et, err := a.Enrich(context.Background(), sess, raw, 2)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(et.Samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(et.Samples))
	}
	if et.Samples[0].Engagement.Likes != 10 || et.Samples[1].Engagement.Likes != 20 {
		t.Errorf("samples = %+v", et.Samples)
	}
}

func TestEnrichFallsBackToDiscoveryData(t *testing.T) {
	a := testAdapter()
	sess := &browser.FakeSession{
		Pages:   map[string]browser.FakePage{},
		GotoErr: errkind.New(errkind.Network, "proxy refused"),
	}

	raw := RawTrend{
		Topic:      "#Unreachable",
		URL:        "https://example.com/tag/unreachable",
		Engagement: score.Engagement{Views: 4200},
		SampleURLs: []string{"https://example.com/p/9"},
	}
	et, err := a.Enrich(context.Background(), sess, raw, 3)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(et.Samples) != 1 {
		t.Fatalf("samples = %d, want 1 synthetic fallback", len(et.Samples))
	}
	if et.Samples[0].Engagement.Views != 4200 {
		t.Errorf("fallback engagement = %+v", et.Samples[0].Engagement)
	}
}
