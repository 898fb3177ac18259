package adapter

import (
	"time"

	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// NewYouTube builds the YouTube adapter over the public trending feed.
// Trending entries are videos; the title doubles as the topic.
func NewYouTube() Adapter {
	return &domAdapter{
		platform:     store.PlatformYouTube,
		origin:       "https://www.youtube.com",
		discoveryURL: "https://www.youtube.com/feed/trending",
		rateDelay:    2 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   10 * time.Second,

		topicChain: selectorChain{
			`ytd-video-renderer #video-title`,
			`a#video-title`,
			`h3 a[href*="/watch"]`,
		},
		linkChain: selectorChain{
			`ytd-video-renderer a#video-title`,
			`a[href*="/watch"]`,
		},
		statChain: selectorChain{
			`ytd-video-renderer #metadata-line span:first-child`,
			`span[class*="view-count"]`,
		},
		captionChain: selectorChain{
			`ytd-watch-metadata h1`,
			`#description-inline-expander span`,
			`meta[name="description"]`,
		},
		likeChain: selectorChain{
			`like-button-view-model span[role="text"]`,
			`button[aria-label*="like"] span`,
			`#segmented-like-button span`,
		},
		commentChain: selectorChain{
			`ytd-comments-header-renderer #count span:first-child`,
			`h2#count span`,
		},
		viewChain: selectorChain{
			`ytd-watch-info-text span:first-child`,
			`span[class*="view-count"]`,
		},

		contentType: func(string) string { return "video" },
		statMetric:  func(e *score.Engagement, v int64) { e.Views = v },
	}
}
