package adapter

import (
	"strings"
	"time"

	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// NewTikTok builds the TikTok adapter over the public discover surface.
// TikTok shows per-hashtag view counts directly on the discovery cards.
func NewTikTok() Adapter {
	return &domAdapter{
		platform:     store.PlatformTikTok,
		origin:       "https://www.tiktok.com",
		discoveryURL: "https://www.tiktok.com/discover",
		rateDelay:    3 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   10 * time.Second,

		topicChain: selectorChain{
			`[data-e2e="discover-card-title"]`,
			`[data-e2e="challenge-item-name"]`,
			`p[class*="PTitle"]`,
			`a[href*="/tag/"] strong`,
		},
		linkChain: selectorChain{
			`a[data-e2e="discover-card-link"]`,
			`a[href*="/tag/"]`,
		},
		statChain: selectorChain{
			`[data-e2e="discover-card-views"]`,
			`strong[class*="ViewCount"]`,
		},
		postChain: selectorChain{
			`[data-e2e="challenge-item"] a[href*="/video/"]`,
			`a[href*="/video/"]`,
		},
		captionChain: selectorChain{
			`[data-e2e="browse-video-desc"]`,
			`h1[data-e2e="video-desc"]`,
			`span[class*="SpanText"]`,
		},
		likeChain: selectorChain{
			`[data-e2e="like-count"]`,
			`strong[data-e2e="browse-like-count"]`,
		},
		commentChain: selectorChain{
			`[data-e2e="comment-count"]`,
			`strong[data-e2e="browse-comment-count"]`,
		},
		shareChain: selectorChain{
			`[data-e2e="share-count"]`,
		},
		viewChain: selectorChain{
			`[data-e2e="video-views"]`,
		},

		contentType: func(url string) string {
			if strings.Contains(url, "/video/") {
				return "video"
			}
			return "post"
		},
		statMetric: func(e *score.Engagement, v int64) { e.Views = v },
	}
}
