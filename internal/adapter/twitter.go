package adapter

import (
	"time"

	"github.com/trendscope/trendscope/internal/score"
	"github.com/trendscope/trendscope/internal/store"
)

// NewX builds the X/Twitter adapter over the public trending tab. Trend rows
// show a post count ("12.5K posts") which lands in the views slot until
// samples refine it.
func NewX() Adapter {
	return &domAdapter{
		platform:     store.PlatformX,
		origin:       "https://x.com",
		discoveryURL: "https://x.com/explore/tabs/trending",
		rateDelay:    3 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   10 * time.Second,

		topicChain: selectorChain{
			`[data-testid="trend"] div[dir="ltr"] span`,
			`[data-testid="trend"] span`,
			`div[aria-label*="Trending"] span`,
		},
		linkChain: selectorChain{
			`[data-testid="trend"] a`,
			`a[href*="/search?q="]`,
		},
		statChain: selectorChain{
			`[data-testid="trend"] div[dir="ltr"]:last-child`,
		},
		postChain: selectorChain{
			`article a[href*="/status/"]`,
		},
		captionChain: selectorChain{
			`[data-testid="tweetText"]`,
			`article div[lang]`,
		},
		likeChain: selectorChain{
			`[data-testid="like"] span span`,
			`a[href$="/likes"] span`,
		},
		commentChain: selectorChain{
			`[data-testid="reply"] span span`,
		},
		shareChain: selectorChain{
			`[data-testid="retweet"] span span`,
		},
		viewChain: selectorChain{
			`a[href$="/analytics"] span span`,
			`span[class*="views"]`,
		},

		statMetric: func(e *score.Engagement, v int64) { e.Views = v },
	}
}
