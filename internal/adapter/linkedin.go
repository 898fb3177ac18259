package adapter

import (
	"time"

	"github.com/trendscope/trendscope/internal/store"
)

// NewLinkedIn builds the LinkedIn adapter over the public news/topics surface.
func NewLinkedIn() Adapter {
	return &domAdapter{
		platform:     store.PlatformLinkedIn,
		origin:       "https://www.linkedin.com",
		discoveryURL: "https://www.linkedin.com/pulse/topics/home/",
		rateDelay:    6 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   12 * time.Second,

		topicChain: selectorChain{
			`a[href*="/pulse/topics/"] h2`,
			`a[href*="/pulse/topics/"]`,
			`li[class*="topic"] a`,
		},
		linkChain: selectorChain{
			`a[href*="/pulse/topics/"]`,
		},
		postChain: selectorChain{
			`a[href*="/pulse/"][href$="/"]`,
			`a[href*="/posts/"]`,
		},
		captionChain: selectorChain{
			`div[class*="article-body"] p`,
			`h1[class*="headline"]`,
			`div[dir="ltr"] span`,
		},
		likeChain: selectorChain{
			`span[class*="social-counts-reactions"]`,
			`button[aria-label*="reaction"] span`,
		},
		commentChain: selectorChain{
			`span[class*="social-counts-comments"]`,
			`a[href*="comments"] span`,
		},
		shareChain: selectorChain{
			`span[class*="social-counts-shares"]`,
		},
	}
}
