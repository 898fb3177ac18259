package adapter

import (
	"strings"
	"time"

	"github.com/trendscope/trendscope/internal/store"
)

// NewFacebook builds the Facebook adapter over public hashtag search pages.
func NewFacebook() Adapter {
	return &domAdapter{
		platform:     store.PlatformFacebook,
		origin:       "https://www.facebook.com",
		discoveryURL: "https://www.facebook.com/hashtag/trending",
		rateDelay:    5 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   12 * time.Second,

		topicChain: selectorChain{
			`a[href*="/hashtag/"] span`,
			`a[href*="/hashtag/"]`,
			`div[role="feed"] strong span`,
		},
		linkChain: selectorChain{
			`a[href*="/hashtag/"]`,
		},
		postChain: selectorChain{
			`div[role="feed"] a[href*="/posts/"]`,
			`a[href*="/videos/"]`,
			`a[href*="story_fbid"]`,
		},
		captionChain: selectorChain{
			`div[data-ad-preview="message"]`,
			`div[role="article"] div[dir="auto"]`,
		},
		likeChain: selectorChain{
			`span[aria-label*="reactions"]`,
			`div[aria-label*="Like"] span`,
			`span[class*="reaction"]`,
		},
		commentChain: selectorChain{
			`span[aria-label*="comments"]`,
			`div[role="article"] span[dir="auto"]:last-child`,
		},
		shareChain: selectorChain{
			`span[aria-label*="shares"]`,
		},
		viewChain: selectorChain{
			`span[aria-label*="views"]`,
		},

		contentType: func(url string) string {
			if strings.Contains(url, "/videos/") {
				return "video"
			}
			return "post"
		},
	}
}
