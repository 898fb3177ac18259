package adapter

import (
	"strings"
	"time"

	"github.com/trendscope/trendscope/internal/store"
)

// NewInstagram builds the Instagram adapter over the public explore surface.
func NewInstagram() Adapter {
	return &domAdapter{
		platform:     store.PlatformInstagram,
		origin:       "https://www.instagram.com",
		discoveryURL: "https://www.instagram.com/explore/",
		rateDelay:    4 * time.Second,
		navTimeout:   30 * time.Second,
		selTimeout:   10 * time.Second,

		topicChain: selectorChain{
			`a[href*="/explore/tags/"] span`,
			`a[href*="/explore/tags/"]`,
			`div[role="button"] span[dir="auto"]`,
		},
		linkChain: selectorChain{
			`a[href*="/explore/tags/"]`,
		},
		postChain: selectorChain{
			`article a[href*="/p/"]`,
			`article a[href*="/reel/"]`,
			`main a[href*="/p/"]`,
		},
		captionChain: selectorChain{
			`h1[dir="auto"]`,
			`div[data-testid="post-comment-root"] span`,
			`article span[dir="auto"]`,
		},
		likeChain: selectorChain{
			`section a[href*="/liked_by/"] span`,
			`section span[class*="like"]`,
			`a[href$="/liked_by/"]`,
		},
		commentChain: selectorChain{
			`a[href$="/comments/"] span`,
			`span[class*="comment"]`,
		},
		viewChain: selectorChain{
			`span[class*="view"]`,
			`div[class*="videoViews"]`,
		},

		contentType: func(url string) string {
			switch {
			case strings.Contains(url, "/reel/"):
				return "reel"
			case strings.Contains(url, "/p/"):
				return "photo"
			default:
				return "post"
			}
		},
	}
}
