package adapter

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/errkind"
)

var engagementRe = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*([KMB]?)`)

// ParseEngagement converts platform engagement strings to counts:
// "5.2K" -> 5200, "1.2M" -> 1200000, "3.4B" -> 3400000000, "1,234" -> 1234.
// Unparseable input yields 0; callers treat that as a missing optional field.
func ParseEngagement(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	m := engagementRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	numStr := m[1]
	// "1,234" is a thousands separator; "5.2" is a decimal.
	if strings.Contains(numStr, ",") && !strings.Contains(numStr, ".") {
		numStr = strings.ReplaceAll(numStr, ",", "")
	} else {
		numStr = strings.ReplaceAll(numStr, ",", ".")
	}
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "K":
		n *= 1e3
	case "M":
		n *= 1e6
	case "B":
		n *= 1e9
	}
	if n < 0 {
		return 0
	}
	return int64(n)
}

// selectorChain is an ordered list of fallback selectors for one essential
// field. Platforms ship several chains because public DOM shapes churn.
type selectorChain []string

// queryFirst walks the chain and returns the matches of the first selector
// that yields at least one element. Exhausting the chain is a SCRAPE error.
func queryFirst(ctx context.Context, sess browser.Session, chain selectorChain) ([]browser.Element, error) {
	for _, sel := range chain {
		els, err := sess.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		if len(els) > 0 {
			return els, nil
		}
	}
	return nil, errkind.New(errkind.Scrape, "element not found after %d selector fallbacks", len(chain))
}

// queryOptional is queryFirst for non-essential fields: exhausting the chain
// returns nil without error.
func queryOptional(ctx context.Context, sess browser.Session, chain selectorChain) []browser.Element {
	els, err := queryFirst(ctx, sess, chain)
	if err != nil {
		return nil
	}
	return els
}

// firstText returns the text of the first element in the chain, or "".
func firstText(ctx context.Context, sess browser.Session, chain selectorChain) string {
	els := queryOptional(ctx, sess, chain)
	if len(els) == 0 {
		return ""
	}
	return strings.TrimSpace(els[0].Text())
}

// cleanTopic strips decoration from a scraped topic string.
func cleanTopic(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Trending · ")
	return s
}

// absoluteURL resolves hrefs scraped from a page against the platform origin.
func absoluteURL(origin, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return strings.TrimSuffix(origin, "/") + href
	}
	return ""
}
