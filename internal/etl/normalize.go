package etl

import "strings"

// NormalizeTopic canonicalizes a hashtag/topic for uniqueness: lowercase,
// leading '#' stripped, whitespace and hyphens folded to underscores, every
// other character outside [a-z0-9_] dropped, runs of underscores collapsed,
// result truncated to 50 characters. The function is idempotent.
func NormalizeTopic(topic string) string {
	s := strings.ToLower(strings.TrimSpace(topic))
	s = strings.TrimPrefix(s, "#")

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_', r == ' ', r == '-', r == '\t':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 50 {
		out = strings.Trim(out[:50], "_")
	}
	return out
}
