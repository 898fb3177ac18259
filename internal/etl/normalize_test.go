package etl

import (
	"strings"
	"testing"
)

func TestNormalizeTopic(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"#SummerVibes", "summervibes"},
		{"Summer Vibes", "summer_vibes"},
		{"summer-vibes-2026", "summer_vibes_2026"},
		{"  #Dance Challenge!  ", "dance_challenge"},
		{"a__b", "a_b"},
		{"émoji🔥fire", "mojifire"},
		{"___", ""},
		{"#", ""},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := NormalizeTopic(tc.in); got != tc.want {
			t.Errorf("NormalizeTopic(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTopicIdempotent(t *testing.T) {
	inputs := []string{
		"#SummerVibes", "Dance Challenge", "a-b_c d", strings.Repeat("x y", 40),
	}
	for _, in := range inputs {
		once := NormalizeTopic(in)
		twice := NormalizeTopic(once)
		if once != twice {
			t.Errorf("NormalizeTopic not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
