// Package enrich computes sentiment and language signals for caption text
// and aggregates them across sample posts.
package enrich

import (
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/jonreiter/govader"
)

// Sentiment label thresholds per the scoring contract.
const (
	positiveThreshold = 0.1
	negativeThreshold = -0.1
)

const (
	LabelPositive = "positive"
	LabelNeutral  = "neutral"
	LabelNegative = "negative"

	// LanguageUnknown is reported when detection confidence is too low.
	LanguageUnknown = "unknown"
)

// Signal is the per-sample enrichment result.
type Signal struct {
	Polarity           float64
	Label              string
	Language           string // ISO-639-1 or "unknown"
	LanguageConfidence float64
	// Breakdown holds per-detector compound scores.
	Breakdown map[string]float64
}

// Analyzer wraps the sentiment and language detectors.
type Analyzer struct {
	vader         *govader.SentimentIntensityAnalyzer
	minConfidence float64
}

// NewAnalyzer builds an analyzer. Language results below minConfidence are
// reported as "unknown"; zero selects the default of 0.5.
func NewAnalyzer(minConfidence float64) *Analyzer {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &Analyzer{
		vader:         govader.NewSentimentIntensityAnalyzer(),
		minConfidence: minConfidence,
	}
}

// LabelFor maps a polarity to its label.
func LabelFor(polarity float64) string {
	switch {
	case polarity > positiveThreshold:
		return LabelPositive
	case polarity < negativeThreshold:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// Analyze computes sentiment and language for one caption.
func (a *Analyzer) Analyze(text string) Signal {
	text = strings.TrimSpace(text)
	sig := Signal{
		Label:     LabelNeutral,
		Language:  LanguageUnknown,
		Breakdown: map[string]float64{},
	}
	if text == "" {
		return sig
	}

	scores := a.vader.PolarityScores(text)
	sig.Polarity = scores.Compound
	sig.Label = LabelFor(scores.Compound)
	sig.Breakdown["vader"] = scores.Compound

	info := whatlanggo.Detect(text)
	sig.LanguageConfidence = info.Confidence
	if iso := info.Lang.Iso6391(); iso != "" && info.Confidence >= a.minConfidence {
		sig.Language = iso
	}
	return sig
}

// Summary aggregates signals across a trend's sample posts.
type Summary struct {
	Polarity float64
	Label    string
	// LanguageCounts maps detected languages to sample counts.
	LanguageCounts map[string]int
	// PrimaryLanguage is the most common detected language.
	PrimaryLanguage        string
	PrimaryLanguagePercent float64
	// MeanConfidence averages confidence over primary-language samples.
	MeanConfidence float64
}

// Aggregate rolls per-sample signals into one summary: arithmetic-mean
// polarity, most-common label, language distribution and primary language.
func Aggregate(signals []Signal) Summary {
	sum := Summary{
		Label:           LabelNeutral,
		LanguageCounts:  map[string]int{},
		PrimaryLanguage: LanguageUnknown,
	}
	if len(signals) == 0 {
		return sum
	}

	labelCounts := map[string]int{}
	var polarity float64
	for _, s := range signals {
		polarity += s.Polarity
		label := s.Label
		if label == "" {
			label = LabelNeutral
		}
		labelCounts[label]++
		lang := s.Language
		if lang == "" {
			lang = LanguageUnknown
		}
		sum.LanguageCounts[lang]++
	}
	sum.Polarity = polarity / float64(len(signals))

	sum.Label = mostCommon(labelCounts)
	sum.PrimaryLanguage = mostCommon(sum.LanguageCounts)
	sum.PrimaryLanguagePercent = 100 * float64(sum.LanguageCounts[sum.PrimaryLanguage]) / float64(len(signals))

	var conf float64
	var n int
	for _, s := range signals {
		lang := s.Language
		if lang == "" {
			lang = LanguageUnknown
		}
		if lang == sum.PrimaryLanguage {
			conf += s.LanguageConfidence
			n++
		}
	}
	if n > 0 {
		sum.MeanConfidence = conf / float64(n)
	}
	return sum
}

// mostCommon picks the highest-count key, breaking ties alphabetically for
// reproducibility.
func mostCommon(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestCount := "", -1
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}
