package store

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies a supported social network.
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformYouTube   Platform = "youtube"
	PlatformX         Platform = "x"
)

// AllPlatforms lists every supported platform in bootstrap order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformTikTok, PlatformInstagram, PlatformLinkedIn,
		PlatformFacebook, PlatformYouTube, PlatformX,
	}
}

var displayNames = map[Platform]string{
	PlatformTikTok:    "TikTok",
	PlatformInstagram: "Instagram",
	PlatformLinkedIn:  "LinkedIn",
	PlatformFacebook:  "Facebook",
	PlatformYouTube:   "YouTube",
	PlatformX:         "X / Twitter",
}

// DisplayName returns the human-readable name for a platform.
func DisplayName(p Platform) string {
	if n, ok := displayNames[p]; ok {
		return n
	}
	return string(p)
}

// ValidPlatform reports whether p names a supported platform.
func ValidPlatform(p Platform) bool {
	for _, known := range AllPlatforms() {
		if p == known {
			return true
		}
	}
	return false
}

// Source is a platform definition row.
type Source struct {
	ID          int64
	Platform    Platform
	DisplayName string
	Enabled     bool
	Metadata    map[string]string
}

// TrendStatus is the lifecycle state of a trend. Transitions only move
// forward: active -> declining -> archived.
type TrendStatus string

const (
	StatusActive    TrendStatus = "active"
	StatusDeclining TrendStatus = "declining"
	StatusArchived  TrendStatus = "archived"
)

// Trend is one unique topic per source.
type Trend struct {
	ID                int64
	SourceID          int64
	Platform          Platform
	Topic             string
	NormalizedTopic   string
	URL               string
	FirstDiscoveredAt time.Time
	LastSeenAt        time.Time
	Status            TrendStatus
	Metadata          map[string]string
}

// MetricType enumerates the engagement datum kinds.
type MetricType string

const (
	MetricPosts          MetricType = "posts"
	MetricViews          MetricType = "views"
	MetricLikes          MetricType = "likes"
	MetricShares         MetricType = "shares"
	MetricComments       MetricType = "comments"
	MetricFollowers      MetricType = "followers"
	MetricEngagementRate MetricType = "engagement_rate"
	MetricOther          MetricType = "other"
)

// MetricCaps holds the per-type maximum accepted values. Values above the cap
// are clamped during validation.
var MetricCaps = map[MetricType]int64{
	MetricLikes:    1_000_000_000,
	MetricComments: 100_000_000,
	MetricViews:    10_000_000_000,
}

// Metric is one engagement datum tied to a trend version.
type Metric struct {
	ID             int64
	TrendVersionID int64
	Type           MetricType
	Value          int64
	Unit           string // "count" or "percentage"
	CollectedAt    time.Time
}

// Delta describes how one measure moved between two snapshots.
type Delta struct {
	Previous      float64 `json:"previous"`
	Current       float64 `json:"current"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	Direction     string  `json:"direction"` // up | down | stable
}

// ChangeFromPrevious compares a snapshot against the latest prior snapshot of
// the same trend on an earlier version date. Nil when no prior exists.
type ChangeFromPrevious struct {
	PreviousDate    string `json:"previous_version_date"`
	EngagementScore Delta  `json:"engagement_score"`
	Likes           Delta  `json:"likes"`
	Comments        Delta  `json:"comments"`
	Views           Delta  `json:"views"`
	Rank            Delta  `json:"rank"`
}

// TrendVersion is one dated snapshot of a trend.
type TrendVersion struct {
	ID                 int64
	TrendID            int64
	VersionDate        time.Time // UTC midnight
	VersionNumber      int       // monotonic within a date, starts at 1
	EngagementScore    float64
	SentimentPolarity  float64
	SentimentLabel     string
	Language           string
	LanguageConfidence float64
	Rank               int
	Change             *ChangeFromPrevious
	ScrapedAt          time.Time
	RunVersionID       uuid.UUID
	Decayed            bool
	Metrics            []Metric
}

// RunStatus is the state of one scheduler invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunLog is one row per scheduler invocation.
type RunLog struct {
	ID              int64
	Platform        Platform
	Status          RunStatus
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationSeconds float64
	RecordsScraped  int
	RecordsUploaded int
	ErrorMessage    string
	ErrorTraceback  string
	RunVersionID    uuid.UUID
	Metadata        map[string]string
}

// SchedulerSetting is the per-platform scheduling config row.
type SchedulerSetting struct {
	ID             int64
	Platform       Platform
	Enabled        bool
	FrequencyHours float64
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	RunCount       int64
	SuccessCount   int64
	FailureCount   int64
	Metadata       map[string]string
}

// Midnight normalizes t to UTC midnight, the canonical version_date.
func Midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
