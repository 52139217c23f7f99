package domain

import (
	"fmt"
	"strings"
	"time"
)

// Feedback is a single piece of product feedback as stored.
type Feedback struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Analysis  *Analysis `json:"analysis"`
}

// Analysis holds the labels the classifier assigned to one feedback record.
type Analysis struct {
	FeedbackID int64     `json:"feedback_id"`
	Category   Category  `json:"category"`
	Sentiment  Sentiment `json:"sentiment"`
	Urgency    Urgency   `json:"urgency"`
	LabeledAt  time.Time `json:"labeled_at"`
}

// Labels is the validated classifier result for one item.
type Labels struct {
	Category  Category  `json:"category"`
	Sentiment Sentiment `json:"sentiment"`
	Urgency   Urgency   `json:"urgency"`
}

type Category string

const (
	CategoryDocs           Category = "docs"
	CategoryOnboarding     Category = "onboarding"
	CategoryWranglerCLI    Category = "wrangler_cli"
	CategoryWorkersRuntime Category = "workers_runtime"
	CategoryD1             Category = "d1"
	CategoryWorkflows      Category = "workflows"
	CategoryAISearch       Category = "ai_search"
	CategoryObservability  Category = "observability"
	CategoryDashboardUI    Category = "dashboard_ui"
	CategoryOther          Category = "other"
)

// Categories lists every permitted category in display order.
var Categories = []Category{
	CategoryDocs,
	CategoryOnboarding,
	CategoryWranglerCLI,
	CategoryWorkersRuntime,
	CategoryD1,
	CategoryWorkflows,
	CategoryAISearch,
	CategoryObservability,
	CategoryDashboardUI,
	CategoryOther,
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Sentiments is ordered the way stats are reported.
var Sentiments = []Sentiment{SentimentPositive, SentimentNeutral, SentimentNegative}

type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Urgencies is ordered the way stats are reported.
var Urgencies = []Urgency{UrgencyHigh, UrgencyMedium, UrgencyLow}

// ParseCategory matches s against the category enumeration.
// Surrounding whitespace and letter case are ignored.
func ParseCategory(s string) (Category, error) {
	return parseEnum("category", s, Categories)
}

// ParseSentiment matches s against the sentiment enumeration.
func ParseSentiment(s string) (Sentiment, error) {
	return parseEnum("sentiment", s, Sentiments)
}

// ParseUrgency matches s against the urgency enumeration.
func ParseUrgency(s string) (Urgency, error) {
	return parseEnum("urgency", s, Urgencies)
}

func parseEnum[T ~string](field, s string, allowed []T) (T, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", fmt.Errorf("%w: %s is missing", ErrMalformedClassifierOutput, field)
	}
	for _, a := range allowed {
		if string(a) == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q is not one of %s", ErrMalformedClassifierOutput, field, s, joinEnum(allowed))
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// EnumValues returns the string form of an enumeration, for prompts and schemas.
func EnumValues[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// Count is one bucket of a grouped aggregate.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats holds the four dashboard aggregates.
type Stats struct {
	Sources    []Count `json:"sources"`
	Categories []Count `json:"categories"`
	Sentiments []Count `json:"sentiments"`
	Urgencies  []Count `json:"urgencies"`
}

// OrderCounts sorts buckets by the position of their name in order.
// Names not in order and zero counts are dropped.
func OrderCounts[T ~string](counts []Count, order []T) []Count {
	byName := make(map[string]int, len(counts))
	for _, c := range counts {
		byName[c.Name] += c.Count
	}
	out := make([]Count, 0, len(order))
	for _, name := range order {
		if n := byName[string(name)]; n > 0 {
			out = append(out, Count{Name: string(name), Count: n})
		}
	}
	return out
}
