// Package analysis defines the three text-analysis tasks, their result types,
// and the aggregate produced when all of them succeed.
package analysis

import (
	"fmt"
	"time"
)

// Kind identifies one of the analysis tasks.
type Kind string

const (
	KindSentiment Kind = "sentiment"
	KindSummary   Kind = "summary"
	KindTopics    Kind = "topics"
)

// Kinds lists every task in scheduling order.
var Kinds = []Kind{KindSentiment, KindSummary, KindTopics}

// ParseKind validates a task name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown analysis kind %q", s)
}

// Label is a sentiment classification.
type Label string

const (
	LabelPositive Label = "POSITIVE"
	LabelNegative Label = "NEGATIVE"
	LabelNeutral  Label = "NEUTRAL"
)

// Valid reports whether l is one of the three known labels.
func (l Label) Valid() bool {
	switch l {
	case LabelPositive, LabelNegative, LabelNeutral:
		return true
	default:
		return false
	}
}

// SentimentResult is the output of the sentiment task.
type SentimentResult struct {
	Label      Label     `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// SummaryResult is the output of the summary task.
// SourceLength is the length of the input text, not of the summary.
type SummaryResult struct {
	Text         string    `json:"summary"`
	SourceLength int       `json:"length"`
	Timestamp    time.Time `json:"timestamp"`
}

// AnalysisResult is the aggregate of all three tasks. ProcessedAt is when the
// cool-down elapsed.
type AnalysisResult struct {
	Sentiment    SentimentResult `json:"sentiment"`
	Summary      SummaryResult   `json:"summary"`
	Topics       []string        `json:"topics"`
	OriginalText string          `json:"originalText"`
	ProcessedAt  time.Time       `json:"processedAt"`
}

// LatestTaskTimestamp returns the most recent sub-result timestamp.
func (r *AnalysisResult) LatestTaskTimestamp() time.Time {
	if r.Sentiment.Timestamp.After(r.Summary.Timestamp) {
		return r.Sentiment.Timestamp
	}
	return r.Summary.Timestamp
}
