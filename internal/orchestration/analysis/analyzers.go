package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zjrosen/textflow/internal/orchestration/task"
)

// Task function variants. All three share task.Func's convention.
type (
	SentimentFunc = task.Func[string, SentimentResult]
	SummaryFunc   = task.Func[string, SummaryResult]
	TopicsFunc    = task.Func[string, []string]
)

// Analyzers bundles the three task functions an engine dispatches.
type Analyzers struct {
	Sentiment SentimentFunc
	Summary   SummaryFunc
	Topics    TopicsFunc
}

// Validate checks that every task function is set.
func (a Analyzers) Validate() error {
	var missing []string
	if a.Sentiment == nil {
		missing = append(missing, string(KindSentiment))
	}
	if a.Summary == nil {
		missing = append(missing, string(KindSummary))
	}
	if a.Topics == nil {
		missing = append(missing, string(KindTopics))
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing analyzers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Runners returns the type-erased runners keyed by kind.
func (a Analyzers) Runners() map[Kind]task.Runner {
	return map[Kind]task.Runner{
		KindSentiment: task.Bind(string(KindSentiment), a.Sentiment),
		KindSummary:   task.Bind(string(KindSummary), a.Summary),
		KindTopics:    task.Bind(string(KindTopics), a.Topics),
	}
}

// ErrIncomplete is returned by Aggregate when a sub-result is missing.
var ErrIncomplete = errors.New("analysis incomplete")

// Aggregate decodes the three task outputs and assembles the final result.
// Either all sub-results are present or no aggregate is returned.
func Aggregate(text string, outputs map[Kind]json.RawMessage, processedAt time.Time) (*AnalysisResult, error) {
	for _, k := range Kinds {
		if len(outputs[k]) == 0 {
			return nil, fmt.Errorf("%w: no %s result", ErrIncomplete, k)
		}
	}

	res := &AnalysisResult{OriginalText: text, ProcessedAt: processedAt}
	if err := json.Unmarshal(outputs[KindSentiment], &res.Sentiment); err != nil {
		return nil, task.Wrap(task.KindMalformed, err, "decoding sentiment result")
	}
	if err := res.Sentiment.Validate(); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(outputs[KindSummary], &res.Summary); err != nil {
		return nil, task.Wrap(task.KindMalformed, err, "decoding summary result")
	}
	if err := json.Unmarshal(outputs[KindTopics], &res.Topics); err != nil {
		return nil, task.Wrap(task.KindMalformed, err, "decoding topics result")
	}
	if res.Topics == nil {
		res.Topics = []string{}
	}
	return res, nil
}

// ParseSentimentReply parses a model reply of the form "LABEL confidence".
func ParseSentimentReply(reply string, now time.Time) (SentimentResult, error) {
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return SentimentResult{}, task.Errorf(task.KindMalformed, "sentiment reply %q: want \"LABEL confidence\"", reply)
	}

	conf, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return SentimentResult{}, task.Errorf(task.KindMalformed, "sentiment reply %q: confidence is not a number", reply)
	}

	res := SentimentResult{
		Label:      Label(strings.ToUpper(strings.Trim(fields[0], ",:"))),
		Confidence: conf,
		Timestamp:  now,
	}
	if problem := res.problem(); problem != "" {
		return SentimentResult{}, task.Errorf(task.KindMalformed, "sentiment reply %q: %s", reply, problem)
	}
	return res, nil
}

// Validate checks the label is known and the confidence lies in [0,1].
// NaN is rejected. Failures are Malformed task errors.
func (s SentimentResult) Validate() error {
	if problem := s.problem(); problem != "" {
		return task.Errorf(task.KindMalformed, "sentiment result: %s", problem)
	}
	return nil
}

func (s SentimentResult) problem() string {
	if !s.Label.Valid() {
		return fmt.Sprintf("label %q is not POSITIVE, NEGATIVE or NEUTRAL", s.Label)
	}
	if !(s.Confidence >= 0 && s.Confidence <= 1) {
		return fmt.Sprintf("confidence %v is outside [0,1]", s.Confidence)
	}
	return ""
}

// ParseTopicsReply splits a comma-separated model reply into trimmed topics.
// Empty entries are dropped; order is preserved.
func ParseTopicsReply(reply string) []string {
	parts := strings.Split(reply, ",")
	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			topics = append(topics, p)
		}
	}
	return topics
}
