package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// Offline builds deterministic analyzers that need no external provider.
// They let the daemon run end to end without model credentials.
type Offline struct {
	Clock clockwork.Clock
	// Latency simulates provider round-trip time per task.
	Latency time.Duration
	// MaxTopics caps the topics extracted; defaults to 5.
	MaxTopics int
}

// Analyzers returns the three offline task functions.
func (o Offline) Analyzers() Analyzers {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.MaxTopics <= 0 {
		o.MaxTopics = 5
	}
	return Analyzers{
		Sentiment: o.sentiment,
		Summary:   o.summary,
		Topics:    o.topics,
	}
}

func (o Offline) wait(ctx context.Context) error {
	if o.Latency <= 0 {
		return nil
	}
	select {
	case <-o.Clock.After(o.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	positiveWords = wordSet("good great excellent amazing love loved happy wonderful fantastic best " +
		"nice pleased delight delightful brilliant awesome enjoy enjoyed positive success superb")
	negativeWords = wordSet("bad terrible awful hate hated sad poor worst horrible angry disappointing " +
		"disappointed fail failed failure negative broken ugly annoying slow problem")
	stopWords = wordSet("the a an and or but if then than that this these those with from into onto " +
		"for of on in at by to is are was were be been being it its as not no so too very can will " +
		"just about over under also have has had do does did our your their there here what which who " +
		"when where while would could should them they we you he she his her him i me my")
)

func wordSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		m[w] = struct{}{}
	}
	return m
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func (o Offline) sentiment(ctx context.Context, text string) (SentimentResult, error) {
	if err := o.wait(ctx); err != nil {
		return SentimentResult{}, err
	}

	var pos, neg int
	for _, w := range words(text) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}

	label, confidence := LabelNeutral, 0.5
	if total := pos + neg; total > 0 {
		margin := float64(pos-neg) / float64(total)
		switch {
		case margin > 0:
			label = LabelPositive
		case margin < 0:
			label = LabelNegative
		}
		confidence = 0.5 + math.Abs(margin)/2
	}

	// Replies take the same "LABEL confidence" shape a model provider returns.
	reply := fmt.Sprintf("%s %.2f", label, confidence)
	return ParseSentimentReply(reply, o.Clock.Now())
}

func (o Offline) summary(ctx context.Context, text string) (SummaryResult, error) {
	if err := o.wait(ctx); err != nil {
		return SummaryResult{}, err
	}

	const maxSentences = 2
	var b strings.Builder
	sentences := 0
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			b.WriteString(strings.TrimSpace(text[start : i+1]))
			b.WriteByte(' ')
			start = i + 1
			sentences++
			if sentences == maxSentences {
				break
			}
		}
	}
	if sentences < maxSentences {
		b.WriteString(strings.TrimSpace(text[start:]))
	}

	return SummaryResult{
		Text:         strings.TrimSpace(b.String()),
		SourceLength: utf8.RuneCountInString(text),
		Timestamp:    o.Clock.Now(),
	}, nil
}

func (o Offline) topics(ctx context.Context, text string) ([]string, error) {
	if err := o.wait(ctx); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	first := make(map[string]int)
	for i, w := range words(text) {
		if len(w) < 4 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, seen := first[w]; !seen {
			first[w] = i
		}
		counts[w]++
	}

	ranked := make([]string, 0, len(counts))
	for w := range counts {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return first[ranked[i]] < first[ranked[j]]
	})

	if len(ranked) > o.MaxTopics {
		ranked = ranked[:o.MaxTopics]
	}
	return ParseTopicsReply(strings.Join(ranked, ", ")), nil
}
