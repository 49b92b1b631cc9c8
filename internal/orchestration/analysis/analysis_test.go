package analysis

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/textflow/internal/orchestration/task"
)

// === Reply parsing ===

func TestParseSentimentReply(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := ParseSentimentReply("POSITIVE 0.92", now)
	require.NoError(t, err)
	require.Equal(t, SentimentResult{Label: LabelPositive, Confidence: 0.92, Timestamp: now}, got)

	got, err = ParseSentimentReply("negative, 0.4\n", now)
	require.NoError(t, err)
	require.Equal(t, LabelNegative, got.Label)

	for _, bad := range []string{"", "POSITIVE", "HAPPY 0.9", "NEUTRAL high", "POSITIVE 1.5", "NEGATIVE NaN", "NEUTRAL -0.1"} {
		_, err := ParseSentimentReply(bad, now)
		var te *task.TaskError
		require.ErrorAs(t, err, &te, "reply %q", bad)
		require.Equal(t, task.KindMalformed, te.Kind)
	}
}

func TestParseTopicsReply(t *testing.T) {
	require.Equal(t, []string{"weather", "parks", "city life"}, ParseTopicsReply(" weather, parks ,city life,, "))
	require.Empty(t, ParseTopicsReply(""))
}

func TestParseTopicsReply_NoBlankEntries(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reply := rapid.StringMatching(`[a-z ,]{0,40}`).Draw(t, "reply")
		for _, topic := range ParseTopicsReply(reply) {
			if topic == "" || topic[0] == ' ' || topic[len(topic)-1] == ' ' {
				t.Fatalf("untrimmed topic %q from %q", topic, reply)
			}
		}
	})
}

// === Aggregate ===

func TestAggregate(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sent, _ := json.Marshal(SentimentResult{Label: LabelNeutral, Confidence: 0.5, Timestamp: ts})
	sum, _ := json.Marshal(SummaryResult{Text: "Short.", SourceLength: 11, Timestamp: ts.Add(time.Second)})
	top, _ := json.Marshal([]string{"a", "b"})

	processed := ts.Add(11 * time.Second)
	res, err := Aggregate("hello world", map[Kind]json.RawMessage{
		KindSentiment: sent,
		KindSummary:   sum,
		KindTopics:    top,
	}, processed)
	require.NoError(t, err)
	require.Equal(t, "hello world", res.OriginalText)
	require.Equal(t, []string{"a", "b"}, res.Topics)
	require.Equal(t, 11, res.Summary.SourceLength)
	require.Equal(t, processed, res.ProcessedAt)
	require.Equal(t, ts.Add(time.Second), res.LatestTaskTimestamp())
}

func TestAggregate_Incomplete(t *testing.T) {
	res, err := Aggregate("x", map[Kind]json.RawMessage{
		KindSentiment: json.RawMessage(`{}`),
		KindTopics:    json.RawMessage(`[]`),
	}, time.Now())
	require.ErrorIs(t, err, ErrIncomplete)
	require.Nil(t, res)
}

func TestAggregate_Malformed(t *testing.T) {
	_, err := Aggregate("x", map[Kind]json.RawMessage{
		KindSentiment: json.RawMessage(`{}`),
		KindSummary:   json.RawMessage(`{}`),
		KindTopics:    json.RawMessage(`{"not":"a list"}`),
	}, time.Now())

	var te *task.TaskError
	require.ErrorAs(t, err, &te)
	require.Equal(t, task.KindMalformed, te.Kind)
}

func TestAggregate_RejectsInvalidSentiment(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sum, _ := json.Marshal(SummaryResult{Text: "Short.", SourceLength: 6, Timestamp: ts})

	tests := []struct {
		name      string
		sentiment SentimentResult
		wantErr   string
	}{
		{"unknown label", SentimentResult{Label: "MAYBE", Confidence: 0.5}, `label "MAYBE"`},
		{"lowercase label", SentimentResult{Label: "positive", Confidence: 0.5}, `label "positive"`},
		{"confidence above one", SentimentResult{Label: LabelPositive, Confidence: 1.7}, "confidence 1.7"},
		{"negative confidence", SentimentResult{Label: LabelNeutral, Confidence: -0.2}, "confidence -0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, err := json.Marshal(tt.sentiment)
			require.NoError(t, err)

			res, err := Aggregate("x", map[Kind]json.RawMessage{
				KindSentiment: sent,
				KindSummary:   sum,
				KindTopics:    json.RawMessage(`[]`),
			}, ts)
			require.Nil(t, res)

			var te *task.TaskError
			require.ErrorAs(t, err, &te)
			require.Equal(t, task.KindMalformed, te.Kind)
			require.Contains(t, te.Message, tt.wantErr)
		})
	}
}

func TestSentimentResult_Validate(t *testing.T) {
	require.NoError(t, SentimentResult{Label: LabelNegative, Confidence: 0}.Validate())
	require.NoError(t, SentimentResult{Label: LabelPositive, Confidence: 1}.Validate())
	require.Error(t, SentimentResult{Label: LabelNeutral, Confidence: math.NaN()}.Validate())
	require.Error(t, SentimentResult{Confidence: 0.5}.Validate())
}

// === Analyzers ===

func TestAnalyzers_Validate(t *testing.T) {
	require.ErrorContains(t, Analyzers{}.Validate(), "sentiment, summary, topics")
	require.NoError(t, Offline{}.Analyzers().Validate())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("topics")
	require.NoError(t, err)
	require.Equal(t, KindTopics, k)

	_, err = ParseKind("translation")
	require.Error(t, err)
}

// === Offline analyzers ===

func TestOffline_Sentiment(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	a := Offline{Clock: clock}.Analyzers()

	res, err := a.Sentiment(context.Background(), "What a great, wonderful day. I love it!")
	require.NoError(t, err)
	require.Equal(t, LabelPositive, res.Label)
	require.Equal(t, 1.0, res.Confidence)
	require.Equal(t, clock.Now(), res.Timestamp)

	res, err = a.Sentiment(context.Background(), "The weather report for Tuesday.")
	require.NoError(t, err)
	require.Equal(t, LabelNeutral, res.Label)
	require.Equal(t, 0.5, res.Confidence)

	res, err = a.Sentiment(context.Background(), "Terrible service, bad food, but a nice view.")
	require.NoError(t, err)
	require.Equal(t, LabelNegative, res.Label)
	require.InDelta(t, 0.67, res.Confidence, 0.001)
}

func TestOffline_Summary(t *testing.T) {
	a := Offline{Clock: clockwork.NewFakeClock()}.Analyzers()
	text := "First sentence here. Second one! Third is dropped."

	res, err := a.Summary(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, "First sentence here. Second one!", res.Text)
	require.Equal(t, len(text), res.SourceLength)

	res, err = a.Summary(context.Background(), "no terminator")
	require.NoError(t, err)
	require.Equal(t, "no terminator", res.Text)
}

func TestOffline_SummaryLengthCountsCharacters(t *testing.T) {
	a := Offline{Clock: clockwork.NewFakeClock()}.Analyzers()

	res, err := a.Summary(context.Background(), "Café déjà vu.")
	require.NoError(t, err)
	require.Equal(t, 13, res.SourceLength)
}

func TestOffline_SentimentRepliesAlwaysValid(t *testing.T) {
	a := Offline{Clock: clockwork.NewFakeClock()}.Analyzers()
	vocab := []string{"good", "bad", "love", "hate", "weather", "broken", "great", "the"}

	rapid.Check(t, func(t *rapid.T) {
		picked := rapid.SliceOf(rapid.SampledFrom(vocab)).Draw(t, "words")
		res, err := a.Sentiment(context.Background(), strings.Join(picked, " "))
		if err != nil {
			t.Fatalf("sentiment of %v: %v", picked, err)
		}
		if err := res.Validate(); err != nil {
			t.Fatalf("sentiment of %v: %v", picked, err)
		}
	})
}

func TestOffline_Topics(t *testing.T) {
	a := Offline{Clock: clockwork.NewFakeClock(), MaxTopics: 3}.Analyzers()

	topics, err := a.Topics(context.Background(),
		"Gardens and gardens. Rivers flow past gardens while rivers shine; mountains watch.")
	require.NoError(t, err)
	require.Equal(t, []string{"gardens", "rivers", "flow"}, topics)
}

func TestOffline_LatencyHonorsContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := Offline{Clock: clock, Latency: time.Hour}.Analyzers()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Topics(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)
}
