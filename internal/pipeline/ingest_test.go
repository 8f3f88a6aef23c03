package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/internal/logger"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestIngester(sink Sink, retry RetryConfig, metrics *Metrics) *Ingester {
	return NewIngester(sink, NewTopicTagger(DefaultTopics), IngesterConfig{
		Retry:        retry,
		DisplayNames: map[string]string{"ap_news": "AP"},
	}, newManualClock(testNow), logger.Discard(), metrics)
}

func TestIngester_NewsAccepted(t *testing.T) {
	sink := &fakeSink{}
	w := newTestIngester(sink, RetryConfig{MaxAttempts: 3}, nil)

	p := NewNewsPayload(&NewsPayload{
		URL:       "https://apnews.com/article/nvidia-1",
		Headline:  "  Nvidia   beats estimates ",
		Content:   "Full article body",
		Summary:   "Short summary",
		Source:    "ap_news",
		Timestamp: "2024-01-01T09:00:00+09:00",
		Sentiment: &Sentiment{Score: "0.45"},
	})

	res := w.Ingest(context.Background(), p)
	require.True(t, res.Accepted)
	assert.Equal(t, ErrorKindNone, res.ErrorKind)
	require.Len(t, sink.Docs(), 1)

	doc := sink.Docs()[0]
	assert.Equal(t, "Nvidia beats estimates", doc.Headline)
	assert.Equal(t, "Short summary", doc.Content, "summary takes precedence over raw content")
	assert.Equal(t, "AP", doc.Source)
	assert.Equal(t, "2024-01-01T00:00:00Z", doc.PublishedAt)
	require.NotNil(t, doc.SentimentScore)
	assert.InDelta(t, 0.45, *doc.SentimentScore, 1e-9)
	assert.Equal(t, "positive", doc.SentimentCategory)
	assert.Equal(t, []string{"nvidia"}, doc.TopicTags)
	assert.Equal(t, DocumentID("Nvidia beats estimates", "2024-01-01T00:00:00Z", "AP"), doc.ID)
	assert.Equal(t, doc.ID, res.ArticleID)
}

func TestIngester_DefaultsForMissingFields(t *testing.T) {
	w := newTestIngester(&fakeSink{}, RetryConfig{MaxAttempts: 1}, nil)

	a, err := w.Normalize(NewNewsPayload(&NewsPayload{
		URL:      "https://example.com/a",
		Headline: "Weather",
		Content:  "Sunny",
		Source:   "NPR",
	}))
	require.NoError(t, err)
	assert.Equal(t, "npr", a.Source, "unknown codes fall back to lower case")
	assert.Equal(t, testNow.Format(PublishedAtLayout), a.PublishedAt)
	assert.Equal(t, 0.0, *a.SentimentScore)
	assert.Equal(t, "neutral", a.SentimentCategory)
	assert.Equal(t, []string{MiscTopic}, a.TopicTags)
}

func TestIngester_SocialThread(t *testing.T) {
	sink := &fakeSink{}
	w := newTestIngester(sink, RetryConfig{MaxAttempts: 1}, nil)

	p := NewThreadPayload(&SocialThreadPayload{
		Source: "reddit",
		Post: SocialPost{
			ID:        "t3_abc",
			Community: "stocks",
			Category:  "tech1",
			Title:     "Thoughts on Tesla deliveries?",
			URL:       "https://www.reddit.com/r/stocks/comments/abc",
			UpVotes:   120,
			CreatedAt: "2024-02-01T10:00:00Z",
			Tags:      []string{"tesla"},
		},
		Comments: []SocialComment{
			{ID: "c1", Body: "Apple is the better buy", Tags: []string{"apple"}},
			{ID: "c2", Body: "agree", Tags: []string{MiscTopic}},
		},
	})

	res := w.Ingest(context.Background(), p)
	require.True(t, res.Accepted, "error kind %q", res.ErrorKind)

	doc := sink.Docs()[0]
	assert.Equal(t, "Thoughts on Tesla deliveries?", doc.Headline)
	assert.Equal(t, "Apple is the better buy\n\nagree", doc.Content, "comment bodies stand in for an empty post body")
	assert.Equal(t, "2024-02-01T10:00:00Z", doc.PublishedAt)
	assert.Equal(t, "reddit", doc.Source)
	assert.Equal(t, []string{"tesla", "apple"}, doc.TopicTags)
	assert.Equal(t, "stocks", doc.RawMetadata["community"])
	assert.Equal(t, 2, doc.RawMetadata["comment_count"])
}

func TestIngester_ValidationRejectsBeforeSink(t *testing.T) {
	tests := []struct {
		name  string
		news  NewsPayload
		field string
	}{
		{"missing headline", NewsPayload{URL: "https://x/1", Content: "c"}, "headline"},
		{"missing url", NewsPayload{Headline: "h", Content: "c"}, "url"},
		{"missing content", NewsPayload{URL: "https://x/1", Headline: "h"}, "content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			w := newTestIngester(sink, RetryConfig{MaxAttempts: 3}, nil)

			n := tt.news
			res := w.Ingest(context.Background(), NewNewsPayload(&n))

			assert.False(t, res.Accepted)
			assert.Equal(t, ErrorKindValidation, res.ErrorKind)
			assert.Zero(t, sink.Calls(), "sink must not be called for invalid articles")
		})
	}
}

func TestIngester_UnknownKind(t *testing.T) {
	sink := &fakeSink{}
	w := newTestIngester(sink, RetryConfig{MaxAttempts: 1}, nil)

	res := w.Ingest(context.Background(), &Payload{Kind: "video"})
	assert.Equal(t, ErrorKindParse, res.ErrorKind)
	assert.Zero(t, sink.Calls())
}

func TestIngester_RetriesThenSucceeds(t *testing.T) {
	sink := &fakeSink{failFirst: 2}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := newTestIngester(sink, RetryConfig{MaxAttempts: 3, Delay: 0}, metrics)

	res := w.Ingest(context.Background(), newsCandidate("npr", "https://x/1", "Headline").Raw.(*Payload))

	assert.True(t, res.Accepted)
	assert.Equal(t, 3, sink.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SinkRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestTotal.WithLabelValues("accepted")))
}

func TestIngester_DropsAfterMaxAttempts(t *testing.T) {
	sink := &fakeSink{alwaysErr: true}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := newTestIngester(sink, RetryConfig{MaxAttempts: 4, Delay: 0}, metrics)

	res := w.Ingest(context.Background(), newsCandidate("npr", "https://x/1", "Headline").Raw.(*Payload))

	assert.False(t, res.Accepted)
	assert.Equal(t, ErrorKindSinkWrite, res.ErrorKind)
	assert.Equal(t, 4, sink.Calls(), "exactly max_attempts tries")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestTotal.WithLabelValues("dropped")))
}

func TestIngester_WriteErrorCarriesAttempts(t *testing.T) {
	w := newTestIngester(&fakeSink{alwaysErr: true}, RetryConfig{MaxAttempts: 2}, nil)

	a, err := w.Normalize(newsCandidate("npr", "https://x/1", "Headline").Raw.(*Payload))
	require.NoError(t, err)

	_, err = w.write(context.Background(), a)
	var se *SinkWriteError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Attempts)
	assert.True(t, errors.Is(err, errSinkDown))
}
