package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/internal/logger"
)

func TestCollector_EnqueuesOnceInDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{name: "npr", candidates: []Candidate{
		newsCandidate("npr", "https://npr/1", "One"),
		newsCandidate("npr", "https://npr/2", "Two"),
	}}
	src := newRuntime(t, dir, a)
	_, err := src.Log.Merge([]*Payload{
		a.candidates[0].Raw.(*Payload),
		a.candidates[1].Raw.(*Payload),
	})
	require.NoError(t, err)

	queuedPath := filepath.Join(dir, "data", "queued_ids.json")
	queued := NewQueuedStore(queuedPath)
	require.NoError(t, queued.Load())
	queue := NewWorkQueue()
	clock := newManualClock(testNow)
	c := NewCollector([]*SourceRuntime{src}, queued, queue, clock, logger.Discard(), nil)

	n, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, _ := queue.TryDequeue()
	second, _ := queue.TryDequeue()
	assert.Equal(t, "https://npr/1", first.Payload.Key())
	assert.Equal(t, "https://npr/2", second.Payload.Key())
	assert.Equal(t, "npr", first.Source)
	assert.Equal(t, testNow, first.EnqueuedAt)

	n, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "already queued items are not enqueued again")

	b, err := os.ReadFile(queuedPath)
	require.NoError(t, err)
	assert.JSONEq(t, `["npr|https://npr/1","npr|https://npr/2"]`, string(b))
}

func TestCollector_CorruptLogReportsError(t *testing.T) {
	dir := t.TempDir()
	src := newRuntime(t, dir, &fakeAdapter{name: "bbc"})
	require.NoError(t, os.MkdirAll(filepath.Dir(src.Log.Path()), 0o755))
	require.NoError(t, os.WriteFile(src.Log.Path(), []byte("{"), 0o644))

	c := NewCollector([]*SourceRuntime{src}, NewQueuedStore(filepath.Join(dir, "q.json")), NewWorkQueue(), SystemClock{}, logger.Discard(), nil)
	n, err := c.RunCycle(context.Background())
	assert.Zero(t, n)
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
}

// feedConfig はテストサーバーのフィードを1ソースだけ持つ設定を作る
func feedConfig(t *testing.T, feedURL string) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.ArticlesDir = filepath.Join(dir, "articles")
	cfg.Retry = RetryConfig{MaxAttempts: 2}
	cfg.Sources = []SourceConfig{{
		Name:    "npr",
		Kind:    SourceKindFeed,
		FeedURL: feedURL,
		Rules:   articleRules(),
	}}
	return cfg
}

func TestCoordinator_RunOnceEndToEnd(t *testing.T) {
	srv := newsSite(t)
	cfg := feedConfig(t, srv.URL+"/rss.xml")

	// 1件は前回までに処理済み
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	processed := filepath.Join(cfg.DataDir, "processed_npr.json")
	require.NoError(t, os.WriteFile(processed, []byte(`["`+srv.URL+`/a2"]`), 0o644))

	sink := &fakeSink{}
	ctx := context.Background()
	coord, err := Build(ctx, cfg, BuildOptions{
		Log:   logger.Discard(),
		Clock: newManualClock(testNow),
		Sink:  sink,
	})
	require.NoError(t, err)

	rep, err := coord.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scrape.Total())
	assert.Empty(t, rep.Scrape.Errors)
	assert.Equal(t, 2, rep.Enqueued)
	assert.Equal(t, IngestStats{Accepted: 2}, rep.Ingest)
	assert.Equal(t, 2, sink.Calls(), "exactly one write per new item")

	var headlines []string
	for _, d := range sink.Docs() {
		headlines = append(headlines, d.Headline)
	}
	assert.Equal(t, []string{"Nvidia beats estimates", "Apple ships new iPad"}, headlines)

	store := NewFileDedupStore(processed)
	require.NoError(t, store.Load(ctx))
	assert.Equal(t, 3, store.Len())

	// 2回目は何も書き込まない
	rep, err = coord.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Scrape.Total())
	assert.Zero(t, rep.Enqueued)
	assert.Equal(t, 2, sink.Calls())
}

func TestCoordinator_UnreadableHistoryIsRetried(t *testing.T) {
	srv := newsSite(t)
	cfg := feedConfig(t, srv.URL+"/rss.xml")
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(cfg.DataDir, 0o755))
	processed := filepath.Join(cfg.DataDir, "processed_npr.json")
	require.NoError(t, os.WriteFile(processed, []byte(`["`+srv.URL+`/a1",`), 0o644))

	sink := &fakeSink{}
	coord, err := Build(ctx, cfg, BuildOptions{Log: logger.Discard(), Clock: newManualClock(testNow), Sink: sink})
	require.NoError(t, err)

	rep, err := coord.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Scrape.Errors, 1)
	assert.Zero(t, rep.Scrape.Total())
	assert.Zero(t, sink.Calls())
	b, err := os.ReadFile(processed)
	require.NoError(t, err)
	assert.Equal(t, `["`+srv.URL+`/a1",`, string(b), "flush does not overwrite unreadable history")

	// ファイルが直れば次のサイクルで読み込み、処理済みの記事は取り込まない
	history := `["` + srv.URL + `/a1","` + srv.URL + `/a2","` + srv.URL + `/a3"]`
	require.NoError(t, os.WriteFile(processed, []byte(history), 0o644))
	rep, err = coord.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Scrape.Errors)
	assert.Zero(t, rep.Scrape.Total())
	assert.Zero(t, rep.Enqueued)
	assert.Zero(t, sink.Calls())

	b, err = os.ReadFile(processed)
	require.NoError(t, err)
	assert.JSONEq(t, history, string(b))
}

func TestCoordinator_ReplayFromLogs(t *testing.T) {
	srv := newsSite(t)
	cfg := feedConfig(t, srv.URL+"/rss.xml")
	ctx := context.Background()

	// 前回の実行で記事ログまで書けたが、シンクには届かなかった
	down := &fakeSink{alwaysErr: true}
	coord, err := Build(ctx, cfg, BuildOptions{Log: logger.Discard(), Sink: down})
	require.NoError(t, err)
	rep, err := coord.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Ingest.Dropped)

	// ドロップした記事も投入済みとして記録されているが、Replayはログから全件流し直す
	queued := NewQueuedStore(filepath.Join(cfg.DataDir, "queued_ids.json"))
	require.NoError(t, queued.Load())
	assert.Equal(t, 3, queued.Len())

	up := &fakeSink{}
	coord, err = Build(ctx, cfg, BuildOptions{Log: logger.Discard(), Sink: up})
	require.NoError(t, err)

	rep, err = coord.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Scrape.Total(), "replay does not scrape")
	assert.Equal(t, 3, rep.Enqueued)
	assert.Equal(t, 3, rep.Ingest.Accepted)
	assert.Equal(t, 3, up.Calls())

	// 既に書き込まれた記事の再送は同じIDへの上書き
	rep, err = coord.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Ingest.Accepted)
	ids := map[string]bool{}
	for _, d := range up.Docs() {
		ids[d.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestCollector_EnqueueAllIgnoresQueuedSet(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{name: "npr"}
	src := newRuntime(t, dir, a)
	one := newsCandidate("npr", "https://npr/1", "One").Raw.(*Payload)
	_, err := src.Log.Merge([]*Payload{one})
	require.NoError(t, err)

	queued := NewQueuedStore(filepath.Join(dir, "data", "queued_ids.json"))
	queued.Mark("npr", "https://npr/1")
	queue := NewWorkQueue()
	c := NewCollector([]*SourceRuntime{src}, queued, queue, newManualClock(testNow), logger.Discard(), nil)

	n, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.EnqueueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	item, ok := queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "https://npr/1", item.Payload.Key())
}

// panicSink は特定の見出しでパニックするシンク
type panicSink struct {
	fakeSink
	headline string
}

func (s *panicSink) AddDocument(ctx context.Context, a *NormalizedArticle) (string, error) {
	if a.Headline == s.headline {
		panic("sink exploded")
	}
	return s.fakeSink.AddDocument(ctx, a)
}

func TestCoordinator_DrainIsolatesPanics(t *testing.T) {
	sink := &panicSink{headline: "Two"}
	ing := newTestIngester(sink, RetryConfig{MaxAttempts: 1}, nil)
	coord := NewCoordinator(nil, NewQueuedStore(filepath.Join(t.TempDir(), "q.json")), ing, ScheduleConfig{}, newManualClock(testNow), logger.Discard(), nil)

	for _, h := range []string{"One", "Two", "Three"} {
		coord.Queue().Enqueue(WorkQueueItem{
			Source:  "npr",
			Payload: newsCandidate("npr", "https://npr/"+h, h).Raw.(*Payload),
		})
	}

	stats := coord.Drain(context.Background())
	assert.Equal(t, IngestStats{Accepted: 2, Rejected: 1}, stats)
	assert.Zero(t, coord.Queue().Len())
}

func TestCoordinator_RunUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	a := &fakeAdapter{name: "npr", candidates: []Candidate{
		newsCandidate("npr", "https://npr/1", "One"),
		newsCandidate("npr", "https://npr/2", "Two"),
	}}
	failing := &fakeAdapter{name: "bbc", panicFetch: true}
	sources := []*SourceRuntime{newRuntime(t, dir, failing), newRuntime(t, dir, a)}

	clock := newManualClock(testNow)
	sink := &fakeSink{}
	ing := NewIngester(sink, NewTopicTagger(DefaultTopics), IngesterConfig{Retry: RetryConfig{MaxAttempts: 1}}, clock, logger.Discard(), nil)
	queued := NewQueuedStore(filepath.Join(dir, "data", "queued_ids.json"))
	coord := NewCoordinator(sources, queued, ing, DefaultConfig().Schedule, clock, logger.Discard(), nil)

	for _, name := range []string{LoopScrape, LoopCollect, LoopIngest} {
		assert.Equal(t, LoopIdle, coord.LoopState(name))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return sink.Calls() == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}

	for _, name := range []string{LoopScrape, LoopCollect, LoopIngest} {
		assert.Equal(t, LoopStopped, coord.LoopState(name), name)
	}
	assert.Equal(t, 2, sink.Calls(), "items are written once across cycles")
	_, err := os.Stat(filepath.Join(dir, "data", "queued_ids.json"))
	assert.NoError(t, err, "state is flushed on shutdown")
}

func TestLoopState_String(t *testing.T) {
	assert.Equal(t, "idle", LoopIdle.String())
	assert.Equal(t, "running", LoopRunning.String())
	assert.Equal(t, "error", LoopError.String())
	assert.Equal(t, "stopped", LoopStopped.String())
}
