// =============================================================================
// coordinator.go - コーディネーター
// =============================================================================
//
// 3つのループを独立したスケジュールで動かします。
//
//	Scrape  (既定 3分) : アダプタ → 記事ログ
//	Collect (既定 30秒): 記事ログ → ワークキュー
//	Ingest  (既定 1秒) : ワークキュー → シンク
//
// 【ループの状態】
//
//	Idle → Running → (Error | Running) → Stopped
//
// 1回の実行でエラーやパニックが起きても、ログに残して error_backoff 後に再開します。
// Stopped に移るのはコンテキストのキャンセル（SIGINT / SIGTERM）だけで、
// 全ループが止まった後に Flush で状態ファイルを保存します。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ループ名
const (
	LoopScrape  = "scrape"
	LoopCollect = "collect"
	LoopIngest  = "ingest"
)

// LoopState はループの状態
type LoopState int

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopError
	LoopStopped
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopError:
		return "error"
	case LoopStopped:
		return "stopped"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// IngestStats はキューを処理した結果の集計
type IngestStats struct {
	Accepted int
	Rejected int // 検証・解析エラー
	Dropped  int // シンク書き込みのリトライ切れ
}

func (s *IngestStats) add(res IngestionResult) {
	switch {
	case res.Accepted:
		s.Accepted++
	case res.ErrorKind == ErrorKindSinkWrite:
		s.Dropped++
	default:
		s.Rejected++
	}
}

// RunReport はRunOnce / Replay の結果
type RunReport struct {
	Scrape   ScrapeResult
	Enqueued int
	Ingest   IngestStats
}

// Coordinator は3つのループと共有状態を管理する
type Coordinator struct {
	sources   []*SourceRuntime
	queued    *QueuedStore
	queue     *WorkQueue
	scraper   *Scraper
	collector *Collector
	ingester  *Ingester
	sched     ScheduleConfig
	clock     Clock
	log       *slog.Logger
	metrics   *Metrics

	mu     sync.Mutex
	states map[string]LoopState
}

// NewCoordinator はコーディネーターを作る
func NewCoordinator(sources []*SourceRuntime, queued *QueuedStore, ingester *Ingester, sched ScheduleConfig, clock Clock, log *slog.Logger, metrics *Metrics) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	queue := NewWorkQueue()
	return &Coordinator{
		sources:   sources,
		queued:    queued,
		queue:     queue,
		scraper:   NewScraper(sources, log.With("loop", LoopScrape), metrics),
		collector: NewCollector(sources, queued, queue, clock, log.With("loop", LoopCollect), metrics),
		ingester:  ingester,
		sched:     sched,
		clock:     clock,
		log:       log,
		metrics:   metrics,
		states: map[string]LoopState{
			LoopScrape:  LoopIdle,
			LoopCollect: LoopIdle,
			LoopIngest:  LoopIdle,
		},
	}
}

// Queue はワークキューを返す
func (c *Coordinator) Queue() *WorkQueue { return c.queue }

// LoopState はループの現在の状態を返す
func (c *Coordinator) LoopState(name string) LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[name]
}

func (c *Coordinator) setState(name string, s LoopState) {
	c.mu.Lock()
	c.states[name] = s
	c.mu.Unlock()
}

// =============================================================================
// 常駐モード
// =============================================================================

// Run は3つのループをctxがキャンセルされるまで動かし、最後にFlushする
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("coordinator starting",
		"sources", len(c.sources),
		"scrape_interval", c.sched.ScrapeInterval,
		"collect_interval", c.sched.CollectInterval,
		"poll_interval", c.sched.PollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.loop(gctx, LoopScrape, c.sched.ScrapeInterval, c.scrapeStep)
		return nil
	})
	g.Go(func() error {
		c.loop(gctx, LoopCollect, c.sched.CollectInterval, c.collectStep)
		return nil
	})
	g.Go(func() error {
		c.loop(gctx, LoopIngest, c.sched.PollInterval, c.ingestStep)
		return nil
	})
	err := g.Wait()

	if ferr := c.Flush(context.WithoutCancel(ctx)); ferr != nil {
		c.log.Warn("flush failed", "error", ferr)
	}
	c.log.Info("coordinator stopped", "queue_remaining", c.queue.Len())
	return err
}

// loop はstepを interval ごとに実行する（失敗時は error_backoff 後）
func (c *Coordinator) loop(ctx context.Context, name string, interval time.Duration, step func(context.Context) error) {
	log := c.log.With("loop", name)
	defer c.setState(name, LoopStopped)

	for ctx.Err() == nil {
		c.setState(name, LoopRunning)
		err := c.safeStep(ctx, step)

		wait := interval
		if err != nil && ctx.Err() == nil {
			c.setState(name, LoopError)
			log.Error("loop iteration failed", "error", err, "backoff", c.sched.ErrorBackoff)
			wait = c.sched.ErrorBackoff
		}
		if !sleepCtx(ctx, c.clock, wait) {
			return
		}
	}
}

// safeStep はstep内のパニックをエラーに変換する
func (c *Coordinator) safeStep(ctx context.Context, step func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step(ctx)
}

func (c *Coordinator) scrapeStep(ctx context.Context) error {
	res := c.scraper.RunCycle(ctx)
	c.log.Info("scrape cycle complete", "new", res.Total(), "failed_sources", len(res.Errors))
	if len(c.sources) > 0 && len(res.Errors) == len(c.sources) {
		errs := make([]error, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, e.Err)
		}
		return fmt.Errorf("all sources failed: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Coordinator) collectStep(ctx context.Context) error {
	_, err := c.collector.RunCycle(ctx)
	return err
}

func (c *Coordinator) ingestStep(ctx context.Context) error {
	c.Drain(ctx)
	return nil
}

// =============================================================================
// キュー処理
// =============================================================================

// Drain はキューが空になるまで1件ずつ処理する
//
// キャンセルは要素の合間にだけ確認する。処理中の要素のシンク書き込みは
// キャンセルから切り離したコンテキストで最後まで行う。
func (c *Coordinator) Drain(ctx context.Context) IngestStats {
	var stats IngestStats
	for ctx.Err() == nil {
		item, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		stats.add(c.ingestItem(context.WithoutCancel(ctx), item))
	}
	c.metrics.queueDepth(c.queue.Len())
	return stats
}

// ingestItem は1件を処理する（パニックは "parse" として扱う）
func (c *Coordinator) ingestItem(ctx context.Context, item WorkQueueItem) (res IngestionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("ingest panicked", "loop", LoopIngest, "source", item.Source, "panic", r)
			res = IngestionResult{ErrorKind: ErrorKindParse}
		}
	}()
	return c.ingester.Ingest(ctx, item.Payload)
}

// =============================================================================
// 単発モード
// =============================================================================

// RunOnce はスクレイプ → コレクト → キューの全件処理を1回だけ行う
func (c *Coordinator) RunOnce(ctx context.Context) (RunReport, error) {
	var rep RunReport
	rep.Scrape = c.scraper.RunCycle(ctx)

	n, cerr := c.collector.RunCycle(ctx)
	rep.Enqueued = n
	rep.Ingest = c.Drain(ctx)

	ferr := c.Flush(context.WithoutCancel(ctx))
	c.log.Info("run complete",
		"new", rep.Scrape.Total(),
		"failed_sources", len(rep.Scrape.Errors),
		"enqueued", rep.Enqueued,
		"accepted", rep.Ingest.Accepted,
		"rejected", rep.Ingest.Rejected,
		"dropped", rep.Ingest.Dropped)
	return rep, errors.Join(cerr, ferr, ctx.Err())
}

// Replay はスクレイプせずに、記事ログにある全記事をシンクへ流し直す
//
// 投入済み集合は見ないので、過去にシンク書き込みでドロップした記事も再送される。
func (c *Coordinator) Replay(ctx context.Context) (RunReport, error) {
	var rep RunReport
	n, cerr := c.collector.EnqueueAll(ctx)
	rep.Enqueued = n
	rep.Ingest = c.Drain(ctx)

	ferr := c.Flush(context.WithoutCancel(ctx))
	c.log.Info("replay complete",
		"enqueued", rep.Enqueued,
		"accepted", rep.Ingest.Accepted,
		"rejected", rep.Ingest.Rejected,
		"dropped", rep.Ingest.Dropped)
	return rep, errors.Join(cerr, ferr, ctx.Err())
}

// Flush は全ソースの重複排除ストアと投入済み集合を保存する
// 履歴を読み込めていないストアは保存しない
func (c *Coordinator) Flush(ctx context.Context) error {
	var errs []error
	for _, src := range c.sources {
		if !src.Dedup.Loaded() {
			c.log.Warn("dedup history never loaded, not saving", "source", src.Name())
			continue
		}
		if err := src.Dedup.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.queued.Save(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
