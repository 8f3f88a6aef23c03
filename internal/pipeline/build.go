package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// BuildOptions は設定以外に外から差し込む依存
//
// nilのフィールドは設定から組み立てる。テストではSink・Social・Clockを差し替える。
type BuildOptions struct {
	Log     *slog.Logger
	Metrics *Metrics
	Clock   Clock
	Sink    Sink
	Social  SocialScrapeClient
	Redis   redis.Cmdable
}

// Build は設定からコーディネーターと全ソースの実行時オブジェクトを組み立てる
//
// 状態ファイル（重複排除・投入済み集合）の読み込み失敗は警告にとどめ、空の集合で続行する。
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*Coordinator, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	tagger := NewTopicTagger(cfg.Topics)
	deps := AdapterDeps{
		Tagger: tagger,
		Fetch:  NewFetchConfig(cfg.HTTP),
		Clock:  clock,
		Log:    log,
		Social: opts.Social,
	}

	rdb := opts.Redis
	if cfg.Dedup.Backend == "redis" && rdb == nil {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Dedup.RedisAddr})
	}

	var sources []*SourceRuntime
	for _, sc := range cfg.EnabledSources() {
		adapter, err := NewSourceAdapter(sc, deps)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		store := newDedupStore(cfg, sc.Name, rdb)
		if err := store.Load(ctx); err != nil {
			logPersistenceWarning(log, sc.Name, err)
		}
		sources = append(sources, &SourceRuntime{
			Adapter: adapter,
			Dedup:   store,
			Log:     NewArticleLog(filepath.Join(cfg.ArticlesDir, sc.Name+"_articles.json")),
		})
		log.Debug("source ready", "source", sc.Name, "kind", sc.Kind, "known_ids", store.Len())
	}

	queued := NewQueuedStore(filepath.Join(cfg.DataDir, "queued_ids.json"))
	if err := queued.Load(); err != nil {
		logPersistenceWarning(log, "", err)
	}

	sink := opts.Sink
	if sink == nil {
		s, err := NewSink(ctx, cfg.Sink, log)
		if err != nil {
			return nil, err
		}
		sink = s
	}

	ingester := NewIngester(sink, tagger, IngesterConfig{
		Retry:        cfg.Retry,
		DisplayNames: cfg.SourceDisplayNames,
	}, clock, log.With("loop", LoopIngest), opts.Metrics)

	return NewCoordinator(sources, queued, ingester, cfg.Schedule, clock, log, opts.Metrics), nil
}

// newDedupStore はバックエンド設定に応じた重複排除ストアを作る
func newDedupStore(cfg *Config, source string, rdb redis.Cmdable) DedupStore {
	if cfg.Dedup.Backend == "redis" {
		return NewRedisDedupStore(rdb, cfg.Dedup.KeyPrefix+":processed:"+source)
	}
	return NewFileDedupStore(filepath.Join(cfg.DataDir, "processed_"+source+".json"))
}

func logPersistenceWarning(log *slog.Logger, source string, err error) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		log.Warn("state file unreadable", "source", source, "path", pe.Path, "error", pe.Err)
		return
	}
	log.Warn("state load failed", "source", source, "error", err)
}
