// =============================================================================
// scrape.go - スクレイプループの本体
// =============================================================================
//
// 全ソースを順番に処理し、新しい記事をソースごとの記事ログに追記します。
//
// 【1ソースの処理】
//  0. 重複排除ストアが未読込なら Load をやり直す（失敗したらこのソースだけスキップ）
//  1. FetchCandidates で候補を列挙（失敗したらこのソースだけスキップ）
//  2. 重複排除ストアにある候補を除外
//  3. Parse → Validate（失敗した候補だけスキップ、次のサイクルで再試行）
//  4. 記事ログにマージ
//  5. マージできた分の識別子を重複排除ストアに追加して保存
//
// ログへの書き込みが成功してから識別子を記録するので、
// 途中で落ちても「記録済みだがログにない」アイテムは生じません。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SourceRuntime は1ソース分の実行時オブジェクト
type SourceRuntime struct {
	Adapter SourceAdapter
	Dedup   DedupStore
	Log     *ArticleLog
}

// Name はソース名を返す
func (r *SourceRuntime) Name() string { return r.Adapter.Name() }

// SourceError はサイクル中に失敗したソース
type SourceError struct {
	Source string
	Err    error
}

// ScrapeResult はスクレイプ1サイクルの結果
type ScrapeResult struct {
	// New はソースごとの新規件数（記事ログに追加できた件数）
	New    map[string]int
	Errors []SourceError
}

// Total は全ソースの新規件数の合計
func (r ScrapeResult) Total() int {
	n := 0
	for _, v := range r.New {
		n += v
	}
	return n
}

// Scraper はスクレイプループの1サイクル分を実行する
type Scraper struct {
	sources []*SourceRuntime
	log     *slog.Logger
	metrics *Metrics
}

// NewScraper はスクレイパーを作る
func NewScraper(sources []*SourceRuntime, log *slog.Logger, metrics *Metrics) *Scraper {
	return &Scraper{sources: sources, log: log, metrics: metrics}
}

// RunCycle は全ソースを順番に1回ずつ処理する
//
// 1つのソースの失敗（パニックを含む）は他のソースに影響しない。
func (s *Scraper) RunCycle(ctx context.Context) ScrapeResult {
	res := ScrapeResult{New: map[string]int{}}
	for _, src := range s.sources {
		if ctx.Err() != nil {
			break
		}
		n, err := s.runSource(ctx, src)
		res.New[src.Name()] = n
		if err != nil {
			res.Errors = append(res.Errors, SourceError{Source: src.Name(), Err: err})
		}
	}
	return res
}

func (s *Scraper) runSource(ctx context.Context, src *SourceRuntime) (n int, err error) {
	name := src.Name()
	log := s.log.With("source", name)

	defer func() {
		if r := recover(); r != nil {
			err = &SourceFetchError{Source: name, Err: fmt.Errorf("panic: %v", r)}
			n = 0
			log.Error("source panicked", "panic", r)
			s.metrics.sourceFailed(name)
		}
	}()

	if !src.Dedup.Loaded() {
		if err := src.Dedup.Load(ctx); err != nil {
			// 履歴が読めないまま進むと処理済みの記事を取り込み直してしまう
			log.Warn("dedup history unreadable, skipping source this cycle", "error", err)
			s.metrics.sourceFailed(name)
			return 0, err
		}
		log.Info("dedup history loaded", "ids", src.Dedup.Len())
	}

	cands, err := src.Adapter.FetchCandidates(ctx)
	if err != nil {
		log.Warn("fetch failed, skipping source this cycle", "error", err)
		s.metrics.sourceFailed(name)
		return 0, &SourceFetchError{Source: name, Err: err}
	}

	var (
		fresh []*Payload
		seen  = map[string]bool{}
	)
	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		if c.ExternalID != "" && (src.Dedup.Contains(c.ExternalID) || seen[c.ExternalID]) {
			continue
		}

		p, err := src.Adapter.Parse(ctx, c)
		if err != nil {
			log.Warn("parse failed", "item", c.ExternalID, "error", err)
			s.metrics.parseFailed(name)
			continue
		}
		if p == nil {
			continue // 対象外
		}
		if err := p.Validate(); err != nil {
			log.Warn("payload invalid", "item", c.ExternalID, "error", err)
			s.metrics.parseFailed(name)
			continue
		}

		key := p.Key()
		if seen[key] || src.Dedup.Contains(key) {
			continue
		}
		seen[key] = true
		if c.ExternalID != "" {
			seen[c.ExternalID] = true
		}
		fresh = append(fresh, p)
	}

	if len(fresh) == 0 {
		log.Debug("no new items", "candidates", len(cands))
		return 0, nil
	}

	added, err := src.Log.Merge(fresh)
	if err != nil {
		// ログに書けなかった分は識別子も記録しない（次回のサイクルで再取得）
		log.Warn("article log merge failed", "error", err)
		return 0, err
	}

	for _, p := range fresh {
		src.Dedup.Add(p.Key())
	}
	if err := src.Dedup.Save(ctx); err != nil {
		var pe *PersistenceError
		if errors.As(err, &pe) {
			log.Warn("dedup save failed, will retry next checkpoint", "path", pe.Path, "error", pe.Err)
		} else {
			log.Warn("dedup save failed", "error", err)
		}
	}

	s.metrics.scraped(name, added)
	log.Info("scrape complete", "candidates", len(cands), "new", added)
	return added, nil
}
