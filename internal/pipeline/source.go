// =============================================================================
// source.go - ソースアダプタ
// =============================================================================
//
// 外部ソースごとの取得・解析を SourceAdapter インターフェースで抽象化します。
//
// 【アダプタの種類】
//   - feed:   RSS/Atomフィード → 記事ページ（sources_rss.go）
//   - hub:    ハブページの記事一覧 → 記事ページ（sources_html.go）
//   - social: スクレイピングサービス経由のスレッド取得（sources_social.go）
//
// 【失敗の扱い】
//   - FetchCandidates の失敗 → そのソースだけ今回のサイクルをスキップ
//   - Parse の失敗           → その候補だけスキップ（バッチは継続）
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// SourceAdapter は1つの外部ソースからの取得・解析を担当する
type SourceAdapter interface {
	// Name は内部ソースコード（例: "ap_news"）を返す
	Name() string
	// FetchCandidates は今回のサイクルで取り込む候補を列挙する
	FetchCandidates(ctx context.Context) ([]Candidate, error)
	// Parse は候補を記事に変換する
	// (nil, nil) は「対象外として破棄」を意味する
	Parse(ctx context.Context, c Candidate) (*Payload, error)
}

// AdapterDeps はアダプタが共有する依存
type AdapterDeps struct {
	Tagger *TopicTagger
	Fetch  FetchConfig
	Clock  Clock
	Log    *slog.Logger
	// Social はソーシャルスレッド取得クライアント（nilならApifyClientを作る）
	Social SocialScrapeClient
}

// adapterFactory はSourceConfigからアダプタを作る関数
type adapterFactory func(cfg SourceConfig, deps AdapterDeps) (SourceAdapter, error)

// adapterFactories はソース種類ごとのアダプタ生成関数のレジストリ
var adapterFactories = map[SourceKind]adapterFactory{
	SourceKindFeed: func(cfg SourceConfig, deps AdapterDeps) (SourceAdapter, error) {
		return NewFeedAdapter(cfg, deps), nil
	},
	SourceKindHub: func(cfg SourceConfig, deps AdapterDeps) (SourceAdapter, error) {
		return NewHubCrawlAdapter(cfg, deps), nil
	},
	SourceKindSocial: func(cfg SourceConfig, deps AdapterDeps) (SourceAdapter, error) {
		client := deps.Social
		if client == nil {
			c, err := NewApifyClient(cfg.Social, deps.Fetch)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewSocialThreadAdapter(cfg, client, deps), nil
	},
}

// NewSourceAdapter は設定からアダプタを作る
func NewSourceAdapter(cfg SourceConfig, deps AdapterDeps) (SourceAdapter, error) {
	factory, ok := adapterFactories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s has %q", ErrUnknownSourceKind, cfg.Name, cfg.Kind)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return factory(cfg, deps)
}

// limitCandidates はmaxが正なら先頭max件に切り詰める
func limitCandidates(cands []Candidate, max int) []Candidate {
	if max > 0 && len(cands) > max {
		return cands[:max]
	}
	return cands
}
