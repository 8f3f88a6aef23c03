package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink は正規化済み記事の書き込み先（検索インデックス）
//
// 同じIDで2回書き込んだ場合は上書きになること（冪等）が実装に求められる。
type Sink interface {
	// AddDocument は記事を書き込み、シンク側のドキュメントIDを返す
	AddDocument(ctx context.Context, article *NormalizedArticle) (string, error)
}

// NewSink は設定に応じてシンクを作る
func NewSink(ctx context.Context, cfg SinkConfig, log *slog.Logger) (Sink, error) {
	switch cfg.Kind {
	case "meilisearch":
		s, err := NewMeilisearchSink(cfg.Meilisearch)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndex(ctx); err != nil {
			// インデックス設定の失敗は書き込み自体を妨げないので警告にとどめる
			log.Warn("meilisearch index settings not applied", "index", cfg.Meilisearch.Index, "error", err)
		}
		return s, nil
	case "notion":
		return NewNotionSink(cfg.Notion.Token, cfg.Notion.DatabaseID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, cfg.Kind)
	}
}
