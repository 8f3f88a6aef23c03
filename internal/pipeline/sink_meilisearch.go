package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// taskPollInterval はMeilisearchタスクの完了確認間隔
const taskPollInterval = 50 * time.Millisecond

// MeilisearchSink はMeilisearchのインデックスに記事を書き込む
//
// 主キーは "id"（DocumentIDで導出）なので、再送は同じドキュメントの上書きになる。
type MeilisearchSink struct {
	client      meilisearch.ServiceManager
	index       meilisearch.IndexManager
	indexName   string
	taskTimeout time.Duration
}

// NewMeilisearchSink は接続設定からシンクを作る
func NewMeilisearchSink(cfg MeilisearchConfig) (*MeilisearchSink, error) {
	if cfg.Host == "" {
		return nil, errors.New("MEILISEARCH_HOST is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("sink.meilisearch.index is required")
	}
	client := meilisearch.New(cfg.Host, meilisearch.WithAPIKey(cfg.APIKey))
	return NewMeilisearchSinkWithClient(client, cfg.Index, cfg.TaskTimeout), nil
}

// NewMeilisearchSinkWithClient は既存クライアントからシンクを作る
func NewMeilisearchSinkWithClient(client meilisearch.ServiceManager, indexName string, taskTimeout time.Duration) *MeilisearchSink {
	if taskTimeout <= 0 {
		taskTimeout = 15 * time.Second
	}
	return &MeilisearchSink{
		client:      client,
		index:       client.Index(indexName),
		indexName:   indexName,
		taskTimeout: taskTimeout,
	}
}

// searchPrimaryKey はインデックスの主キー
const searchPrimaryKey = "id"

// EnsureIndex は絞り込みに使う属性を設定する
func (s *MeilisearchSink) EnsureIndex(ctx context.Context) error {
	attrs := []interface{}{"source", "topic_tags", "sentiment_category"}
	task, err := s.index.UpdateFilterableAttributesWithContext(ctx, &attrs)
	if err != nil {
		return fmt.Errorf("update filterable attributes on %s: %w", s.indexName, err)
	}
	_, err = s.waitForTask(ctx, task.TaskUID)
	return err
}

// AddDocument は記事1件を書き込み、タスク完了まで待つ
func (s *MeilisearchSink) AddDocument(ctx context.Context, article *NormalizedArticle) (string, error) {
	docs := []map[string]any{toSearchDocument(article)}
	primaryKey := searchPrimaryKey

	task, err := s.index.AddDocumentsWithContext(ctx, docs, &meilisearch.DocumentOptions{PrimaryKey: &primaryKey})
	if err != nil {
		return "", fmt.Errorf("add document %s: %w", article.ID, err)
	}

	result, err := s.waitForTask(ctx, task.TaskUID)
	if err != nil {
		return "", fmt.Errorf("wait for task %d: %w", task.TaskUID, err)
	}
	if result.Status == meilisearch.TaskStatusFailed {
		return "", fmt.Errorf("indexing task %d failed: %v", task.TaskUID, result.Error)
	}
	return article.ID, nil
}

// waitForTask はタスクの完了を待つ（taskTimeoutかctxのキャンセルで打ち切り）
func (s *MeilisearchSink) waitForTask(ctx context.Context, uid int64) (*meilisearch.Task, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	task, err := s.index.WaitForTaskWithContext(waitCtx, uid, taskPollInterval)
	if err != nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("task %d did not finish within %s: %w", uid, s.taskTimeout, err)
	}
	return task, err
}

// toSearchDocument は記事をMeilisearchのドキュメントに変換する
func toSearchDocument(a *NormalizedArticle) map[string]any {
	doc := map[string]any{
		"id":                 a.ID,
		"url":                a.URL,
		"headline":           a.Headline,
		"content":            a.Content,
		"source":             a.Source,
		"published_at":       a.PublishedAt,
		"sentiment_category": a.SentimentCategory,
		"topic_tags":         a.TopicTags,
	}
	if a.SentimentScore != nil {
		doc["sentiment_score"] = *a.SentimentScore
	}
	if len(a.RawMetadata) > 0 {
		doc["raw_metadata"] = a.RawMetadata
	}
	return doc
}
