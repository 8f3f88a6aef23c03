// =============================================================================
// ingest.go - インジェストワーカー
// =============================================================================
//
// キューから取り出したPayloadを正規化し、シンクに書き込みます。
//
// 【処理の流れ】
//  1. Payloadの種類（ニュース / ソーシャルスレッド）ごとに正規化
//  2. 必須フィールド（headline, url, content）を検査 → 欠落なら破棄
//  3. (headline, published_at, source) からドキュメントIDを導出
//  4. 固定間隔・回数上限付きのリトライでシンクに書き込む
//     上限に達したらドロップ（ログとメトリクスに残し、再キューはしない）
//
// どの段階の失敗もIngestionResultで返し、呼び出し側のループは止めません。
//
// =============================================================================
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// IngesterConfig はインジェストワーカーの設定
type IngesterConfig struct {
	Retry        RetryConfig
	DisplayNames map[string]string
}

// Ingester はPayloadを正規化してシンクに書き込む
type Ingester struct {
	sink    Sink
	tagger  *TopicTagger
	cfg     IngesterConfig
	clock   Clock
	log     *slog.Logger
	metrics *Metrics
}

// NewIngester はインジェストワーカーを作る
func NewIngester(sink Sink, tagger *TopicTagger, cfg IngesterConfig, clock Clock, log *slog.Logger, metrics *Metrics) *Ingester {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{
		sink:    sink,
		tagger:  tagger,
		cfg:     cfg,
		clock:   clock,
		log:     log,
		metrics: metrics,
	}
}

// Ingest はPayload1件を処理して結果を返す
func (w *Ingester) Ingest(ctx context.Context, p *Payload) IngestionResult {
	res := w.ingest(ctx, p)
	w.metrics.ingested(res)
	return res
}

func (w *Ingester) ingest(ctx context.Context, p *Payload) IngestionResult {
	article, err := w.Normalize(p)
	if err != nil {
		w.log.Warn("payload rejected", "error", err)
		return IngestionResult{ErrorKind: errorKindOf(err)}
	}

	if err := validateArticle(article); err != nil {
		w.log.Warn("article rejected", "url", article.URL, "error", err)
		return IngestionResult{ArticleID: article.ID, ErrorKind: ErrorKindValidation}
	}

	id, err := w.write(ctx, article)
	if err != nil {
		w.log.Error("article dropped", "id", article.ID, "url", article.URL, "error", err)
		return IngestionResult{ArticleID: article.ID, ErrorKind: errorKindOf(err)}
	}

	w.log.Info("article ingested", "id", id, "source", article.Source, "url", article.URL)
	return IngestionResult{Accepted: true, ArticleID: id}
}

// write はリトライ付きでシンクに書き込む
func (w *Ingester) write(ctx context.Context, article *NormalizedArticle) (string, error) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		return w.sink.AddDocument(ctx, article)
	}

	id, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(w.cfg.Retry.Delay)),
		backoff.WithMaxTries(uint(w.cfg.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.metrics.sinkRetried()
			w.log.Warn("sink write failed, retrying",
				"id", article.ID, "attempt", attempts, "max_attempts", w.cfg.Retry.MaxAttempts,
				"next", next, "error", err)
		}),
	)
	if err != nil {
		return "", &SinkWriteError{Attempts: attempts, Err: err}
	}
	if id == "" {
		id = article.ID
	}
	return id, nil
}

// validateArticle は必須フィールドを検査する
func validateArticle(a *NormalizedArticle) error {
	switch {
	case a.Headline == "":
		return &ValidationError{Field: "headline"}
	case a.URL == "":
		return &ValidationError{Field: "url"}
	case a.Content == "":
		return &ValidationError{Field: "content"}
	}
	return nil
}

// =============================================================================
// 正規化
// =============================================================================

// Normalize はPayloadをNormalizedArticleに変換する（シンクには書かない）
func (w *Ingester) Normalize(p *Payload) (*NormalizedArticle, error) {
	if p == nil {
		return nil, &ParseError{Err: fmt.Errorf("nil payload")}
	}

	var a *NormalizedArticle
	switch p.Kind {
	case KindNews:
		if p.News == nil {
			return nil, &ParseError{Err: fmt.Errorf("news payload without news body")}
		}
		a = w.normalizeNews(p.News)
	case KindSocialThread:
		if p.Thread == nil {
			return nil, &ParseError{Err: fmt.Errorf("social thread payload without thread body")}
		}
		a = w.normalizeThread(p.Thread)
	default:
		return nil, &ParseError{Err: fmt.Errorf("unknown payload kind %q", p.Kind)}
	}

	a.ID = DocumentID(a.Headline, a.PublishedAt, a.Source)
	return a, nil
}

func (w *Ingester) normalizeNews(n *NewsPayload) *NormalizedArticle {
	headline := normalizeWhitespace(n.Headline)
	content := strings.TrimSpace(n.Summary)
	if content == "" {
		content = strings.TrimSpace(n.Content)
	}

	tags := n.Tags
	if len(tags) == 0 {
		tags = w.tagger.Tag(headline, content)
	}

	var sentiment any
	if n.Sentiment != nil {
		sentiment = n.Sentiment.Score
	}
	score := ParseSentimentScore(sentiment)

	meta := map[string]any{"source_code": n.Source}
	if len(n.HeadlineTags) > 0 {
		meta["headline_tags"] = n.HeadlineTags
	}
	for k, v := range n.Metadata {
		meta[k] = v
	}

	return &NormalizedArticle{
		URL:               strings.TrimSpace(n.URL),
		Headline:          headline,
		Content:           content,
		Source:            w.displayName(n.Source),
		PublishedAt:       NormalizeTimestamp(n.Timestamp, w.clock.Now()),
		SentimentScore:    &score,
		SentimentCategory: SentimentCategory(score),
		TopicTags:         append([]string(nil), tags...),
		RawMetadata:       meta,
	}
}

func (w *Ingester) normalizeThread(t *SocialThreadPayload) *NormalizedArticle {
	post := t.Post
	headline := normalizeWhitespace(post.Title)

	// 要約 → 投稿本文 → コメント本文の順で本文を決める
	content := strings.TrimSpace(t.Summary)
	if content == "" {
		content = strings.TrimSpace(post.Body)
	}
	if content == "" {
		var bodies []string
		for _, c := range t.Comments {
			if b := strings.TrimSpace(c.Body); b != "" {
				bodies = append(bodies, b)
			}
		}
		content = strings.Join(bodies, "\n\n")
	}

	// 取得日時 → 投稿日時 → 現在時刻
	var ts any
	switch {
	case t.ScrapedAt != "":
		ts = t.ScrapedAt
	case post.ScrapedAt != "":
		ts = post.ScrapedAt
	case post.CreatedAt != "":
		ts = post.CreatedAt
	}

	postTags := post.Tags
	if len(postTags) == 0 {
		postTags = w.tagger.Tag(post.Title, post.Body)
	}
	sets := [][]string{postTags}
	for _, c := range t.Comments {
		sets = append(sets, c.Tags)
	}

	var sentiment any
	if t.Sentiment != nil {
		sentiment = t.Sentiment.Score
	}
	score := ParseSentimentScore(sentiment)

	source := t.Source
	if source == "" {
		source = "reddit"
	}

	return &NormalizedArticle{
		URL:               strings.TrimSpace(post.URL),
		Headline:          headline,
		Content:           content,
		Source:            w.displayName(source),
		PublishedAt:       NormalizeTimestamp(ts, w.clock.Now()),
		SentimentScore:    &score,
		SentimentCategory: SentimentCategory(score),
		TopicTags:         unionTags(sets...),
		RawMetadata: map[string]any{
			"source_code":   source,
			"post_id":       post.ID,
			"community":     post.Community,
			"category":      post.Category,
			"query":         post.Query,
			"up_votes":      post.UpVotes,
			"up_vote_ratio": post.UpVoteRatio,
			"comment_count": len(t.Comments),
		},
	}
}

func (w *Ingester) displayName(code string) string {
	if name, ok := w.cfg.DisplayNames[code]; ok {
		return name
	}
	return strings.ToLower(code)
}
