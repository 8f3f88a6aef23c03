// =============================================================================
// types.go - データ構造定義
// =============================================================================
//
// このファイルはMarket Relayシステム全体で使用するデータ構造（型）を定義します。
//
// 【データの流れ】
//
//	Candidate（ソース固有の生データ）
//	  → Payload（スクレイプ段階の記事。ニュース or ソーシャルスレッド）
//	  → 記事ログ（ディスク） → WorkQueueItem（キュー）
//	  → NormalizedArticle（検索インデックスへ書き込む正規化済み記事）
//
// 【このファイルで定義している型】
//   - Candidate:           アダプタが一覧から見つけた候補（一時的）
//   - Payload:             ニュース記事 / ソーシャルスレッドのタグ付きバリアント
//   - NewsPayload:         フラットなニュース記事
//   - SocialThreadPayload: 投稿 + コメントのスレッド
//   - NormalizedArticle:   シンクに書き込む最終形
//   - WorkQueueItem:       キューの要素
//   - IngestionResult:     インジェスト1件の結果
//
// =============================================================================
package pipeline

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Candidate - 取得候補
// -----------------------------------------------------------------------------
//
// FetchCandidatesが返す、まだ本文を取得していない候補。
// ExternalIDは重複排除キー（ニュースはURL、ソーシャルは投稿ID）。
// Rawの具体的な型はアダプタごとに異なり、同じアダプタのParseだけが解釈する。
type Candidate struct {
	ExternalID string
	Raw        any
}

// -----------------------------------------------------------------------------
// Payload - タグ付きバリアント
// -----------------------------------------------------------------------------

// PayloadKind はPayloadの種類
type PayloadKind string

const (
	KindNews         PayloadKind = "news"
	KindSocialThread PayloadKind = "social_thread"
)

// Payload はスクレイプ段階の記事レコード
//
// Kindに対応するポインタ（News または Thread）がちょうど1つだけ設定される。
// 記事ログ（JSON配列）とワークキューはこの形でレコードを運ぶ。
type Payload struct {
	Kind   PayloadKind          `json:"kind"`
	News   *NewsPayload         `json:"news,omitempty"`
	Thread *SocialThreadPayload `json:"thread,omitempty"`
}

// NewNewsPayload はニュース記事のPayloadを作る
func NewNewsPayload(n *NewsPayload) *Payload {
	return &Payload{Kind: KindNews, News: n}
}

// NewThreadPayload はソーシャルスレッドのPayloadを作る
func NewThreadPayload(t *SocialThreadPayload) *Payload {
	return &Payload{Kind: KindSocialThread, Thread: t}
}

// Key は重複排除・ログマージに使うキーを返す
//
// ニュースはURL、ソーシャルスレッドはプラットフォームの投稿ID。
func (p *Payload) Key() string {
	switch p.Kind {
	case KindNews:
		if p.News != nil {
			return p.News.URL
		}
	case KindSocialThread:
		if p.Thread != nil {
			return p.Thread.Post.ID
		}
	}
	return ""
}

// Headline は見出し（ソーシャルは投稿タイトル）を返す
func (p *Payload) Headline() string {
	switch p.Kind {
	case KindNews:
		if p.News != nil {
			return p.News.Headline
		}
	case KindSocialThread:
		if p.Thread != nil {
			return p.Thread.Post.Title
		}
	}
	return ""
}

// URL は記事URL（ソーシャルは投稿URL）を返す
func (p *Payload) URL() string {
	switch p.Kind {
	case KindNews:
		if p.News != nil {
			return p.News.URL
		}
	case KindSocialThread:
		if p.Thread != nil {
			return p.Thread.Post.URL
		}
	}
	return ""
}

// Validate はキューに入れる前の不変条件を検査する
//
//   - Kindと設定されたバリアントが一致している
//   - url と headline が空でない
func (p *Payload) Validate() error {
	switch p.Kind {
	case KindNews:
		if p.News == nil || p.Thread != nil {
			return fmt.Errorf("payload kind %q requires exactly the news variant", p.Kind)
		}
	case KindSocialThread:
		if p.Thread == nil || p.News != nil {
			return fmt.Errorf("payload kind %q requires exactly the thread variant", p.Kind)
		}
		if p.Thread.Post.ID == "" {
			return &ValidationError{Field: "post.id"}
		}
	default:
		return fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	if p.URL() == "" {
		return &ValidationError{Field: "url"}
	}
	if p.Headline() == "" {
		return &ValidationError{Field: "headline"}
	}
	return nil
}

// Sentiment は外部で計算済みの感情スコア（任意）
//
// Scoreは数値・数値文字列のどちらでも受け付ける。
type Sentiment struct {
	Score any `json:"score,omitempty"`
}

// NewsPayload はフラットなニュース記事
type NewsPayload struct {
	URL          string            `json:"url"`
	Headline     string            `json:"headline"`
	Content      string            `json:"content"`
	Summary      string            `json:"summary,omitempty"` // 事前計算済みの要約（あれば本文より優先）
	Source       string            `json:"source"`            // 内部ソースコード（例: "ap_news"）
	Timestamp    any               `json:"timestamp,omitempty"`
	Tags         []string          `json:"tags,omitempty"`          // 全文からのトピックタグ
	HeadlineTags []string          `json:"headline_tags,omitempty"` // 見出しだけでのタグ（取得のきっかけ）
	Sentiment    *Sentiment        `json:"sentiment,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SocialThreadPayload は投稿1件とそのコメント群
type SocialThreadPayload struct {
	Source    string          `json:"source"` // 内部ソースコード（例: "reddit"）
	Post      SocialPost      `json:"post"`
	Comments  []SocialComment `json:"comments"`
	Summary   string          `json:"summary,omitempty"`
	Sentiment *Sentiment      `json:"sentiment,omitempty"`
	ScrapedAt string          `json:"scraped_at,omitempty"`
}

// SocialPost はスレッドの親投稿
type SocialPost struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Query       string   `json:"query"`
	Community   string   `json:"community"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	URL         string   `json:"url"`
	UpVotes     int      `json:"up_votes"`
	UpVoteRatio float64  `json:"up_vote_ratio"`
	CreatedAt   string   `json:"created_at,omitempty"`
	ScrapedAt   string   `json:"scraped_at,omitempty"`
	Tags        []string `json:"tags"`
}

// SocialComment は親投稿へのコメント
type SocialComment struct {
	ID        string   `json:"id"`
	Username  string   `json:"username,omitempty"`
	Body      string   `json:"body"`
	URL       string   `json:"url,omitempty"`
	UpVotes   int      `json:"up_votes"`
	CreatedAt string   `json:"created_at,omitempty"`
	ScrapedAt string   `json:"scraped_at,omitempty"`
	Tags      []string `json:"tags"`
}

// -----------------------------------------------------------------------------
// NormalizedArticle - 正規化済み記事
// -----------------------------------------------------------------------------
//
// 検索インデックスに書き込む最終形。
//
// 【不変条件】
//   - ID は (headline, published_at, source) から決定的に導出される
//   - PublishedAt は常にUTCのISO8601（例: "2024-01-01T00:00:00Z"）
//   - TopicTags は設定順の決定的な並び
type NormalizedArticle struct {
	ID                string         `json:"id"`
	URL               string         `json:"url"`
	Headline          string         `json:"headline"`
	Content           string         `json:"content"`
	Source            string         `json:"source"`
	PublishedAt       string         `json:"published_at"`
	SentimentScore    *float64       `json:"sentiment_score,omitempty"`
	SentimentCategory string         `json:"sentiment_category,omitempty"`
	TopicTags         []string       `json:"topic_tags"`
	RawMetadata       map[string]any `json:"raw_metadata,omitempty"`
}

// WorkQueueItem はワークキューの要素
type WorkQueueItem struct {
	Source     string
	Payload    *Payload
	EnqueuedAt time.Time
}

// IngestionResult はインジェスト1件の結果
type IngestionResult struct {
	Accepted  bool
	ArticleID string
	ErrorKind ErrorKind
}
