// =============================================================================
// apify.go - ソーシャルスレッド取得クライアント
// =============================================================================
//
// サードパーティのスクレイピングサービス（Apify）でRedditの検索結果を取得します。
//
// 【API】
//
//	POST {api_base_url}/v2/acts/{actor_id}/run-sync-get-dataset-items
//	Authorization: Bearer {APIFY_TOKEN}
//	Body: アクターの入力（検索URL、件数上限、プロキシ設定）
//
// レスポンスは投稿とコメントが混ざったフラットなレコードのJSON配列で、
// dataType フィールド（"post" / "comment"）で区別します。
//
// =============================================================================
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SocialJob はスクレイピングジョブ1回分の指定
type SocialJob struct {
	Category     string
	Query        string // デコード済みのORクエリ（記録用）
	Community    string
	SearchURL    string
	MaxItems     int
	MaxPostCount int
	MaxComments  int
	IncludeNSFW  bool
	ProxyGroups  []string
}

// SocialRecord はサービスが返すフラットなレコード
type SocialRecord struct {
	DataType    string  `json:"dataType"` // "post" | "comment"
	ID          string  `json:"id"`
	PostID      string  `json:"postId,omitempty"`
	Title       string  `json:"title,omitempty"`
	Body        string  `json:"body,omitempty"`
	URL         string  `json:"url,omitempty"`
	Username    string  `json:"username,omitempty"`
	UpVotes     int     `json:"upVotes,omitempty"`
	UpVoteRatio float64 `json:"upVoteRatio,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	ScrapedAt   string  `json:"scrapedAt,omitempty"`
}

// SocialScrapeClient はスクレイピングジョブを実行するクライアント
type SocialScrapeClient interface {
	RunJob(ctx context.Context, job SocialJob) ([]SocialRecord, error)
}

// ApifyClient はApifyのアクターを同期実行するクライアント
type ApifyClient struct {
	baseURL   string
	actorID   string
	token     string
	userAgent string
	client    *http.Client
}

// NewApifyClient はApifyクライアントを作る
func NewApifyClient(cfg SocialConfig, fetch FetchConfig) (*ApifyClient, error) {
	if cfg.Token == "" {
		return nil, errors.New("APIFY_TOKEN is required for social sources")
	}
	if cfg.ActorID == "" {
		return nil, errors.New("social.actor_id is required")
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = "https://api.apify.com"
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute // アクターの実行完了まで待つ
	}
	return &ApifyClient{
		baseURL:   strings.TrimRight(base, "/"),
		actorID:   cfg.ActorID,
		token:     cfg.Token,
		userAgent: fetch.UserAgent,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// apifyRunInput はアクターの入力
type apifyRunInput struct {
	StartURLs      []apifyStartURL `json:"startUrls"`
	SkipComments   bool            `json:"skipComments"`
	SearchPosts    bool            `json:"searchPosts"`
	SearchComments bool            `json:"searchComments"`
	Sort           string          `json:"sort"`
	CommentSort    string          `json:"commentSort"`
	MaxItems       int             `json:"maxItems"`
	MaxPostCount   int             `json:"maxPostCount"`
	MaxComments    int             `json:"maxComments"`
	IncludeNSFW    bool            `json:"includeNSFW"`
	Proxy          apifyProxy      `json:"proxy"`
	DebugMode      bool            `json:"debugMode"`
}

type apifyStartURL struct {
	URL string `json:"url"`
}

type apifyProxy struct {
	UseApifyProxy    bool     `json:"useApifyProxy"`
	ApifyProxyGroups []string `json:"apifyProxyGroups,omitempty"`
}

// RunJob はアクターを同期実行し、データセットのレコードを返す
func (c *ApifyClient) RunJob(ctx context.Context, job SocialJob) ([]SocialRecord, error) {
	input := apifyRunInput{
		StartURLs:    []apifyStartURL{{URL: job.SearchURL}},
		SkipComments: false,
		SearchPosts:  true,
		Sort:         "top",
		CommentSort:  "top",
		MaxItems:     job.MaxItems,
		MaxPostCount: job.MaxPostCount,
		MaxComments:  job.MaxComments,
		IncludeNSFW:  job.IncludeNSFW,
		Proxy: apifyProxy{
			UseApifyProxy:    len(job.ProxyGroups) > 0,
			ApifyProxyGroups: job.ProxyGroups,
		},
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items", c.baseURL, url.PathEscape(c.actorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run actor %s: %w", c.actorID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("run actor %s: status %s: %s", c.actorID, resp.Status, strings.TrimSpace(string(msg)))
	}

	var records []SocialRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode dataset items: %w", err)
	}
	return records, nil
}

// BuildORQuery はキーワードを "(k1 OR k2 ...)" に結合し、URLエンコード版と合わせて返す
func BuildORQuery(keywords []string) (raw, encoded string) {
	raw = "(" + strings.Join(keywords, " OR ") + ")"
	encoded = strings.ReplaceAll(url.QueryEscape(raw), "+", "%20")
	return raw, encoded
}

// buildSearchURL は検索URLテンプレートに値を埋め込む
func buildSearchURL(template, community, encodedQuery string) string {
	r := strings.NewReplacer("{community}", url.PathEscape(community), "{query}", encodedQuery)
	return r.Replace(template)
}
