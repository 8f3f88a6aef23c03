// =============================================================================
// fetch.go - HTTP取得の共通処理
// =============================================================================
//
// 全アダプタが共有するHTTP取得ヘルパーです。
//
// 【提供する機能】
//   - FetchConfig:      User-Agent・タイムアウト・共有HTTPクライアント
//   - fetchPage:        ページ本体とContent-Typeの取得
//   - fetchDoc:         HTMLを取得してgoqueryでパース
//   - fetchRSSFeed:     RSS/Atomを取得してgofeedでパース
//   - extractPDFText:   PDFからのテキスト抽出
//   - newSourceLimiter: ソースごとのリクエスト間隔制御
//
// =============================================================================
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// maxPageBytes は1ページあたりの読み込み上限
const maxPageBytes = 20 << 20

// FetchConfig はHTTP取得時の設定を保持
type FetchConfig struct {
	UserAgent string        // HTTPリクエスト時のUser-Agentヘッダー
	Timeout   time.Duration // HTTPリクエストのタイムアウト時間
	Client    *http.Client  // 共有HTTPクライアント（コネクションプーリング有効）
}

// NewFetchConfig はHTTP設定から取得設定を作る
func NewFetchConfig(cfg HTTPConfig) FetchConfig {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second // 一部のサイトは遅い
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return FetchConfig{
		UserAgent: ua,
		Timeout:   timeout,
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// fetchedPage は取得したページ
type fetchedPage struct {
	URL         string
	ContentType string
	Body        []byte
}

// isPDF はPDFかどうかを返す（Content-TypeかURLの拡張子で判定）
func (p *fetchedPage) isPDF() bool {
	if strings.Contains(strings.ToLower(p.ContentType), "application/pdf") {
		return true
	}
	u := strings.ToLower(p.URL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".pdf")
}

// fetchPage は指定URLを取得する
func fetchPage(ctx context.Context, u string, cfg FetchConfig) (*fetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	// ブロッキング回避のため、ブラウザ風のヘッダーを設定
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %s", u, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return &fetchedPage{
		URL:         u,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// fetchDoc は指定URLからHTMLドキュメントを取得してgoqueryでパース
func fetchDoc(ctx context.Context, u string, cfg FetchConfig) (*goquery.Document, error) {
	page, err := fetchPage(ctx, u, cfg)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
}

// fetchRSSFeed は指定URLからRSS/Atomフィードを取得してパース
func fetchRSSFeed(ctx context.Context, feedURL string, cfg FetchConfig) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	fp := gofeed.NewParser()
	feed, err := fp.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("RSS parse failed: %w", err)
	}
	return feed, nil
}

// extractPDFText はPDFデータから全ページのテキストを抽出する
//
// 読めないページはスキップし、空白を正規化して返す。
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return normalizeWhitespace(sb.String()), nil
}

// newSourceLimiter はリクエスト間隔delayのリミッタを作る（0以下なら無制限）
func newSourceLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
