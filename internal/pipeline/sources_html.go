package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// hubEntry はハブページ上の記事リンク（HubCrawlAdapterの候補）
type hubEntry struct {
	URL          string
	Title        string
	HeadlineTags []string
}

// HubCrawlAdapter はハブ（カテゴリ一覧）ページから記事リンクを集める
//
// 【処理の流れ】
//  1. 各ハブページを取得し、Listingルールで (タイトル, リンク) を抽出
//  2. リンクをBaseURLで絶対URL化し、複数ハブに出てくる同じ記事をまとめる
//  3. 見出しだけでトピック判定し、"misc" だけなら本文を取得しない（ハブでは常に行う）
//  4. Parseで記事ページを取得し、ルール表で本文を抽出
//
// 1つのハブの失敗はログに残してスキップし、全ハブが失敗した場合だけエラーを返す。
type HubCrawlAdapter struct {
	cfg     SourceConfig
	tagger  *TopicTagger
	fetch   FetchConfig
	limiter *rate.Limiter
	parser  *ArticleParser
	log     *slog.Logger
}

// NewHubCrawlAdapter はハブクロールアダプタを作る
func NewHubCrawlAdapter(cfg SourceConfig, deps AdapterDeps) *HubCrawlAdapter {
	limiter := newSourceLimiter(cfg.RequestDelay)
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &HubCrawlAdapter{
		cfg:     cfg,
		tagger:  deps.Tagger,
		fetch:   deps.Fetch,
		limiter: limiter,
		parser:  NewArticleParser(cfg.Name, cfg.Rules, deps.Tagger, deps.Fetch, limiter, deps.Clock),
		log:     log.With("source", cfg.Name),
	}
}

func (a *HubCrawlAdapter) Name() string { return a.cfg.Name }

func (a *HubCrawlAdapter) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	seen := map[string]bool{}
	var (
		out    []Candidate
		errs   []error
		failed int
	)

	for _, hub := range a.cfg.HubURLs {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		doc, err := fetchDoc(ctx, hub, a.fetch)
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("hub %s: %w", hub, err))
			a.log.Warn("hub page failed", "hub", hub, "error", err)
			continue
		}

		for _, e := range a.extractListing(doc, hub) {
			if seen[e.URL] {
				continue
			}
			seen[e.URL] = true

			e.HeadlineTags = a.tagger.Tag(e.Title, "")
			if isMiscOnly(e.HeadlineTags) {
				continue
			}
			out = append(out, Candidate{ExternalID: e.URL, Raw: e})
		}
	}

	if len(a.cfg.HubURLs) > 0 && failed == len(a.cfg.HubURLs) {
		return nil, errors.Join(errs...)
	}
	return limitCandidates(out, a.cfg.MaxItems), nil
}

// extractListing はListingルールで記事リンクを抽出する
//
// Itemが未指定ならページ全体からTitle → Linkを探す。
// Titleが未指定ならLinkのテキストをタイトルにする。
func (a *HubCrawlAdapter) extractListing(doc *goquery.Document, hubURL string) []hubEntry {
	rule := a.cfg.Listing
	base := a.cfg.BaseURL
	if base == "" {
		base = hubURL
	}

	items := doc.Selection
	if !rule.Item.IsZero() {
		items = doc.Find(rule.Item.CSS())
	}

	var out []hubEntry
	items.Each(func(_ int, item *goquery.Selection) {
		scope := item
		if !rule.Title.IsZero() {
			scope = item.Find(rule.Title.CSS())
		}
		scope.Each(func(_ int, s *goquery.Selection) {
			link := s.Find(rule.Link.CSS()).First()
			if link.Length() == 0 {
				return
			}
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			u := resolveURL(base, href)
			title := normalizeWhitespace(s.Text())
			if rule.Title.IsZero() {
				title = normalizeWhitespace(link.Text())
			}
			if u == "" || title == "" {
				return
			}
			out = append(out, hubEntry{URL: u, Title: title})
		})
	})
	return out
}

func (a *HubCrawlAdapter) Parse(ctx context.Context, c Candidate) (*Payload, error) {
	entry, ok := c.Raw.(hubEntry)
	if !ok {
		return nil, &ParseError{Source: a.cfg.Name, ItemID: c.ExternalID, Err: fmt.Errorf("unexpected candidate type %T", c.Raw)}
	}
	return a.parser.Parse(ctx, entry.URL, articleHint{
		Title:        entry.Title,
		HeadlineTags: entry.HeadlineTags,
	})
}
