package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// feedEntry はフィードの1エントリ（FeedAdapterの候補）
type feedEntry struct {
	Link         string
	Title        string
	Excerpt      string
	Published    *time.Time
	HeadlineTags []string
}

// FeedAdapter はRSS/Atomフィードから記事を取得する
//
// 【処理の流れ】
//  1. gofeedでフィードを取得し、(link, title, published) を列挙
//  2. HeadlineFilterが有効なら、見出しが "misc" だけのエントリを除外
//  3. Parseで記事ページを取得し、ルール表で本文を抽出
type FeedAdapter struct {
	cfg     SourceConfig
	tagger  *TopicTagger
	fetch   FetchConfig
	limiter *rate.Limiter
	parser  *ArticleParser
}

// NewFeedAdapter はフィードアダプタを作る
func NewFeedAdapter(cfg SourceConfig, deps AdapterDeps) *FeedAdapter {
	limiter := newSourceLimiter(cfg.RequestDelay)
	return &FeedAdapter{
		cfg:     cfg,
		tagger:  deps.Tagger,
		fetch:   deps.Fetch,
		limiter: limiter,
		parser:  NewArticleParser(cfg.Name, cfg.Rules, deps.Tagger, deps.Fetch, limiter, deps.Clock),
	}
}

func (a *FeedAdapter) Name() string { return a.cfg.Name }

func (a *FeedAdapter) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := fetchRSSFeed(ctx, a.cfg.FeedURL, a.fetch)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", a.cfg.FeedURL, err)
	}

	seen := map[string]bool{}
	var out []Candidate
	for _, item := range feed.Items {
		link := stripTrackingParams(resolveURL(a.cfg.FeedURL, item.Link))
		title := normalizeWhitespace(cleanHTMLTags(item.Title))
		if link == "" || title == "" || seen[link] {
			continue
		}
		seen[link] = true

		headlineTags := a.tagger.Tag(title, "")
		if a.cfg.HeadlineFilter && isMiscOnly(headlineTags) {
			continue
		}

		out = append(out, Candidate{
			ExternalID: link,
			Raw: feedEntry{
				Link:         link,
				Title:        title,
				Excerpt:      extractRSSExcerpt(item),
				Published:    itemPublished(item),
				HeadlineTags: headlineTags,
			},
		})
	}
	return limitCandidates(out, a.cfg.MaxItems), nil
}

func (a *FeedAdapter) Parse(ctx context.Context, c Candidate) (*Payload, error) {
	entry, ok := c.Raw.(feedEntry)
	if !ok {
		return nil, &ParseError{Source: a.cfg.Name, ItemID: c.ExternalID, Err: fmt.Errorf("unexpected candidate type %T", c.Raw)}
	}
	return a.parser.Parse(ctx, entry.Link, articleHint{
		Title:        entry.Title,
		Excerpt:      entry.Excerpt,
		Published:    entry.Published,
		HeadlineTags: entry.HeadlineTags,
	})
}

// extractRSSExcerpt は gofeed.Item から Content/Description を優先取得して整形
func extractRSSExcerpt(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(cleanHTMLTags(raw))
}

// itemPublished はエントリの公開日時（なければ更新日時）を返す
func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}
