// =============================================================================
// article_parser.go - 記事ページの解析
// =============================================================================
//
// フィードアダプタとハブクロールアダプタが共有する記事ページの解析器です。
// ソースごとのルール表（ParseRules）に従って見出し・本文・公開日時を取り出します。
//
// 【処理の流れ】
//  1. ページを取得（PDFなら ledongthuc/pdf でテキスト抽出して終了）
//  2. 見出し: ルールのセレクタ → 最初の <h1> → 一覧で得たタイトル
//  3. 公開日時: ルールのマーカー → フィードの公開日時
//  4. cleanup セレクタと共通ノイズ（script, nav, 広告枠など）を除去
//  5. 本文: コンテナ内の段落を連結
//  6. 本文が空なら go-readability で抽出、それでも空なら一覧の抜粋
//  7. 見出し + 本文でトピックタグを付与
//
// =============================================================================
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// errNoContent は本文を1文字も抽出できなかったことを表す
var errNoContent = errors.New("no article content extracted")

// articleHint は一覧（フィード・ハブページ）から得た補助情報
type articleHint struct {
	Title        string
	Excerpt      string
	Published    *time.Time
	HeadlineTags []string
}

// ArticleParser は1ソース分の記事ページ解析器
type ArticleParser struct {
	source  string
	rules   ParseRules
	tagger  *TopicTagger
	fetch   FetchConfig
	limiter *rate.Limiter
	clock   Clock
}

// NewArticleParser は解析器を作る
//
// limiterはアダプタの一覧取得と共有し、同じサイトへの間隔を守る。
func NewArticleParser(source string, rules ParseRules, tagger *TopicTagger, fetch FetchConfig, limiter *rate.Limiter, clock Clock) *ArticleParser {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ArticleParser{
		source:  source,
		rules:   rules,
		tagger:  tagger,
		fetch:   fetch,
		limiter: limiter,
		clock:   clock,
	}
}

// Parse は記事ページを取得してニュースPayloadを返す
func (p *ArticleParser) Parse(ctx context.Context, articleURL string, hint articleHint) (*Payload, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	page, err := fetchPage(ctx, articleURL, p.fetch)
	if err != nil {
		return nil, &ParseError{Source: p.source, ItemID: articleURL, Err: err}
	}

	var (
		headline  string
		content   string
		timestamp any
	)

	if page.isPDF() {
		content, err = extractPDFText(page.Body)
		if err != nil {
			return nil, &ParseError{Source: p.source, ItemID: articleURL, Err: err}
		}
		headline = normalizeWhitespace(hint.Title)
	} else {
		headline, content, timestamp, err = p.parseHTML(page)
		if err != nil {
			return nil, &ParseError{Source: p.source, ItemID: articleURL, Err: err}
		}
		if headline == "" {
			headline = normalizeWhitespace(hint.Title)
		}
	}

	if content == "" {
		content = strings.TrimSpace(hint.Excerpt)
	}
	if content == "" {
		return nil, &ParseError{Source: p.source, ItemID: articleURL, Err: errNoContent}
	}

	if timestamp == nil {
		if hint.Published != nil {
			timestamp = hint.Published.UTC().Format(time.RFC3339)
		} else {
			timestamp = p.clock.Now().UTC().Format(time.RFC3339)
		}
	}

	return NewNewsPayload(&NewsPayload{
		URL:          articleURL,
		Headline:     headline,
		Content:      content,
		Source:       p.source,
		Timestamp:    timestamp,
		Tags:         p.tagger.Tag(headline, content),
		HeadlineTags: hint.HeadlineTags,
	}), nil
}

// parseHTML はルール表に従って見出し・本文・公開日時を取り出す
func (p *ArticleParser) parseHTML(page *fetchedPage) (headline, content string, timestamp any, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", "", nil, err
	}

	// 見出しと日時はノイズ除去の前に取る（<header>内にあることが多い）
	headline = p.extractHeadline(doc)
	timestamp = p.extractTimestamp(doc)

	for _, sel := range p.rules.Cleanup {
		doc.Find(sel.CSS()).Remove()
	}
	for _, sel := range commonNoise {
		doc.Find(sel.CSS()).Remove()
	}

	content = p.extractContent(doc)
	if content == "" {
		content = readabilityText(page)
	}
	return headline, content, timestamp, nil
}

func (p *ArticleParser) extractHeadline(doc *goquery.Document) string {
	if !p.rules.Headline.IsZero() {
		if h := normalizeWhitespace(doc.Find(p.rules.Headline.CSS()).First().Text()); h != "" {
			return h
		}
	}
	return normalizeWhitespace(doc.Find("h1").First().Text())
}

// extractContent はコンテナ内の段落テキストを改行で連結する
func (p *ArticleParser) extractContent(doc *goquery.Document) string {
	rule := p.rules.Content

	var containers *goquery.Selection
	switch {
	case rule.Container != nil:
		containers = doc.Find(rule.Container.CSS()).First()
	case rule.Containers != nil:
		containers = doc.Find(rule.Containers.CSS())
	default:
		return ""
	}

	paraSel := "p"
	if !rule.Paragraphs.IsZero() {
		paraSel = rule.Paragraphs.CSS()
	}

	var paragraphs []string
	containers.Find(paraSel).Each(func(_ int, s *goquery.Selection) {
		if text := normalizeWhitespace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n")
}

// extractTimestamp はルールのマーカーから公開日時を取り出す（なければnil）
func (p *ArticleParser) extractTimestamp(doc *goquery.Document) any {
	rule := p.rules.Timestamp
	if rule == nil {
		return nil
	}

	sel := doc.Find(rule.Selector.CSS()).First()
	if sel.Length() == 0 {
		return nil
	}

	raw := strings.TrimSpace(sel.Text())
	if rule.Attr != "" {
		raw = strings.TrimSpace(sel.AttrOr(rule.Attr, ""))
	}
	if raw == "" {
		return nil
	}

	switch rule.Format {
	case "unix_ms":
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	case "unix":
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		return time.Unix(sec, 0).UTC().Format(time.RFC3339)
	default:
		return raw
	}
}

// readabilityText はルールで本文が取れなかったページをgo-readabilityで抽出する
func readabilityText(page *fetchedPage) string {
	pageURL, _ := url.Parse(page.URL)
	article, err := readability.FromReader(bytes.NewReader(page.Body), pageURL)
	if err != nil {
		return ""
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return cleanExtractedText(buf.String())
}
