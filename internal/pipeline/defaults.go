// =============================================================================
// defaults.go - 組み込みデフォルト設定
// =============================================================================
//
// 設定ファイルなしでも動くように、ソース・トピックの初期値を定義します。
//
// 【組み込みソース】
//   - npr:     NPR Business（RSS）
//   - bbc:     BBC Business（RSS）
//   - ap_news: AP News（ハブページクロール）
//   - reddit:  Reddit（Apify経由のスレッド取得）
//
// =============================================================================
package pipeline

import "time"

// DefaultUserAgent はHTTPリクエストのUser-Agent
const DefaultUserAgent = "Mozilla/5.0 (compatible; ArticleScraper/1.0; +https://example.invalid/market-relay)"

// DefaultTopics は企業トピックとキーワード
var DefaultTopics = []Topic{
	{Name: "nvidia", Keywords: []string{"nvidia", "nvda", "jensen huang", "rtx", "ai chips", "gpu"}},
	{Name: "microsoft", Keywords: []string{"microsoft", "msft", "satya nadella", "azure", "windows", "xbox"}},
	{Name: "apple", Keywords: []string{"apple", "aapl", "tim cook", "iphone", "mac", "ipad"}},
	{Name: "alphabet", Keywords: []string{"alphabet", "googl", "goog", "google", "sundar pichai", "youtube", "android"}},
	{Name: "amazon", Keywords: []string{"amazon", "amzn", "andy jassy", "aws", "prime", "alexa"}},
	{Name: "meta", Keywords: []string{"meta", "meta platforms", "facebook", "mark zuckerberg", "instagram", "whatsapp"}},
	{Name: "tesla", Keywords: []string{"tesla", "tsla", "elon musk", "cybertruck"}},
	{Name: "netflix", Keywords: []string{"netflix", "nflx", "netflix original", "reed hastings", "ted sarandos"}},
	{Name: "jp_morgan", Keywords: []string{"jp morgan", "jpm", "jpmorgan", "jamie dimon", "jp morgan chase"}},
	{Name: "tempus_ai", Keywords: []string{"tempus ai", "tempus labs", "eric lefkofsky"}},
	{Name: "openai", Keywords: []string{"openai", "sam altman", "chatgpt", "gpt-4", "anthropic", "claude", "microsoft ai"}},
}

// DefaultConfig は組み込みデフォルト設定を返す
//
// 呼び出しごとに新しい値を返すので、呼び出し側で自由に変更してよい。
func DefaultConfig() *Config {
	topics := make([]Topic, len(DefaultTopics))
	for i, t := range DefaultTopics {
		topics[i] = Topic{Name: t.Name, Keywords: append([]string(nil), t.Keywords...)}
	}

	return &Config{
		DataDir:     "data",
		ArticlesDir: "articles",
		HTTP: HTTPConfig{
			UserAgent: DefaultUserAgent,
			Timeout:   30 * time.Second,
		},
		Schedule: ScheduleConfig{
			ScrapeInterval:  180 * time.Second,
			CollectInterval: 30 * time.Second,
			PollInterval:    1 * time.Second,
			ErrorBackoff:    10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Topics:  topics,
		Sources: defaultSources(),
		SourceDisplayNames: map[string]string{
			"ap_news": "AP",
			"npr":     "NPR",
			"bbc":     "BBC",
		},
		Dedup: DedupConfig{Backend: "file", KeyPrefix: "market-relay"},
		Sink: SinkConfig{
			Kind: "meilisearch",
			Meilisearch: MeilisearchConfig{
				Host:        "http://localhost:7700",
				Index:       "articles",
				TaskTimeout: 15 * time.Second,
			},
		},
	}
}

// commonNoise は全ソース共通で本文抽出前に取り除く要素
var commonNoise = []Selector{
	{Tag: "script"}, {Tag: "style"}, {Tag: "iframe"}, {Tag: "nav"},
	{Tag: "header"}, {Tag: "footer"}, {Tag: "aside"},
	{Class: "ActionBar"}, {Class: "Page-actions"}, {Class: "Page-actions-menu"},
	{Class: "ActionLink"}, {Class: "LeaderBoardAd"}, {Class: "Ad"}, {Class: "Advertisement"},
}

func defaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:           "npr",
			Kind:           SourceKindFeed,
			FeedURL:        "https://feeds.npr.org/1006/rss.xml",
			HeadlineFilter: true,
			RequestDelay:   5 * time.Second,
			Rules: ParseRules{
				Headline: Selector{Tag: "h1"},
				Content: ContentRule{
					Container:  &Selector{Tag: "div", ID: "storytext"},
					Paragraphs: Selector{Tag: "p"},
				},
				Cleanup: []Selector{{Tag: "div", Class: "credit-caption"}},
			},
		},
		{
			Name:           "bbc",
			Kind:           SourceKindFeed,
			FeedURL:        "http://feeds.bbci.co.uk/news/business/rss.xml",
			HeadlineFilter: true,
			RequestDelay:   5 * time.Second,
			Rules: ParseRules{
				Headline: Selector{Tag: "h1"},
				Content: ContentRule{
					Containers: &Selector{Tag: "div", Attrs: map[string]string{"data-component": "text-block"}},
					Paragraphs: Selector{Tag: "p"},
				},
			},
		},
		{
			Name: "ap_news",
			Kind: SourceKindHub,
			HubURLs: []string{
				"https://apnews.com/hub/technology",
				"https://apnews.com/hub/economy",
				"https://apnews.com/hub/financial-markets",
				"https://apnews.com/hub/artificial-intelligence",
			},
			BaseURL: "https://apnews.com",
			Listing: ListingRule{
				Item:  Selector{Tag: "div", Class: "PageList-items-item"},
				Title: Selector{Tag: "h3", Class: "PagePromo-title"},
				Link:  Selector{Tag: "a", Class: "Link"},
			},
			HeadlineFilter: true,
			RequestDelay:   5 * time.Second,
			Rules: ParseRules{
				Headline: Selector{Tag: "h1", Class: "Page-headline"},
				Content: ContentRule{
					Container:  &Selector{Tag: "div", Class: "RichTextStoryBody"},
					Paragraphs: Selector{Tag: "p"},
				},
				Timestamp: &TimestampRule{
					Selector: Selector{Tag: "bsp-timestamp", Attrs: map[string]string{"data-timestamp": ""}},
					Attr:     "data-timestamp",
					Format:   "unix_ms",
				},
			},
		},
		{
			Name:         "reddit",
			Kind:         SourceKindSocial,
			RequestDelay: 2 * time.Second,
			Social: SocialConfig{
				ActorID:           "FgJtjDwJCLhRH9saM",
				APIBaseURL:        "https://api.apify.com",
				SearchURLTemplate: "https://www.reddit.com/r/{community}/search/?q={query}&sort=top&t=day&restrict_sr=1",
				MaxItems:          5,
				MaxPostCount:      5,
				MaxComments:       5,
				IncludeNSFW:       true,
				ProxyGroups:       []string{"RESIDENTIAL"},
				JobTimeout:        5 * time.Minute,
				Categories: []SocialCategory{
					{
						Name:        "tech1",
						Keywords:    []string{"Apple", "AAPL", "Microsoft", "MSFT", "Google", "GOOG", "Alphabet", "GOOGL", "Tesla", "TSLA"},
						Communities: []string{"stocks", "investing", "wallstreetbets", "technology"},
					},
					{
						Name:        "tech2",
						Keywords:    []string{"Nvidia", "NVDA", "Amazon", "AMZN", "Meta", "META", "Facebook", "OpenAI", "Intel", "INTC"},
						Communities: []string{"stocks", "investing", "wallstreetbets", "technology"},
					},
					{
						Name: "finance1",
						Keywords: []string{"JPMorgan", "JPM", "Goldman Sachs", "GS", "Morgan Stanley", "MS",
							"Bank of America", "BAC", "Citigroup", "C", "Wells Fargo", "WFC"},
						Communities: []string{"stocks", "investing", "finance"},
					},
					{
						Name: "finance2",
						Keywords: []string{"BlackRock", "BLK", "Visa", "V", "Mastercard", "MA",
							"American Express", "AXP", "Charles Schwab", "SCHW", "Berkshire Hathaway", "BRK"},
						Communities: []string{"stocks", "investing", "finance"},
					},
				},
			},
		},
	}
}
