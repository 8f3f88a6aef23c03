// =============================================================================
// config.go - パイプライン設定
// =============================================================================
//
// このファイルは設定ファイル（YAML）と環境変数の読み込み、検証を行います。
//
// 【設定の優先順位】
//  1. DefaultConfig() の組み込みデフォルト（NPR / BBC / AP News / Reddit）
//  2. -config で指定したYAMLファイル（指定したキーだけ上書き）
//  3. 環境変数（APIキーなどの秘密情報）
//
// 【設定グループ】
//   - HTTPConfig:     User-Agent、タイムアウト
//   - ScheduleConfig: 3つのループの実行間隔
//   - RetryConfig:    シンク書き込みのリトライ
//   - SourceConfig:   ソースごとの取得・解析ルール
//   - DedupConfig:    重複排除ストアのバックエンド
//   - SinkConfig:     検索インデックス（Meilisearch / Notion）
//
// 構築後の設定はアダプタに値で渡され、実行中に変更されることはありません。
//
// =============================================================================
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 検証エラー
// =============================================================================

var (
	ErrNoSources            = errors.New("at least one source is required")
	ErrSourceMissingName    = errors.New("source name is required")
	ErrDuplicateSource      = errors.New("source names must be unique")
	ErrUnknownSourceKind    = errors.New("source kind must be one of: feed, hub, social")
	ErrSourceMissingFeedURL = errors.New("feed source requires feed_url")
	ErrSourceMissingHubs    = errors.New("hub source requires hub_urls and listing.link")
	ErrSourceMissingSocial  = errors.New("social source requires social.actor_id and at least one category")
	ErrInvalidInterval      = errors.New("schedule intervals must be positive")
	ErrInvalidMaxAttempts   = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidRetryDelay    = errors.New("retry.delay must be non-negative")
	ErrUnknownSink          = errors.New("sink.kind must be 'meilisearch' or 'notion'")
	ErrUnknownDedupBackend  = errors.New("dedup.backend must be 'file' or 'redis'")
	ErrNoTopics             = errors.New("at least one topic is required")
)

// =============================================================================
// 設定構造体
// =============================================================================

// Config はパイプラインの全設定を保持する
type Config struct {
	DataDir            string            `yaml:"data_dir"`
	ArticlesDir        string            `yaml:"articles_dir"`
	HTTP               HTTPConfig        `yaml:"http"`
	Schedule           ScheduleConfig    `yaml:"schedule"`
	Retry              RetryConfig       `yaml:"retry"`
	Logging            LoggingConfig     `yaml:"logging"`
	Topics             []Topic           `yaml:"topics"`
	Sources            []SourceConfig    `yaml:"sources"`
	SourceDisplayNames map[string]string `yaml:"source_display_names"`
	Dedup              DedupConfig       `yaml:"dedup"`
	Sink               SinkConfig        `yaml:"sink"`
	Notify             NotifyConfig      `yaml:"-"`
}

// HTTPConfig はHTTP取得時の設定
type HTTPConfig struct {
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ScheduleConfig は3つのループの実行間隔
type ScheduleConfig struct {
	ScrapeInterval  time.Duration `yaml:"scrape_interval"`
	CollectInterval time.Duration `yaml:"collect_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"` // ループ内エラー後の待機時間
}

// RetryConfig はシンク書き込みのリトライ設定（固定間隔）
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// LoggingConfig はログ設定
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Topic はトピック名とキーワードの組
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// SourceKind はアダプタの種類
type SourceKind string

const (
	SourceKindFeed   SourceKind = "feed"
	SourceKindHub    SourceKind = "hub"
	SourceKindSocial SourceKind = "social"
)

// SourceConfig は1ソース分の設定
type SourceConfig struct {
	Name     string     `yaml:"name"`
	Kind     SourceKind `yaml:"kind"`
	Disabled bool       `yaml:"disabled"`

	// feed
	FeedURL string `yaml:"feed_url"`

	// hub
	HubURLs []string    `yaml:"hub_urls"`
	BaseURL string      `yaml:"base_url"`
	Listing ListingRule `yaml:"listing"`

	// HeadlineFilter がtrueの場合、見出しが "misc" にしか該当しない候補は本文を取得しない
	// feed用の設定で、hubは設定によらず常に絞り込む
	HeadlineFilter bool          `yaml:"headline_filter"`
	RequestDelay   time.Duration `yaml:"request_delay"` // 同一ソースへのリクエスト間隔
	MaxItems       int           `yaml:"max_items"`     // 1サイクルあたりの候補上限（0で無制限）

	Rules  ParseRules   `yaml:"rules"`
	Social SocialConfig `yaml:"social"`
}

// Selector はタグ・ID・クラス・属性で要素を指定する
//
// CSS() でgoquery用のセレクタ文字列に変換される。
//
//	{tag: div, id: storytext}                       → div#storytext
//	{tag: div, attrs: {data-component: text-block}} → div[data-component="text-block"]
type Selector struct {
	Tag   string            `yaml:"tag"`
	ID    string            `yaml:"id"`
	Class string            `yaml:"class"`
	Attrs map[string]string `yaml:"attrs"`
}

// ParseRules は記事ページの解析ルール
type ParseRules struct {
	Headline  Selector       `yaml:"headline"`
	Content   ContentRule    `yaml:"content"`
	Cleanup   []Selector     `yaml:"cleanup"`
	Timestamp *TimestampRule `yaml:"timestamp"`
}

// ContentRule は本文の抽出ルール
//
// Container（単一）か Containers（複数）のどちらかを指定し、
// その中の Paragraphs に一致する要素のテキストを連結する。
type ContentRule struct {
	Container  *Selector `yaml:"container"`
	Containers *Selector `yaml:"containers"`
	Paragraphs Selector  `yaml:"paragraphs"`
}

// TimestampRule はページ内の公開日時マーカー
type TimestampRule struct {
	Selector Selector `yaml:"selector"`
	Attr     string   `yaml:"attr"`   // 空の場合は要素のテキスト
	Format   string   `yaml:"format"` // unix_ms | unix | rfc3339
}

// ListingRule はハブページ上の記事リンクの抽出ルール
type ListingRule struct {
	Item  Selector `yaml:"item"`
	Title Selector `yaml:"title"`
	Link  Selector `yaml:"link"`
}

// SocialConfig はソーシャルスレッド取得の設定
type SocialConfig struct {
	ActorID           string           `yaml:"actor_id"`
	APIBaseURL        string           `yaml:"api_base_url"`
	Token             string           `yaml:"-"` // APIFY_TOKEN
	SearchURLTemplate string           `yaml:"search_url_template"`
	Categories        []SocialCategory `yaml:"categories"`
	MaxItems          int              `yaml:"max_items"`
	MaxPostCount      int              `yaml:"max_post_count"`
	MaxComments       int              `yaml:"max_comments"`
	IncludeNSFW       bool             `yaml:"include_nsfw"`
	ProxyGroups       []string         `yaml:"proxy_groups"`
	JobTimeout        time.Duration    `yaml:"job_timeout"`
}

// SocialCategory は検索キーワード群と対象コミュニティ
type SocialCategory struct {
	Name        string   `yaml:"name"`
	Keywords    []string `yaml:"keywords"`
	Communities []string `yaml:"communities"`
}

// DedupConfig は重複排除ストアの設定
type DedupConfig struct {
	Backend   string `yaml:"backend"` // file | redis
	RedisAddr string `yaml:"redis_addr"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SinkConfig は書き込み先の設定
type SinkConfig struct {
	Kind        string            `yaml:"kind"` // meilisearch | notion
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
	Notion      NotionConfig      `yaml:"notion"`
}

// MeilisearchConfig はMeilisearchの接続設定
type MeilisearchConfig struct {
	Host        string        `yaml:"host"`
	APIKey      string        `yaml:"-"`
	Index       string        `yaml:"index"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// NotionConfig はNotionデータベースの設定
type NotionConfig struct {
	Token      string `yaml:"-"`
	DatabaseID string `yaml:"database_id"`
}

// NotifyConfig はソース失敗通知メールの設定（環境変数のみ）
type NotifyConfig struct {
	EmailFrom     string
	EmailPassword string
	EmailTo       string
}

// Enabled は通知に必要な値が揃っているかを返す
func (n NotifyConfig) Enabled() bool {
	return n.EmailFrom != "" && n.EmailPassword != "" && n.EmailTo != ""
}

// =============================================================================
// 読み込み
// =============================================================================

// LoadConfig はデフォルト設定にYAMLファイルと環境変数を重ねて返す
//
// pathが空の場合はデフォルト設定と環境変数だけを使う。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv は環境変数から秘密情報と接続先を読み込む
func (c *Config) applyEnv(getenv func(string) string) {
	setIf := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	setIf(&c.Sink.Meilisearch.Host, "MEILISEARCH_HOST")
	setIf(&c.Sink.Meilisearch.APIKey, "MEILISEARCH_API_KEY")
	setIf(&c.Sink.Notion.Token, "NOTION_TOKEN")
	setIf(&c.Sink.Notion.DatabaseID, "NOTION_DATABASE_ID")
	setIf(&c.Dedup.RedisAddr, "REDIS_ADDR")
	setIf(&c.Logging.Level, "LOG_LEVEL")
	setIf(&c.Notify.EmailFrom, "EMAIL_FROM")
	setIf(&c.Notify.EmailPassword, "EMAIL_PASSWORD")
	setIf(&c.Notify.EmailTo, "EMAIL_TO")

	token := strings.TrimSpace(getenv("APIFY_TOKEN"))
	for i := range c.Sources {
		if c.Sources[i].Kind == SourceKindSocial && token != "" {
			c.Sources[i].Social.Token = token
		}
	}
}

// Validate は設定値を検証する
func (c *Config) Validate() error {
	if len(c.Topics) == 0 {
		return ErrNoTopics
	}
	if len(c.EnabledSources()) == 0 {
		return ErrNoSources
	}

	seen := map[string]bool{}
	for _, s := range c.Sources {
		if s.Name == "" {
			return ErrSourceMissingName
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, s.Name)
		}
		seen[s.Name] = true

		switch s.Kind {
		case SourceKindFeed:
			if s.FeedURL == "" {
				return fmt.Errorf("%w: %s", ErrSourceMissingFeedURL, s.Name)
			}
		case SourceKindHub:
			if len(s.HubURLs) == 0 || s.Listing.Link.IsZero() {
				return fmt.Errorf("%w: %s", ErrSourceMissingHubs, s.Name)
			}
		case SourceKindSocial:
			if s.Social.ActorID == "" || len(s.Social.Categories) == 0 {
				return fmt.Errorf("%w: %s", ErrSourceMissingSocial, s.Name)
			}
		default:
			return fmt.Errorf("%w: %s has %q", ErrUnknownSourceKind, s.Name, s.Kind)
		}
	}

	sc := c.Schedule
	if sc.ScrapeInterval <= 0 || sc.CollectInterval <= 0 || sc.PollInterval <= 0 || sc.ErrorBackoff < 0 {
		return ErrInvalidInterval
	}
	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Retry.Delay < 0 {
		return ErrInvalidRetryDelay
	}

	switch c.Sink.Kind {
	case "meilisearch", "notion":
	default:
		return ErrUnknownSink
	}
	switch c.Dedup.Backend {
	case "file", "redis":
	default:
		return ErrUnknownDedupBackend
	}
	return nil
}

// EnabledSources は無効化されていないソースを設定順に返す
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// =============================================================================
// セレクタ
// =============================================================================

// IsZero はセレクタが未指定かを返す
func (s Selector) IsZero() bool {
	return s.Tag == "" && s.ID == "" && s.Class == "" && len(s.Attrs) == 0
}

// CSS はセレクタをCSSセレクタ文字列に変換する
//
// 属性は名前順に並べるので、同じ設定からは常に同じ文字列になる。
func (s Selector) CSS() string {
	var b strings.Builder
	b.WriteString(s.Tag)
	if s.ID != "" {
		b.WriteString("#" + s.ID)
	}
	for _, cls := range strings.Fields(s.Class) {
		b.WriteString("." + cls)
	}
	for _, k := range sortStrings(mapKeys(s.Attrs)) {
		v := s.Attrs[k]
		if v == "" {
			fmt.Fprintf(&b, "[%s]", k)
			continue
		}
		fmt.Fprintf(&b, "[%s=%q]", k, v)
	}
	if b.Len() == 0 {
		return "*"
	}
	return b.String()
}
