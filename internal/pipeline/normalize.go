// =============================================================================
// normalize.go - フィールド正規化
// =============================================================================
//
// インジェスト時に使う正規化関数をまとめています。
//
// 【公開日時】
//   入力:  ISO8601（末尾Zあり・なし、オフセット付き）/ "YYYY-MM-DD HH:MM:SS" /
//          RSSのRFC1123形式 / Unixエポック秒（数値・9桁以上の数値文字列）/ なし
//   出力:  UTCの "2006-01-02T15:04:05Z"
//   解釈できない値・なしの場合は現在時刻を使う。
//
// 【感情スコア】
//   数値・数値文字列を float64 に変換（欠落・不正は 0.0）
//   カテゴリ: > 0.3 → positive / < -0.3 → negative / それ以外 → neutral
//
// 【ドキュメントID】
//   (headline, published_at, source) から UUIDv5 を導出する。
//   同じ記事を再インジェストしても同じIDになるので、シンク側で上書きになる。
//
// =============================================================================
package pipeline

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PublishedAtLayout は正規化後の公開日時フォーマット
const PublishedAtLayout = "2006-01-02T15:04:05Z"

const (
	sentimentPositive = "positive"
	sentimentNegative = "negative"
	sentimentNeutral  = "neutral"

	sentimentThreshold = 0.3
)

// epochMillisThreshold を超える数値はミリ秒として扱う
const epochMillisThreshold = 1e12

// epochString は文字列をエポックとみなす形（整数部9桁以上）
// "2024" のような年だけの値を1970年の日時にしない
var epochString = regexp.MustCompile(`^\d{9,}(\.\d+)?$`)

// zonedLayouts はタイムゾーン情報を含む形式
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
}

// naiveLayouts はタイムゾーンなしの形式（UTCとして扱う）
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp は公開日時をUTCのISO8601文字列に正規化する
func NormalizeTimestamp(v any, now time.Time) string {
	if t, ok := parseTimestamp(v); ok {
		return t.UTC().Format(PublishedAtLayout)
	}
	return now.UTC().Format(PublishedAtLayout)
}

func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, false
		}
		return *x, true
	case float64:
		return fromEpoch(x)
	case float32:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	case int32:
		return fromEpoch(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		return parseTimestampString(x)
	default:
		return time.Time{}, false
	}
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if epochString.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	naive := strings.TrimSuffix(s, "Z")
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, naive, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f > epochMillisThreshold {
		ms := int64(f)
		return time.UnixMilli(ms).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// ParseSentimentScore は感情スコアをfloat64に変換する（欠落・不正は0.0）
func ParseSentimentScore(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = n
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// SentimentCategory はスコアをカテゴリに変換する（境界値0.3はneutral）
func SentimentCategory(score float64) string {
	switch {
	case score > sentimentThreshold:
		return sentimentPositive
	case score < -sentimentThreshold:
		return sentimentNegative
	default:
		return sentimentNeutral
	}
}

// documentNamespace はドキュメントID導出用の名前空間
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("market-relay/articles"))

// DocumentID は (headline, published_at, source) から決定的なIDを導出する
func DocumentID(headline, publishedAt, source string) string {
	name := headline + "\x1f" + publishedAt + "\x1f" + source
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}
