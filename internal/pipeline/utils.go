// =============================================================================
// utils.go - ユーティリティ関数
// =============================================================================
//
// このファイルはパッケージ全体で使用する汎用的なヘルパー関数を提供します。
//
// 【このファイルで提供する機能】
//   - 文字列操作: ソート、重複削除、空白正規化、切り詰め
//   - HTML操作: タグ除去（bluemonday）、抽出テキストの整形
//   - URL操作: 相対URLの解決、トラッキングパラメータの除去
//   - JSON操作: ファイル読み書き（書き込みは一時ファイル + rename）
//
// =============================================================================
package pipeline

import (
	"encoding/json"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// -----------------------------------------------------------------------------
// 文字列操作関数
// -----------------------------------------------------------------------------

// sortStrings は文字列スライスをソートした新しいスライスを返す（元は変更しない）
func sortStrings(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

// mapKeys はmapのキーを返す（順序は不定）
func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// normalizeWhitespace は連続する空白を単一スペースに正規化する
//
//	normalizeWhitespace("  hello   world  ")  // "hello world"
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// uniqStrings は重複と空文字列を除去する（出現順を保持）
func uniqStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// truncateString は文字列をmaxLen文字（rune単位）に切り詰める
//
//	truncateString("Hello World", 8)  // "Hello..."
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// -----------------------------------------------------------------------------
// HTML操作関数
// -----------------------------------------------------------------------------

// strictPolicy は全タグを除去するbluemondayポリシー（並行利用可）
var strictPolicy = bluemonday.StrictPolicy()

// cleanHTMLTags はHTMLタグを除去し、HTMLエンティティをデコードする
//
// RSSのdescriptionやソーシャル投稿の本文に混ざるHTMLを平文にする。
func cleanHTMLTags(htmlStr string) string {
	text := strictPolicy.Sanitize(htmlStr)
	return html.UnescapeString(text)
}

// cleanExtractedText は goquery .Text() の出力を整理する
// 各行をトリムし、空行を除去する
func cleanExtractedText(raw string) string {
	lines := strings.Split(raw, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// -----------------------------------------------------------------------------
// URL操作関数
// -----------------------------------------------------------------------------

// resolveURL は相対URLを絶対URLに変換する（失敗時は空文字列）
func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if baseURL == "" {
		if !u.IsAbs() {
			return ""
		}
		return u.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// stripTrackingParams はutm_*などのトラッキング用クエリパラメータを除去する
//
// 同じ記事がキャンペーン違いのURLで二重に取り込まれないようにする。
func stripTrackingParams(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.RawQuery == "" {
		return strings.TrimSpace(raw)
	}
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "cmpid" || lk == "at_medium" || lk == "at_campaign" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// -----------------------------------------------------------------------------
// JSON操作関数
// -----------------------------------------------------------------------------

// writeJSONFile は任意のデータをJSON形式でファイルに保存する
//
// 同じディレクトリの一時ファイルに書いてからrenameするので、
// 読み手が書きかけのファイルを見ることはない。
func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// readJSONFile はJSONファイルを読み込んで指定した型に変換する
func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
