// =============================================================================
// logger.go - 構造化ログ
// =============================================================================
//
// パイプライン全体で使用する slog ロガーを構築します。
//
// 【出力形式】
//   - text: 人が読むための key=value 形式（ローカル実行向け）
//   - json: CloudWatch などで集計しやすいJSON形式（Lambda向け）
//
// 【ログレベル】
//   LOG_LEVEL 環境変数、または -log-level フラグで指定（debug|info|warn|error）
//
// =============================================================================
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New は指定レベル・形式のロガーを標準エラー出力向けに作成する
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter は出力先を指定してロガーを作成する（テスト用）
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel はレベル文字列を slog.Level に変換する
// 未知の値は info として扱う
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard は何も出力しないロガーを返す
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
