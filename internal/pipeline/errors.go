// =============================================================================
// errors.go - エラー分類
// =============================================================================
//
// パイプラインで発生するエラーを種類ごとの型で表現します。
// 呼び出し側は errors.As で種類を判別し、ログ・メトリクスに反映します。
//
// 【エラーの種類と扱い】
//   - SourceFetchError: ソース全体の取得失敗 → そのソースだけ今回のサイクルをスキップ
//   - ParseError:       1件の記事の解析失敗 → その記事だけスキップ
//   - ValidationError:  必須フィールド欠落 → 破棄（シンクには書かない）
//   - SinkWriteError:   リトライ上限まで書き込み失敗 → ドロップ（再キューしない）
//   - PersistenceError: 状態ファイルの読み書き失敗 → メモリ上で継続、次回再試行
//
// どのエラーもコーディネーターを停止させません。
//
// =============================================================================
package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind はIngestionResultに記録するエラー種別
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindParse      ErrorKind = "parse"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindSinkWrite  ErrorKind = "sink_write"
)

// SourceFetchError はソースの候補一覧取得に失敗したことを表す
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// ParseError は1件の候補を記事に変換できなかったことを表す
type ParseError struct {
	Source string
	ItemID string
	Err    error
}

func (e *ParseError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("parse %s item %s: %v", e.Source, e.ItemID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError は必須フィールドが空であることを表す
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// SinkWriteError はリトライを使い切ってもシンクに書けなかったことを表す
type SinkWriteError struct {
	Attempts int
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// PersistenceError は状態ファイル（重複排除・記事ログ）の読み書き失敗を表す
type PersistenceError struct {
	Path string
	Op   string // "load" | "save"
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// errorKindOf はエラーからIngestionResult用の種別を求める
func errorKindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrorKindValidation
	}
	var se *SinkWriteError
	if errors.As(err, &se) {
		return ErrorKindSinkWrite
	}
	return ErrorKindParse
}
