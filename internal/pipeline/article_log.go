package pipeline

import (
	"errors"
	"io/fs"
	"sync"
)

// ArticleLog はソースごとの記事ログ（Payloadを並べたJSON配列ファイル）
//
// 【書き込みの約束】
//   - 書き手はそのソースのScraperだけ（1ファイル1ライター）
//   - Mergeは読み込み→追加→一時ファイル経由のrenameを排他して行う
//   - 読み手（Collector）はいつLoadしても完全なファイルを読む
type ArticleLog struct {
	path string
	mu   sync.Mutex
}

// NewArticleLog はファイルパスを指定してログを作る
func NewArticleLog(path string) *ArticleLog {
	return &ArticleLog{path: path}
}

// Path は保存先のファイルパスを返す
func (l *ArticleLog) Path() string { return l.path }

// Load はログ全体を発見順で返す（ファイルがなければ空）
func (l *ArticleLog) Load() ([]*Payload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *ArticleLog) load() ([]*Payload, error) {
	var items []*Payload
	err := readJSONFile(l.path, &items)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Path: l.path, Op: "load", Err: err}
	}
	return items, nil
}

// Merge は既存ログにないキーのPayloadだけを末尾に追加して保存する
//
// 戻り値は実際に追加した件数。
func (l *ArticleLog) Merge(items []*Payload) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.load()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Key()] = true
	}

	added := 0
	for _, p := range items {
		key := p.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, p)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := writeJSONFile(l.path, existing); err != nil {
		return 0, &PersistenceError{Path: l.path, Op: "save", Err: err}
	}
	return added, nil
}
