// =============================================================================
// dedup.go - 重複排除ストア
// =============================================================================
//
// 一度処理したアイテムの識別子（URLまたは投稿ID）を記録し、
// 次回以降のサイクルで同じアイテムを取り込まないようにします。
//
// 【ライフサイクル】
//  1. 起動時に Load で全件をメモリに読み込む
//  2. サイクル中は Contains / Add でメモリ上の集合だけを操作する
//  3. サイクルの終わり（と停止時）に Save で永続化する
//
// 読み込みに失敗したストアは Loaded が false のままになり、
// スクレイプループが次のサイクルで Load をやり直します。
// それまでの Save は ErrDedupNotLoaded で拒否され、既存の履歴を上書きしません。
//
// 集合は追加のみで縮小しません。サイズは「これまでに見た件数」で決まります。
//
// 【実装】
//   - FileDedupStore:  JSON配列ファイル（保存は全体の上書き）
//   - RedisDedupStore: Redisのセット（dedup_redis.go）
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"sync"
)

// ErrDedupNotLoaded は読み込みに成功する前のSaveで返る
var ErrDedupNotLoaded = errors.New("dedup history has not been loaded")

// DedupStore は処理済み識別子の集合
//
// 実装は内部で排他制御を行い、複数のgoroutineから呼んでよい。
type DedupStore interface {
	// Load は永続化された集合をメモリ上の集合に合流させる
	// 失敗時は *PersistenceError を返し、メモリ上の集合はそのまま残る
	Load(ctx context.Context) error
	// Loaded は一度でもLoadに成功したかを返す
	Loaded() bool
	Contains(id string) bool
	Add(id string)
	// Save はメモリ上の集合を永続化する
	Save(ctx context.Context) error
	Len() int
}

// FileDedupStore はJSON配列ファイルに保存する重複排除ストア
type FileDedupStore struct {
	path string

	mu     sync.RWMutex
	ids    map[string]struct{}
	loaded bool
}

// NewFileDedupStore はファイルパスを指定してストアを作る（読み込みはLoadで行う）
func NewFileDedupStore(path string) *FileDedupStore {
	return &FileDedupStore{path: path, ids: map[string]struct{}{}}
}

// Path は保存先のファイルパスを返す
func (s *FileDedupStore) Path() string { return s.path }

func (s *FileDedupStore) Load(_ context.Context) error {
	var list []string
	err := readJSONFile(s.path, &list)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		// 初回起動
	case err != nil:
		return &PersistenceError{Path: s.path, Op: "load", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range list {
		s.ids[id] = struct{}{}
	}
	s.loaded = true
	return nil
}

func (s *FileDedupStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *FileDedupStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *FileDedupStore) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Save はファイル全体を書き直す
// 読めなかったファイルを上書きしないよう、Loadに成功するまでは書かない
func (s *FileDedupStore) Save(_ context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	list := sortStrings(mapKeys(s.ids))
	s.mu.RUnlock()

	if !loaded {
		return &PersistenceError{Path: s.path, Op: "save", Err: ErrDedupNotLoaded}
	}

	if err := writeJSONFile(s.path, list); err != nil {
		return &PersistenceError{Path: s.path, Op: "save", Err: err}
	}
	return nil
}

func (s *FileDedupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
