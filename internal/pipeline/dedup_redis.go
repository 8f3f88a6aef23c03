package pipeline

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisDedupStore はRedisのセットに保存する重複排除ストア
//
// 判定はメモリ上の集合で行い、Addした識別子はSaveでまとめてSADDする。
// 複数ホストで状態ディレクトリを共有できない場合（Lambdaなど）に使う。
type RedisDedupStore struct {
	client redis.Cmdable
	key    string

	mu      sync.RWMutex
	ids     map[string]struct{}
	pending []string
	loaded  bool
}

// NewRedisDedupStore はセットのキーを指定してストアを作る
func NewRedisDedupStore(client redis.Cmdable, key string) *RedisDedupStore {
	return &RedisDedupStore{client: client, key: key, ids: map[string]struct{}{}}
}

func (s *RedisDedupStore) Load(ctx context.Context) error {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return &PersistenceError{Path: "redis:" + s.key, Op: "load", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		s.ids[m] = struct{}{}
	}
	s.loaded = true
	return nil
}

func (s *RedisDedupStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *RedisDedupStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *RedisDedupStore) Add(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.pending = append(s.pending, id)
}

// Save は未送信の識別子をSADDする
// 失敗した分は保持し、次回のSaveで再送する
// SADDは追加だけなので、Loadに失敗した状態でも既存のメンバーは消えない
func (s *RedisDedupStore) Save(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	members := make([]any, len(batch))
	for i, id := range batch {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return &PersistenceError{Path: "redis:" + s.key, Op: "save", Err: err}
	}
	return nil
}

func (s *RedisDedupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
