package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
)

// QueuedStore は「キューに投入済み」の識別子集合（"source|key"）
//
// 再起動後に同じ記事を二重に投入しないよう、data/queued_ids.json に保存する。
type QueuedStore struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewQueuedStore はファイルパスを指定して作る
func NewQueuedStore(path string) *QueuedStore {
	return &QueuedStore{path: path, ids: map[string]struct{}{}}
}

func queuedKey(source, key string) string { return source + "|" + key }

// Load はファイルから読み込む（なければ空）
func (s *QueuedStore) Load() error {
	var list []string
	err := readJSONFile(s.path, &list)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{}, len(list))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "load", Err: err}
	}
	for _, id := range list {
		s.ids[id] = struct{}{}
	}
	return nil
}

// Contains は投入済みかどうかを返す
func (s *QueuedStore) Contains(source, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[queuedKey(source, key)]
	return ok
}

// Mark は投入済みとして記録する
func (s *QueuedStore) Mark(source, key string) {
	s.mu.Lock()
	s.ids[queuedKey(source, key)] = struct{}{}
	s.mu.Unlock()
}

// Save はファイルに保存する
func (s *QueuedStore) Save() error {
	s.mu.Lock()
	list := sortStrings(mapKeys(s.ids))
	s.mu.Unlock()

	if err := writeJSONFile(s.path, list); err != nil {
		return &PersistenceError{Path: s.path, Op: "save", Err: err}
	}
	return nil
}

// Len は件数を返す
func (s *QueuedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Collector はコレクトループの1サイクル分を実行する
//
// 各ソースの記事ログを読み直し、まだ投入していないものを発見順にキューへ積む。
type Collector struct {
	sources []*SourceRuntime
	queued  *QueuedStore
	queue   *WorkQueue
	clock   Clock
	log     *slog.Logger
	metrics *Metrics
}

// NewCollector はコレクタを作る
func NewCollector(sources []*SourceRuntime, queued *QueuedStore, queue *WorkQueue, clock Clock, log *slog.Logger, metrics *Metrics) *Collector {
	return &Collector{
		sources: sources,
		queued:  queued,
		queue:   queue,
		clock:   clock,
		log:     log,
		metrics: metrics,
	}
}

// RunCycle は全ソースのログを走査し、投入した件数を返す
func (c *Collector) RunCycle(ctx context.Context) (int, error) {
	return c.collect(ctx, false)
}

// EnqueueAll は投入済みかどうかに関係なく、ログにある全記事をキューに積む
//
// シンク障害でドロップした記事の再送に使う。書き込みはドキュメントIDで冪等なので、
// 既に書き込まれた記事は上書きになるだけ。
func (c *Collector) EnqueueAll(ctx context.Context) (int, error) {
	return c.collect(ctx, true)
}

func (c *Collector) collect(ctx context.Context, all bool) (int, error) {
	total := 0
	var errs []error
	for _, src := range c.sources {
		if ctx.Err() != nil {
			break
		}
		name := src.Name()
		items, err := src.Log.Load()
		if err != nil {
			c.log.Warn("article log unreadable", "source", name, "error", err)
			errs = append(errs, err)
			continue
		}

		n := 0
		for _, p := range items {
			if p == nil {
				continue
			}
			key := p.Key()
			if key == "" || (!all && c.queued.Contains(name, key)) {
				continue
			}
			c.queue.Enqueue(WorkQueueItem{Source: name, Payload: p, EnqueuedAt: c.clock.Now()})
			c.queued.Mark(name, key)
			n++
		}
		if n > 0 {
			c.log.Info("items enqueued", "source", name, "count", n)
		}
		c.metrics.enqueued(name, n)
		total += n
	}

	if total > 0 {
		if err := c.queued.Save(); err != nil {
			c.log.Warn("queued ids save failed, will retry next checkpoint", "error", err)
			errs = append(errs, err)
		}
	}
	c.metrics.queueDepth(c.queue.Len())
	return total, errors.Join(errs...)
}
