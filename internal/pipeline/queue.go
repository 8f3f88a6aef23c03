package pipeline

import "sync"

// WorkQueue はCollectループとIngestループが共有するFIFOキュー
//
// 上限なし。Enqueueはブロックせず、TryDequeueは空なら即座にfalseを返す。
type WorkQueue struct {
	mu    sync.Mutex
	items []WorkQueueItem
}

// NewWorkQueue は空のキューを作る
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

// Enqueue は末尾に追加する
func (q *WorkQueue) Enqueue(item WorkQueueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryDequeue は先頭を取り出す（空ならfalse）
func (q *WorkQueue) TryDequeue() (WorkQueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return WorkQueueItem{}, false
	}
	item := q.items[0]
	q.items[0] = WorkQueueItem{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil // 取り出し済み領域を解放
	}
	return item, true
}

// Len は現在の要素数を返す
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
