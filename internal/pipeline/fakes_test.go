package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// 手動で進める時計
// -----------------------------------------------------------------------------

type clockWaiter struct {
	at time.Time
	ch chan time.Time
}

type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []clockWaiter
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, clockWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance は時計を進め、期限が来た待機を起こす
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// -----------------------------------------------------------------------------
// シンク
// -----------------------------------------------------------------------------

type fakeSink struct {
	mu        sync.Mutex
	calls     int
	failFirst int  // 最初のN回は失敗
	alwaysErr bool // 常に失敗
	docs      []*NormalizedArticle
}

var errSinkDown = errors.New("sink unavailable")

func (s *fakeSink) AddDocument(_ context.Context, a *NormalizedArticle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.alwaysErr || s.calls <= s.failFirst {
		return "", errSinkDown
	}
	s.docs = append(s.docs, a)
	return a.ID, nil
}

func (s *fakeSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSink) Docs() []*NormalizedArticle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*NormalizedArticle(nil), s.docs...)
}

// -----------------------------------------------------------------------------
// アダプタ
// -----------------------------------------------------------------------------

// fakeAdapter は Candidate.Raw に入れた *Payload をそのまま返す
type fakeAdapter struct {
	name       string
	candidates []Candidate
	fetchErr   error
	panicFetch bool
	parseFail  map[string]bool

	mu      sync.Mutex
	fetches int
	parses  int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) FetchCandidates(_ context.Context) ([]Candidate, error) {
	a.mu.Lock()
	a.fetches++
	a.mu.Unlock()
	if a.panicFetch {
		panic("boom")
	}
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return a.candidates, nil
}

func (a *fakeAdapter) Parse(_ context.Context, c Candidate) (*Payload, error) {
	a.mu.Lock()
	a.parses++
	a.mu.Unlock()
	if a.parseFail[c.ExternalID] {
		return nil, &ParseError{Source: a.name, ItemID: c.ExternalID, Err: errors.New("bad page")}
	}
	return c.Raw.(*Payload), nil
}

func (a *fakeAdapter) Parses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parses
}

func newsCandidate(source, url, headline string) Candidate {
	return Candidate{
		ExternalID: url,
		Raw: NewNewsPayload(&NewsPayload{
			URL:       url,
			Headline:  headline,
			Content:   "Body of " + headline,
			Source:    source,
			Timestamp: "2024-01-01T00:00:00Z",
		}),
	}
}

// -----------------------------------------------------------------------------
// ソーシャル取得クライアント
// -----------------------------------------------------------------------------

type fakeSocialClient struct {
	mu      sync.Mutex
	jobs    []SocialJob
	records map[string][]SocialRecord // community → records
	fail    map[string]bool           // community → 失敗させる
}

func (c *fakeSocialClient) RunJob(_ context.Context, job SocialJob) ([]SocialRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	if c.fail[job.Community] {
		return nil, errors.New("actor run failed")
	}
	return c.records[job.Community], nil
}
