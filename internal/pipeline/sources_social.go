package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// SocialThreadAdapter はソーシャルスレッド（投稿 + コメント）を取得する
//
// 【処理の流れ】
//  1. カテゴリ × コミュニティごとに、キーワードのORクエリで検索ジョブを実行
//  2. フラットなレコードを親投稿IDでスレッドにまとめる
//     （親投稿が結果にないコメントは捨てる）
//  3. 投稿とコメントにそれぞれトピックタグを付ける
//
// 1つのジョブの失敗はログに残してスキップし、全ジョブが失敗した場合だけエラーを返す。
type SocialThreadAdapter struct {
	cfg     SourceConfig
	client  SocialScrapeClient
	tagger  *TopicTagger
	limiter *rate.Limiter
	clock   Clock
	log     *slog.Logger
}

// NewSocialThreadAdapter はソーシャルスレッドアダプタを作る
func NewSocialThreadAdapter(cfg SourceConfig, client SocialScrapeClient, deps AdapterDeps) *SocialThreadAdapter {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &SocialThreadAdapter{
		cfg:     cfg,
		client:  client,
		tagger:  deps.Tagger,
		limiter: newSourceLimiter(cfg.RequestDelay),
		clock:   clock,
		log:     log.With("source", cfg.Name),
	}
}

func (a *SocialThreadAdapter) Name() string { return a.cfg.Name }

// Jobs は設定から検索ジョブを組み立てる（カテゴリ順 → コミュニティ順）
func (a *SocialThreadAdapter) Jobs() []SocialJob {
	sc := a.cfg.Social
	var jobs []SocialJob
	for _, cat := range sc.Categories {
		raw, encoded := BuildORQuery(cat.Keywords)
		for _, community := range cat.Communities {
			jobs = append(jobs, SocialJob{
				Category:     cat.Name,
				Query:        raw,
				Community:    community,
				SearchURL:    buildSearchURL(sc.SearchURLTemplate, community, encoded),
				MaxItems:     sc.MaxItems,
				MaxPostCount: sc.MaxPostCount,
				MaxComments:  sc.MaxComments,
				IncludeNSFW:  sc.IncludeNSFW,
				ProxyGroups:  sc.ProxyGroups,
			})
		}
	}
	return jobs
}

func (a *SocialThreadAdapter) FetchCandidates(ctx context.Context) ([]Candidate, error) {
	jobs := a.Jobs()

	seen := map[string]bool{}
	var (
		out    []Candidate
		errs   []error
		failed int
	)
	for _, job := range jobs {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		records, err := a.client.RunJob(ctx, job)
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("%s/%s: %w", job.Category, job.Community, err))
			a.log.Warn("social job failed", "category", job.Category, "community", job.Community, "error", err)
			continue
		}

		for _, thread := range groupThreads(records, job, a.clock.Now()) {
			// 複数コミュニティに出てくる投稿は最初のものを使う
			if seen[thread.Post.ID] {
				continue
			}
			seen[thread.Post.ID] = true
			out = append(out, Candidate{ExternalID: thread.Post.ID, Raw: thread})
		}
	}

	if len(jobs) > 0 && failed == len(jobs) {
		return nil, errors.Join(errs...)
	}
	return limitCandidates(out, a.cfg.MaxItems), nil
}

func (a *SocialThreadAdapter) Parse(_ context.Context, c Candidate) (*Payload, error) {
	thread, ok := c.Raw.(*SocialThreadPayload)
	if !ok || thread == nil {
		return nil, &ParseError{Source: a.cfg.Name, ItemID: c.ExternalID, Err: fmt.Errorf("unexpected candidate type %T", c.Raw)}
	}

	thread.Source = a.cfg.Name
	thread.Post.Tags = a.tagger.Tag(thread.Post.Title, thread.Post.Body)
	for i := range thread.Comments {
		thread.Comments[i].Tags = a.tagger.Tag("", thread.Comments[i].Body)
	}
	return NewThreadPayload(thread), nil
}

// groupThreads はフラットなレコードを投稿ごとのスレッドにまとめる（投稿の出現順）
func groupThreads(records []SocialRecord, job SocialJob, now time.Time) []*SocialThreadPayload {
	scrapedAt := now.UTC().Format(time.RFC3339)

	byID := map[string]*SocialThreadPayload{}
	var order []*SocialThreadPayload
	for _, r := range records {
		if r.DataType != "post" || r.ID == "" || byID[r.ID] != nil {
			continue
		}
		ts := r.ScrapedAt
		if ts == "" {
			ts = scrapedAt
		}
		t := &SocialThreadPayload{
			Post: SocialPost{
				ID:          r.ID,
				Category:    job.Category,
				Query:       job.Query,
				Community:   job.Community,
				Title:       normalizeWhitespace(cleanHTMLTags(r.Title)),
				Body:        cleanHTMLTags(r.Body),
				URL:         r.URL,
				UpVotes:     r.UpVotes,
				UpVoteRatio: r.UpVoteRatio,
				CreatedAt:   r.CreatedAt,
				ScrapedAt:   ts,
			},
			Comments:  []SocialComment{},
			ScrapedAt: ts,
		}
		byID[r.ID] = t
		order = append(order, t)
	}

	commentSeen := map[string]bool{}
	for _, r := range records {
		if r.DataType != "comment" || r.ID == "" {
			continue
		}
		t := byID[r.PostID]
		if t == nil || commentSeen[r.ID] {
			continue
		}
		commentSeen[r.ID] = true
		t.Comments = append(t.Comments, SocialComment{
			ID:        r.ID,
			Username:  r.Username,
			Body:      cleanHTMLTags(r.Body),
			URL:       r.URL,
			UpVotes:   r.UpVotes,
			CreatedAt: r.CreatedAt,
			ScrapedAt: r.ScrapedAt,
		})
	}
	return order
}
