package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socialSource() SourceConfig {
	return SourceConfig{
		Name: "reddit",
		Kind: SourceKindSocial,
		Social: SocialConfig{
			ActorID:           "actor",
			SearchURLTemplate: "https://www.reddit.com/r/{community}/search/?q={query}&sort=top",
			Categories: []SocialCategory{
				{Name: "tech1", Keywords: []string{"nvidia", "jensen huang"}, Communities: []string{"stocks", "investing"}},
			},
			MaxItems:     5,
			MaxPostCount: 5,
			MaxComments:  5,
		},
	}
}

func TestBuildORQuery(t *testing.T) {
	raw, encoded := BuildORQuery([]string{"nvidia", "jensen huang", "AT&T"})
	assert.Equal(t, "(nvidia OR jensen huang OR AT&T)", raw)
	assert.Equal(t, "%28nvidia%20OR%20jensen%20huang%20OR%20AT%26T%29", encoded)
}

func TestGroupThreads(t *testing.T) {
	records := []SocialRecord{
		{DataType: "comment", ID: "c1", PostID: "p1", Body: "<b>first</b> &amp; best"},
		{DataType: "post", ID: "p1", Title: "Nvidia earnings", Body: "", URL: "https://reddit/p1", UpVotes: 40},
		{DataType: "comment", ID: "c2", PostID: "p1", Body: "second"},
		{DataType: "comment", ID: "c2", PostID: "p1", Body: "second again"},
		{DataType: "comment", ID: "c9", PostID: "missing", Body: "orphan"},
		{DataType: "post", ID: "p2", Title: "Jensen Huang keynote", URL: "https://reddit/p2", ScrapedAt: "2024-03-01T00:00:00Z"},
		{DataType: "post", ID: "p1", Title: "duplicate post"},
	}
	job := SocialJob{Category: "tech1", Query: "(nvidia)", Community: "stocks"}

	threads := groupThreads(records, job, testNow)
	require.Len(t, threads, 2)

	p1 := threads[0]
	assert.Equal(t, "p1", p1.Post.ID)
	assert.Equal(t, "Nvidia earnings", p1.Post.Title)
	assert.Equal(t, "stocks", p1.Post.Community)
	assert.Equal(t, "tech1", p1.Post.Category)
	assert.Equal(t, "2025-06-01T12:00:00Z", p1.ScrapedAt)
	require.Len(t, p1.Comments, 2, "orphans and repeated comment ids are dropped")
	assert.Equal(t, "first & best", p1.Comments[0].Body)
	assert.Equal(t, "c2", p1.Comments[1].ID)

	p2 := threads[1]
	assert.Equal(t, "2024-03-01T00:00:00Z", p2.ScrapedAt)
	assert.Empty(t, p2.Comments)
	assert.NotNil(t, p2.Comments)
}

func TestSocialThreadAdapter(t *testing.T) {
	client := &fakeSocialClient{
		records: map[string][]SocialRecord{
			"stocks": {
				{DataType: "post", ID: "p1", Title: "Nvidia earnings", URL: "https://reddit/p1"},
				{DataType: "comment", ID: "c1", PostID: "p1", Body: "Apple next?"},
			},
			"investing": {
				{DataType: "post", ID: "p1", Title: "Nvidia earnings", URL: "https://reddit/p1"},
				{DataType: "post", ID: "p3", Title: "Market open", URL: "https://reddit/p3"},
			},
		},
	}
	a := NewSocialThreadAdapter(socialSource(), client, testDeps())

	ctx := context.Background()
	cands, err := a.FetchCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 2, "posts found in several communities are kept once")
	assert.Equal(t, "p1", cands[0].ExternalID)
	assert.Equal(t, "p3", cands[1].ExternalID)

	require.Len(t, client.jobs, 2)
	assert.Equal(t, "https://www.reddit.com/r/stocks/search/?q=%28nvidia%20OR%20jensen%20huang%29&sort=top", client.jobs[0].SearchURL)
	assert.Equal(t, "(nvidia OR jensen huang)", client.jobs[0].Query)
	assert.Equal(t, 5, client.jobs[0].MaxComments)

	p, err := a.Parse(ctx, cands[0])
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, KindSocialThread, p.Kind)
	assert.Equal(t, "reddit", p.Thread.Source)
	assert.Equal(t, []string{"nvidia"}, p.Thread.Post.Tags)
	assert.Equal(t, []string{"apple"}, p.Thread.Comments[0].Tags)
}

func TestSocialThreadAdapter_PartialAndTotalFailure(t *testing.T) {
	client := &fakeSocialClient{
		records: map[string][]SocialRecord{
			"investing": {{DataType: "post", ID: "p3", Title: "Market open", URL: "https://reddit/p3"}},
		},
		fail: map[string]bool{"stocks": true},
	}
	a := NewSocialThreadAdapter(socialSource(), client, testDeps())

	cands, err := a.FetchCandidates(context.Background())
	require.NoError(t, err, "a single failed job is skipped")
	assert.Len(t, cands, 1)

	client.fail["investing"] = true
	_, err = a.FetchCandidates(context.Background())
	assert.Error(t, err, "every job failing fails the source")
}

func TestApifyClient_RunJob(t *testing.T) {
	var (
		gotPath  string
		gotAuth  string
		gotInput map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotInput)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[
			{"dataType":"post","id":"p1","title":"T","url":"https://reddit/p1","upVotes":12,"upVoteRatio":0.9},
			{"dataType":"comment","id":"c1","postId":"p1","body":"hello","username":"u"}
		]`)
	}))
	defer srv.Close()

	client, err := NewApifyClient(SocialConfig{ActorID: "abc", APIBaseURL: srv.URL + "/", Token: "tok"}, NewFetchConfig(HTTPConfig{}))
	require.NoError(t, err)

	records, err := client.RunJob(context.Background(), SocialJob{
		SearchURL:   "https://www.reddit.com/r/stocks/search/?q=x",
		MaxItems:    5,
		ProxyGroups: []string{"RESIDENTIAL"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v2/acts/abc/run-sync-get-dataset-items", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "top", gotInput["sort"])
	assert.Equal(t, true, gotInput["searchPosts"])
	assert.Equal(t, float64(5), gotInput["maxItems"])
	assert.Equal(t, map[string]any{"useApifyProxy": true, "apifyProxyGroups": []any{"RESIDENTIAL"}}, gotInput["proxy"])

	require.Len(t, records, 2)
	assert.Equal(t, 12, records[0].UpVotes)
	assert.Equal(t, "p1", records[1].PostID)
}

func TestApifyClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client, err := NewApifyClient(SocialConfig{ActorID: "abc", APIBaseURL: srv.URL, Token: "tok"}, FetchConfig{})
	require.NoError(t, err)
	_, err = client.RunJob(context.Background(), SocialJob{})
	assert.ErrorContains(t, err, "402")
}

func TestNewApifyClient_RequiresToken(t *testing.T) {
	_, err := NewApifyClient(SocialConfig{ActorID: "abc"}, FetchConfig{})
	assert.Error(t, err)
}
