package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArticleLog_MergeKeepsDiscoveryOrder(t *testing.T) {
	log := NewArticleLog(filepath.Join(t.TempDir(), "articles", "npr_articles.json"))

	items, err := log.Load()
	require.NoError(t, err)
	assert.Empty(t, items)

	a := newsCandidate("npr", "https://x/a", "A").Raw.(*Payload)
	b := newsCandidate("npr", "https://x/b", "B").Raw.(*Payload)
	c := newsCandidate("npr", "https://x/c", "C").Raw.(*Payload)

	n, err := log.Merge([]*Payload{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = log.Merge([]*Payload{b, c, c})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "existing and repeated keys are skipped")

	items, err = log.Load()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"https://x/a", "https://x/b", "https://x/c"},
		[]string{items[0].Key(), items[1].Key(), items[2].Key()})
	assert.Equal(t, KindNews, items[2].Kind)
	assert.Equal(t, "C", items[2].News.Headline)
}

func TestArticleLog_ThreadRoundTrip(t *testing.T) {
	log := NewArticleLog(filepath.Join(t.TempDir(), "reddit_articles.json"))
	p := NewThreadPayload(&SocialThreadPayload{
		Source:   "reddit",
		Post:     SocialPost{ID: "t3_1", Title: "Post", URL: "https://reddit/1", UpVotes: 10},
		Comments: []SocialComment{{ID: "c1", Body: "hi"}},
	})

	_, err := log.Merge([]*Payload{p})
	require.NoError(t, err)

	items, err := log.Load()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, KindSocialThread, items[0].Kind)
	assert.Nil(t, items[0].News)
	assert.Equal(t, "t3_1", items[0].Key())
	assert.Equal(t, 10, items[0].Thread.Post.UpVotes)
	assert.Len(t, items[0].Thread.Comments, 1)
}

func TestArticleLog_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbc_articles.json")
	require.NoError(t, os.WriteFile(path, []byte("["), 0o644))

	_, err := NewArticleLog(path).Load()
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "load", pe.Op)
}

func TestWorkQueue_FIFO(t *testing.T) {
	q := NewWorkQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	for _, s := range []string{"a", "b", "c"} {
		q.Enqueue(WorkQueueItem{Source: s})
	}
	assert.Equal(t, 3, q.Len())

	var got []string
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, item.Source)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, q.Len())
}
