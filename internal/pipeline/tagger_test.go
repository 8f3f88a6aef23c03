package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicTagger_Tag(t *testing.T) {
	tagger := NewTopicTagger(DefaultTopics)

	tests := []struct {
		name  string
		title string
		body  string
		want  []string
	}{
		{"single topic", "Nvidia unveils new GPU", "", []string{"nvidia"}},
		{"config order", "Microsoft and Nvidia expand deal", "", []string{"nvidia", "microsoft"}},
		{"keyword in body", "Quarterly results", "Jamie Dimon said rates would stay high", []string{"jp_morgan"}},
		{"case insensitive", "TESLA recalls Cybertruck", "", []string{"tesla"}},
		{"no match", "Local bakery wins award", "bread and pastries", []string{MiscTopic}},
		{"empty", "", "", []string{MiscTopic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tagger.Tag(tt.title, tt.body))
		})
	}
}

func TestTopicTagger_Deterministic(t *testing.T) {
	tagger := NewTopicTagger(DefaultTopics)
	first := tagger.Tag("Apple and Google face OpenAI", "Amazon too")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, tagger.Tag("Apple and Google face OpenAI", "Amazon too"))
	}
}

func TestTopicTagger_Relevant(t *testing.T) {
	tagger := NewTopicTagger([]Topic{{Name: "openai", Keywords: []string{" ChatGPT "}}})
	assert.True(t, tagger.Relevant("ChatGPT gets memory"))
	assert.False(t, tagger.Relevant("Weather update"))
}

func TestUnionTags(t *testing.T) {
	assert.Equal(t, []string{"apple", "tesla"}, unionTags([]string{"apple"}, []string{MiscTopic}, []string{"tesla", "apple"}))
	assert.Equal(t, []string{MiscTopic}, unionTags([]string{MiscTopic}, nil))
}
