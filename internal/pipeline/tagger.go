package pipeline

import "strings"

// MiscTopic はどのトピックにも該当しない場合のタグ
const MiscTopic = "misc"

// TopicTagger はキーワードの部分一致でトピックタグを付ける
//
// 【判定方法】
//
//	title + " " + body を小文字化し、各トピックのキーワード（小文字化済み）が
//	1つでも部分文字列として含まれていればそのトピックを付与する。
//	どれにも該当しなければ ["misc"] を返す。
//
// 状態を持たない純粋関数なので、複数のgoroutineから同時に呼んでよい。
type TopicTagger struct {
	topics []Topic
}

// NewTopicTagger はトピック表からタガーを作る
func NewTopicTagger(topics []Topic) *TopicTagger {
	lowered := make([]Topic, 0, len(topics))
	for _, t := range topics {
		kws := make([]string, 0, len(t.Keywords))
		for _, kw := range t.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		lowered = append(lowered, Topic{Name: t.Name, Keywords: kws})
	}
	return &TopicTagger{topics: lowered}
}

// Tag はタイトルと本文からトピックタグを返す（トピック表の順）
func (t *TopicTagger) Tag(title, body string) []string {
	content := strings.ToLower(title + " " + body)

	var tags []string
	for _, topic := range t.topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(content, kw) {
				tags = append(tags, topic.Name)
				break
			}
		}
	}
	if len(tags) == 0 {
		return []string{MiscTopic}
	}
	return tags
}

// Relevant は見出しだけで判定し、"misc" 以外のトピックに該当するかを返す
//
// 本文を取得する前の事前フィルタとして使う。
func (t *TopicTagger) Relevant(headline string) bool {
	return !isMiscOnly(t.Tag(headline, ""))
}

func isMiscOnly(tags []string) bool {
	return len(tags) == 1 && tags[0] == MiscTopic
}

// unionTags は複数のタグ集合を結合する
//
// 実トピックが1つでもあれば "misc" は落とす。
func unionTags(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	all = uniqStrings(all)

	var out []string
	for _, tag := range all {
		if tag != MiscTopic {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return []string{MiscTopic}
	}
	return out
}
