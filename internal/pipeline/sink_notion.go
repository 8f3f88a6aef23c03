package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// notionTextLimit はNotionのリッチテキスト1要素あたりの上限文字数
const notionTextLimit = 2000

// notionIDProperty はドキュメントIDを保存するプロパティ名
const notionIDProperty = "Document ID"

// NotionSink はNotionデータベースに記事を書き込む
//
// 【冪等性】
//
//	"Document ID" プロパティで既存ページを検索し、
//	見つかれば更新、なければ新規作成する。
type NotionSink struct {
	client *notionapi.Client
	dbID   notionapi.DatabaseID
}

// NewNotionSink は新しいNotionシンクを作成する
func NewNotionSink(token, databaseID string) (*NotionSink, error) {
	if token == "" {
		return nil, errors.New("NOTION_TOKEN is required")
	}
	if databaseID == "" {
		return nil, errors.New("NOTION_DATABASE_ID is required")
	}
	return &NotionSink{
		client: notionapi.NewClient(notionapi.Token(token)),
		dbID:   notionapi.DatabaseID(databaseID),
	}, nil
}

// AddDocument は記事をページとして作成または更新する
func (ns *NotionSink) AddDocument(ctx context.Context, article *NormalizedArticle) (string, error) {
	props := notionProperties(article)

	existing, err := ns.findPage(ctx, article.ID)
	if err != nil {
		return "", err
	}

	if existing != "" {
		_, err := ns.client.Page.Update(ctx, notionapi.PageID(existing), &notionapi.PageUpdateRequest{
			Properties: props,
		})
		if err != nil {
			return "", fmt.Errorf("failed to update notion page %s: %w", existing, err)
		}
		return article.ID, nil
	}

	_, err = ns.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: ns.dbID,
		},
		Properties: props,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create notion page: %w", err)
	}
	return article.ID, nil
}

// findPage はドキュメントIDが一致するページのIDを返す（なければ空文字列）
func (ns *NotionSink) findPage(ctx context.Context, docID string) (string, error) {
	resp, err := ns.client.Database.Query(ctx, ns.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: notionIDProperty,
			RichText: &notionapi.TextFilterCondition{Equals: docID},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to query notion database: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

// notionProperties は記事をNotionのページプロパティに変換する
func notionProperties(a *NormalizedArticle) notionapi.Properties {
	props := notionapi.Properties{
		"Title": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(a.Headline),
		},
		"URL": notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  a.URL,
		},
		"Source": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: a.Source},
		},
		"Sentiment": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: a.SentimentCategory},
		},
		notionIDProperty: notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(a.ID),
		},
	}

	if a.Content != "" {
		props["Excerpt"] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(truncateString(a.Content, notionTextLimit)),
		}
	}

	if len(a.TopicTags) > 0 {
		opts := make([]notionapi.Option, 0, len(a.TopicTags))
		for _, tag := range a.TopicTags {
			opts = append(opts, notionapi.Option{Name: tag})
		}
		props["Tags"] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}

	if a.SentimentScore != nil {
		props["Score"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: *a.SentimentScore,
		}
	}

	if t, err := time.Parse(PublishedAtLayout, a.PublishedAt); err == nil {
		d := notionapi.Date(t)
		props["Published"] = notionapi.DateProperty{
			Type: notionapi.PropertyTypeDate,
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: s}},
	}
}
