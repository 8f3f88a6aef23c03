// =============================================================================
// Lambda: collect
// =============================================================================
//
// スクレイプ → コレクト → インジェストを1回だけ実行するLambda関数
// （EventBridgeのスケジュールで起動する想定）
//
// 環境変数:
//   - PIPELINE_CONFIG:     YAML設定ファイルのパス（任意、省略時は組み込みのソース）
//   - DATA_DIR:            状態ファイルの保存先（デフォルト: /tmp/market-relay/data）
//   - ARTICLES_DIR:        記事ログの保存先（デフォルト: /tmp/market-relay/articles）
//   - MEILISEARCH_HOST / MEILISEARCH_API_KEY または NOTION_TOKEN / NOTION_DATABASE_ID
//   - APIFY_TOKEN:         ソーシャルソースを使う場合
//   - REDIS_ADDR:          dedup.backend=redis の場合（/tmp は起動ごとに消えるので推奨）
//   - EMAIL_FROM:          失敗通知メール送信元 (任意)
//   - EMAIL_PASSWORD:      Gmailアプリパスワード (任意)
//   - EMAIL_TO:            失敗通知メール送信先 (任意)
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"market-relay/internal/logger"
	"market-relay/internal/pipeline"
)

// Response はLambdaレスポンス
type Response struct {
	StatusCode    int    `json:"statusCode"`
	Message       string `json:"message"`
	NewItems      int    `json:"newItems"`
	Enqueued      int    `json:"enqueued"`
	Accepted      int    `json:"accepted"`
	Dropped       int    `json:"dropped"`
	FailedSources int    `json:"failedSources"`
}

// Handler はLambdaのメインハンドラー
func Handler(ctx context.Context, event any) (Response, error) {
	cfg, err := pipeline.LoadConfig(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		return Response{StatusCode: 400, Message: err.Error()}, err
	}
	cfg.DataDir = envOr("DATA_DIR", "/tmp/market-relay/data")
	cfg.ArticlesDir = envOr("ARTICLES_DIR", "/tmp/market-relay/articles")

	// CloudWatch Logs で扱いやすいようにJSONで出力
	log := logger.New(cfg.Logging.Level, "json")

	coord, err := pipeline.Build(ctx, cfg, pipeline.BuildOptions{Log: log})
	if err != nil {
		return Response{StatusCode: 500, Message: err.Error()}, err
	}

	rep, err := coord.RunOnce(ctx)
	pipeline.NotifySourceFailures(ctx, cfg.Notify, rep.Scrape, time.Now(), log)

	resp := Response{
		StatusCode:    200,
		NewItems:      rep.Scrape.Total(),
		Enqueued:      rep.Enqueued,
		Accepted:      rep.Ingest.Accepted,
		Dropped:       rep.Ingest.Dropped,
		FailedSources: len(rep.Scrape.Errors),
	}
	if err != nil {
		resp.StatusCode = 500
		resp.Message = err.Error()
		return resp, err
	}
	resp.Message = fmt.Sprintf("collected %d new item(s), indexed %d", resp.NewItems, resp.Accepted)
	return resp, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	lambda.Start(Handler)
}
