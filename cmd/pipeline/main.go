// =============================================================================
// main.go - Market Relay パイプラインのエントリーポイント
// =============================================================================
//
// ニュースフィード・ハブページ・ソーシャルスレッドから記事を集め、
// 正規化して検索インデックスに書き込む常駐プロセスです。
//
// 【2つの運用モード】
//
//	常駐モード（デフォルト）:
//	  ./pipeline -config configs/sources.yaml
//	  SIGINT / SIGTERM で停止し、状態ファイルを保存して終了
//
//	リプレイモード:
//	  ./pipeline -replay
//	  スクレイプせず、記事ログにある未投入の記事をシンクへ流して終了
//
// 【CLIフラグ】
//
//	-config        YAML設定ファイル（省略時は組み込みのソース）
//	-replay        リプレイモード
//	-log-level     debug / info / warn / error
//	-log-format    text / json
//	-metrics-addr  Prometheusメトリクスの公開アドレス
//
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"market-relay/internal/logger"
	"market-relay/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env がなくても環境変数だけで動く
	envErr := godotenv.Load()

	cli, err := ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := pipeline.LoadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug(".env file not loaded, using environment variables only", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)
	if cli.MetricsAddr != "" {
		srv := serveMetrics(cli.MetricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	coord, err := pipeline.Build(ctx, cfg, pipeline.BuildOptions{Log: log, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	if cli.Replay {
		rep, err := coord.Replay(ctx)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		if rep.Ingest.Dropped > 0 {
			log.Warn("some articles were dropped", "dropped", rep.Ingest.Dropped)
		}
		return nil
	}

	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics は /metrics をバックグラウンドで公開する
func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
