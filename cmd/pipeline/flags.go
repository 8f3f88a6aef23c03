package main

import (
	"flag"
	"os"
)

// CLIConfig はコマンドラインフラグの値
type CLIConfig struct {
	// ConfigPath はYAML設定ファイルのパス（空ならデフォルト設定）
	ConfigPath string

	// Replay がtrueの場合、スクレイプせずに記事ログの未投入分をシンクへ流して終了
	Replay bool

	// LogLevel はLOG_LEVELと設定ファイルより優先する
	LogLevel string

	// LogFormat は text | json
	LogFormat string

	// MetricsAddr が指定された場合、/metrics を公開する（例: ":9090"）
	MetricsAddr string
}

// ParseFlags はCLIフラグを解析する
func ParseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv("PIPELINE_CONFIG"), "path to sources YAML (default: built-in sources)")
	fs.BoolVar(&cfg.Replay, "replay", false, "skip scraping; flush on-disk articles into the sink and exit")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "log format: text or json (overrides config)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
