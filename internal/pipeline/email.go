// =============================================================================
// email.go - ソース失敗通知メール
// =============================================================================
//
// スクレイプで失敗したソースがあったとき、Gmail SMTPで通知メールを送ります。
// 単発実行（Lambda）で使い、常駐モードではログとメトリクスだけで通知します。
//
// 【必要な環境変数】
//
//	EMAIL_FROM     - 送信元メールアドレス（Gmail）
//	EMAIL_PASSWORD - Gmailアプリパスワード（通常のパスワードではない）
//	EMAIL_TO       - 送信先メールアドレス（カンマ区切りで複数可）
//
// どれか1つでも空なら通知は行いません。
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// EmailConfig はメール送信の設定を保持する
type EmailConfig struct {
	From     string
	Password string
	To       []string
	SMTPHost string
	SMTPPort string
}

// sendMailFunc はSMTP送信関数（net/smtp.SendMail と同じシグネチャ）
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender はメール送信を担当する
type EmailSender struct {
	config   EmailConfig
	sendMail sendMailFunc
	// retryInterval は最初の再送までの待機時間（以降は指数的に伸びる）
	retryInterval time.Duration
	maxTries      uint
}

// NewEmailSender はメール送信者を作る
//
// toはカンマ区切りで複数指定できる。
func NewEmailSender(from, password, to string) (*EmailSender, error) {
	if from == "" {
		return nil, errors.New("EMAIL_FROM is required")
	}
	if password == "" {
		return nil, errors.New("EMAIL_PASSWORD is required (use Gmail App Password)")
	}
	var toList []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			toList = append(toList, addr)
		}
	}
	if len(toList) == 0 {
		return nil, errors.New("EMAIL_TO is required")
	}

	return &EmailSender{
		config: EmailConfig{
			From:     from,
			Password: password,
			To:       toList,
			SMTPHost: "smtp.gmail.com",
			SMTPPort: "587",
		},
		sendMail:      smtp.SendMail,
		retryInterval: 2 * time.Second,
		maxTries:      3,
	}, nil
}

// NewEmailSenderFromConfig は通知設定から送信者を作る
func NewEmailSenderFromConfig(cfg NotifyConfig) (*EmailSender, error) {
	return NewEmailSender(cfg.EmailFrom, cfg.EmailPassword, cfg.EmailTo)
}

// BuildEmailMessage はRFC 5322形式のメッセージを組み立てる
//
//	From: sender@example.com\r\n
//	To: recipient@example.com\r\n
//	Subject: 件名\r\n
//	Content-Type: text/plain; charset=UTF-8\r\n
//	\r\n
//	本文...
func (es *EmailSender) BuildEmailMessage(subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", es.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(es.config.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// SendWithRetry は指数バックオフ（2秒 → 4秒）で再送しながら送信する
func (es *EmailSender) SendWithRetry(ctx context.Context, msg []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = es.retryInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, es.send(msg)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(es.maxTries),
	)
	if err != nil {
		return fmt.Errorf("failed to send email after %d tries: %w", es.maxTries, err)
	}
	return nil
}

// send はPLAIN認証（ポート587のSTARTTLS）で1回送信する
func (es *EmailSender) send(msg []byte) error {
	auth := smtp.PlainAuth("", es.config.From, es.config.Password, es.config.SMTPHost)
	addr := es.config.SMTPHost + ":" + es.config.SMTPPort
	if err := es.sendMail(addr, auth, es.config.From, es.config.To, msg); err != nil {
		return fmt.Errorf("SMTP send failed: %w (check EMAIL_PASSWORD is a Gmail App Password)", err)
	}
	return nil
}

// =============================================================================
// ソース失敗通知
// =============================================================================

// BuildSourceFailureReport は失敗ソースの一覧から件名と本文を作る
//
//	Market Relay source collection errors:
//
//	  ap_news: fetch ap_news: ...
//	  reddit: fetch reddit: ...
//
//	New items this run: 12
//	Timestamp: 2026-01-05T12:00:00Z
func BuildSourceFailureReport(failures []SourceError, newItems int, now time.Time) (subject, body string) {
	subject = fmt.Sprintf("[Market Relay] %d source(s) failed - %s",
		len(failures), now.Format("2006-01-02 15:04"))

	var sb strings.Builder
	sb.WriteString("Market Relay source collection errors:\n\n")
	for _, f := range failures {
		fmt.Fprintf(&sb, "  %s: %v\n", f.Source, f.Err)
	}
	fmt.Fprintf(&sb, "\nNew items this run: %d\n", newItems)
	fmt.Fprintf(&sb, "Timestamp: %s\n", now.UTC().Format(time.RFC3339))
	return subject, sb.String()
}

// NotifySourceFailures は失敗ソースがあり、通知設定が揃っている場合だけメールを送る
//
// 送信の失敗はログに残すだけで、呼び出し側には返さない。
func NotifySourceFailures(ctx context.Context, cfg NotifyConfig, res ScrapeResult, now time.Time, log *slog.Logger) {
	if len(res.Errors) == 0 {
		return
	}
	if !cfg.Enabled() {
		log.Info("email settings not present, skipping failure notification", "failed_sources", len(res.Errors))
		return
	}

	sender, err := NewEmailSenderFromConfig(cfg)
	if err != nil {
		log.Warn("email sender unavailable", "error", err)
		return
	}
	subject, body := BuildSourceFailureReport(res.Errors, res.Total(), now)
	if err := sender.SendWithRetry(ctx, sender.BuildEmailMessage(subject, body)); err != nil {
		log.Warn("failure notification not sent", "error", err)
		return
	}
	log.Info("failure notification sent", "failed_sources", len(res.Errors))
}
