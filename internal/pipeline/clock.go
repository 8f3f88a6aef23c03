package pipeline

import (
	"context"
	"time"
)

// Clock はループのスケジューリングに使う時計
//
// 本番はSystemClock、テストでは手動で進める時計に差し替える。
type Clock interface {
	Now() time.Time
	// After は d 経過後に1回だけ値を送るチャネルを返す
	After(d time.Duration) <-chan time.Time
}

// SystemClock は実時間の時計
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// sleepCtx は d 経過かctxのキャンセルまで待つ
// キャンセルされた場合はfalseを返す
func sleepCtx(ctx context.Context, clock Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}
