package api

import (
	"context"
	"net/http"
	"time"
)

// statusClass はHTTPステータスコードに基づく応答の分類。
type statusClass int

const (
	// statusOK はエンベロープを解釈すべき応答（2xx）。
	statusOK statusClass = iota
	// statusRejected はAPIが要求を拒否した応答（4xx。429を除く）。
	statusRejected
	// statusRetry は一時的な障害として再試行できる応答（429/5xx）。
	statusRetry
)

const (
	// defaultMaxAttempts は冪等な呼び出しの最大試行回数。
	defaultMaxAttempts = 3
	// defaultRetryBase は指数バックオフの初回遅延。
	defaultRetryBase = 200 * time.Millisecond
	// maxRetryDelay は指数バックオフの最大遅延。
	maxRetryDelay = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを分類する。
func classifyStatus(statusCode int) statusClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return statusRetry
	case statusCode >= http.StatusInternalServerError:
		return statusRetry
	case statusCode >= http.StatusBadRequest:
		return statusRejected
	default:
		return statusOK
	}
}

// backoffDelay は試行回数に基づいて指数バックオフ遅延を計算する。
// attempt=0で base、以降2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// sleepContext はdだけ待機する。ctxが先に終了した場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
