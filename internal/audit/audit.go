// Package audit は管理者ルート評価の監査イベントを記録する。
// 追記のみの観測フックであり、認可判定そのものには影響しない。
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event は管理者ルートへのアクセス評価1回分の記録。
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id,omitempty"`
	AdminID     string    `json:"admin_id,omitempty"`
	Path        string    `json:"path"`
	Requirement string    `json:"requirement"`
	Authorized  bool      `json:"authorized"`
	Outcome     string    `json:"outcome"`
}

// Sink は監査イベントの出力先。
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink はイベントを破棄する。
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// LogSink はイベントを構造化ログとして出力する。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink はLogSinkを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "admin_route_audit",
		slog.Time("timestamp", event.Timestamp),
		slog.String("device_id", event.DeviceID),
		slog.String("admin_id", event.AdminID),
		slog.String("path", event.Path),
		slog.String("requirement", event.Requirement),
		slog.Bool("authorized", event.Authorized),
		slog.String("outcome", event.Outcome),
	)
}

// JSONWriterSink はイベントを1行1JSONで書き出す。
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// MemorySink はイベントをメモリ上に追記する。テストおよび開発用。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events は記録済みイベントのコピーを返す。
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
