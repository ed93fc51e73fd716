package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// blockingSink はreleaseがcloseされるまでEmitをブロックする。
type blockingSink struct {
	release chan struct{}
	inner   MemorySink
}

func (s *blockingSink) Emit(ctx context.Context, event Event) {
	<-s.release
	s.inner.Emit(ctx, event)
}

func TestDispatcher_DeliversEventsToSink(t *testing.T) {
	sink := &MemorySink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{Path: "/admin/dashboard", Authorized: true, Outcome: "render"})
	d.Emit(context.Background(), Event{Path: "/admin/users", Authorized: false, Outcome: "redirect:/admin/login"})
	d.Close()

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Path != "/admin/dashboard" || !events[0].Authorized {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].Outcome != "redirect:/admin/login" {
		t.Errorf("events[1].Outcome = %q", events[1].Outcome)
	}
}

func TestDispatcher_EmitAfterCloseIsIgnored(t *testing.T) {
	sink := &MemorySink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, sink)
	d.Close()

	d.Emit(context.Background(), Event{Path: "/admin/dashboard"})

	if got := len(sink.Events()); got != 0 {
		t.Errorf("len(events) = %d, want 0", got)
	}
}

func TestDispatcher_DropIfFullCountsDrops(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)

	// 1件目は配送goroutineがブロック中に受け取り、2件目でバッファが埋まる
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Path: "/admin/dashboard"})
	}

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Error("expected dropped events when buffer is full")
	}

	close(sink.release)
	d.Close()
}

func TestDispatcher_NilIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Error("nil dispatcher should report zero drops")
	}
}

func TestJSONWriterSink_WritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{Path: "/admin/users", Outcome: "render", Authorized: true})
	sink.Emit(context.Background(), Event{Path: "/admin/other", Outcome: "redirect:/admin/login"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var got Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if got.Path != "/admin/users" || !got.Authorized {
		t.Errorf("decoded = %+v", got)
	}
}

func TestLogSink_EmitsStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewLogSink(logger)

	sink.Emit(context.Background(), Event{Path: "/admin/dashboard", Authorized: false, Outcome: "redirect:/admin/login"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output: %v", err)
	}
	if entry["msg"] != "admin_route_audit" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["path"] != "/admin/dashboard" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["authorized"] != false {
		t.Errorf("authorized = %v", entry["authorized"])
	}
}
