package sigsock

import (
	"log/slog"
	"testing"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

// mockLogger records every call.
type mockLogger struct {
	entries []logEntry
}

func (l *mockLogger) add(level, msg string, args []any) {
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *mockLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *mockLogger) last() logEntry {
	if len(l.entries) == 0 {
		return logEntry{}
	}
	return l.entries[len(l.entries)-1]
}

func TestDefaultLogger(t *testing.T) {
	if defaultLogger() != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestConnLogger_PrefixesConnID(t *testing.T) {
	mock := &mockLogger{}
	logger := connLogger{Logger: mock, id: "01HZY"}

	logger.Warn("no handler for signal", "signal", "testRun")

	got := mock.last()
	if got.level != "warn" || got.msg != "no handler for signal" {
		t.Fatalf("entry = %+v, want warn record", got)
	}
	want := []any{"conn_id", "01HZY", "signal", "testRun"}
	if len(got.args) != len(want) {
		t.Fatalf("args = %v, want %v", got.args, want)
	}
	for i := range want {
		if got.args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, got.args[i], want[i])
		}
	}

	logger.Debug("dispatch signal")
	logger.Info("receive loop stopped")
	logger.Error("connection failed")
	for _, e := range mock.entries[1:] {
		if len(e.args) != 2 || e.args[0] != "conn_id" {
			t.Errorf("%s args = %v, want only conn_id", e.level, e.args)
		}
	}
}

func TestNew_LogsWithConnID(t *testing.T) {
	mock := &mockLogger{}
	conn := New(LoggerOption(mock))

	if err := conn.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	_ = conn.Close()

	if len(mock.entries) == 0 {
		t.Fatal("nothing logged")
	}
	for _, e := range mock.entries {
		if len(e.args) < 2 || e.args[0] != "conn_id" || e.args[1] != conn.ID() {
			t.Errorf("%q args = %v, want conn_id %s first", e.msg, e.args, conn.ID())
		}
	}
}
