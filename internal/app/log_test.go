package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "info message",
			opID:    "20240615T143045Z",
			level:   slog.LevelInfo,
			message: "role saved",
			want:    "2024-06-15T14:30:45Z\tINFO\t20240615T143045Z\trole saved\n",
		},
		{
			name:    "warn level",
			opID:    "op-2",
			level:   slog.LevelWarn,
			message: "external change discarded unsaved edits",
			want:    "2024-06-15T14:30:45Z\tWARN\top-2\texternal change discarded unsaved edits\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-3",
			level:   slog.LevelInfo,
			message: "role deleted",
			attrs:   []slog.Attr{slog.String("server", "s1"), slog.Int("attempt", 2)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-3\trole deleted\tserver=s1\tattempt=2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &lineHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := &lineHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h := base.WithAttrs([]slog.Attr{slog.String("component", "editor")}).WithGroup("role")

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "opened", 0)
	r.AddAttrs(slog.String("id", "r1"))
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	for _, want := range []string{"a=1", "component=editor", "role.id=r1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
	if len(base.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(base.attrs))
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	all := &lineHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !all.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false without a level, want true", level)
		}
	}

	warn := &lineHandler{level: slog.LevelWarn}
	if warn.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(INFO) = true with WARN threshold")
	}
	if !warn.Enabled(context.Background(), slog.LevelError) {
		t.Error("Enabled(ERROR) = false with WARN threshold")
	}
}

func TestTeeHandler(t *testing.T) {
	var file, stderr bytes.Buffer
	logger := slog.New(teeHandler{
		&lineHandler{w: &file, opID: "op"},
		&lineHandler{w: &stderr, opID: "op", level: slog.LevelWarn},
	})

	logger.Info("role saved")
	logger.Error("role save failed", "error", "Forbidden")

	if n := strings.Count(file.String(), "\n"); n != 2 {
		t.Errorf("file got %d lines, want 2", n)
	}
	if strings.Contains(stderr.String(), "role saved") {
		t.Error("stderr got an INFO record")
	}
	if !strings.Contains(stderr.String(), "error=Forbidden") {
		t.Errorf("stderr = %q, want the error record", stderr.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	(&slogAdapter{l: logger}).Debug("role opened", "role", "r1")

	data, err := os.ReadFile(filepath.Join(dir, "rolectl.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-op\trole opened\trole=r1") {
		t.Errorf("log file = %q, want the debug record", data)
	}
}
