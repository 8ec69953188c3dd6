package handler

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandler_AddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &slog.HandlerOptions{AddSource: true}))

	logger.Info("with source")

	out := buf.String()
	if !strings.Contains(out, "console_test.go:") {
		t.Errorf("expected caller file in output, got %q", out)
	}
	if !strings.Contains(out, "with source") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestSourceOf_ZeroPC(t *testing.T) {
	file, line := sourceOf(0)
	if file != "" || line != 0 {
		t.Errorf("expected empty source for zero pc, got %s:%d", file, line)
	}
}
