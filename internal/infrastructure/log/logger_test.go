package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo}, // 默认值
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	// 保存原始环境变量
	oldLogLevel := os.Getenv("LOG_LEVEL")
	oldLogFormat := os.Getenv("LOG_FORMAT")
	oldEnv := os.Getenv("ENV")

	defer func() {
		// 恢复环境变量
		if oldLogLevel != "" {
			os.Setenv("LOG_LEVEL", oldLogLevel)
		} else {
			os.Unsetenv("LOG_LEVEL")
		}
		if oldLogFormat != "" {
			os.Setenv("LOG_FORMAT", oldLogFormat)
		} else {
			os.Unsetenv("LOG_FORMAT")
		}
		if oldEnv != "" {
			os.Setenv("ENV", oldEnv)
		} else {
			os.Unsetenv("ENV")
		}
	}()

	t.Run("default config", func(t *testing.T) {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("LOG_FORMAT")
		os.Unsetenv("ENV")

		cfg := NewConfigFromEnv()

		if cfg.Level != "info" {
			t.Errorf("expected default level info, got %s", cfg.Level)
		}
		if cfg.Format != "console" {
			t.Errorf("expected default format console, got %s", cfg.Format)
		}
	})

	t.Run("custom config", func(t *testing.T) {
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("LOG_FORMAT", "json")

		cfg := NewConfigFromEnv()

		if cfg.Level != "debug" {
			t.Errorf("expected level debug, got %s", cfg.Level)
		}
		if cfg.Format != "json" {
			t.Errorf("expected format json, got %s", cfg.Format)
		}
	})

	t.Run("development mode", func(t *testing.T) {
		os.Setenv("ENV", "development")
		os.Setenv("LOG_LEVEL", "error") // 应该被覆盖

		cfg := NewConfigFromEnv()

		// 开发环境应该覆盖为 debug
		if cfg.Level != "debug" {
			t.Errorf("expected debug in development, got %s", cfg.Level)
		}
		if cfg.Format != "console" {
			t.Errorf("expected console in development, got %s", cfg.Format)
		}
		if !cfg.AddSource {
			t.Error("expected AddSource true in development")
		}
	})
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		expected     bool
	}{
		{"true value", "TEST_BOOL", false, "true", true},
		{"false value", "TEST_BOOL", true, "false", false},
		{"invalid value", "TEST_BOOL", true, "invalid", true}, // 默认值
		{"missing env", "MISSING_BOOL", false, "", false},     // 默认值
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getEnvBool(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// 临时设置环境变量
	oldLevel := os.Getenv("LOG_LEVEL")
	oldFormat := os.Getenv("LOG_FORMAT")
	defer func() {
		if oldLevel != "" {
			os.Setenv("LOG_LEVEL", oldLevel)
		} else {
			os.Unsetenv("LOG_LEVEL")
		}
		if oldFormat != "" {
			os.Setenv("LOG_FORMAT", oldFormat)
		} else {
			os.Unsetenv("LOG_FORMAT")
		}
	}()

	t.Run("init with defaults", func(t *testing.T) {
		Init(nil)

		logger := GetLogger()
		if logger == nil {
			t.Error("expected non-nil logger")
		}
	})

	t.Run("init with custom config", func(t *testing.T) {
		os.Setenv("LOG_LEVEL", "debug")
		cfg := NewConfigFromEnv()

		Init(cfg)

		if !IsDebugMode() {
			t.Error("expected debug mode")
		}
	})
}

func TestNewModuleLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&Config{Level: "debug", Format: "console"}, &buf)

	logger := NewModuleLogger("pipeline", "coordinator")
	logger.Debug("record started", "path", "/data/a.csv")

	out := buf.String()
	if !strings.Contains(out, "[pipeline/coordinator]") {
		t.Errorf("expected module prefix in output, got %q", out)
	}
	if !strings.Contains(out, "record started") || !strings.Contains(out, "path=/data/a.csv") {
		t.Errorf("expected message and attrs in output, got %q", out)
	}
}

func TestConsoleHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&Config{Level: "warn", Format: "console"}, &buf)

	logger := NewModuleLogger("watcher", "file_watcher")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level, got %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("expected warn message, got %q", out)
	}
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shelfwatch.log")
	Init(&Config{Level: "info", Format: "json", Output: "file:" + path})
	defer Close()

	GetLogger().Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) {
		t.Errorf("expected json line in file, got %q", data)
	}
}

func TestLogCtxFromContext(t *testing.T) {
	ctx := WithRecordID(WithPath(context.Background(), "/data/a.csv"), "rec-1")
	attrs := LogCtxFromContext(ctx)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(attrs))
	}
	if attrs[0].Key != "path" || attrs[1].Key != "record_id" {
		t.Errorf("unexpected attrs %v", attrs)
	}
}
