package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shelfwatch/backend/internal/infrastructure/log/handler"
)

// 全局 logger 实例
var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	debugMode     bool
	logFile       *os.File
)

// Init 初始化日志系统
func Init(cfg *Config) {
	if cfg == nil {
		cfg = NewConfigFromEnv()
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		// 文件不可写时回退到 stderr
		fmt.Fprintf(os.Stderr, "log: %v, falling back to stderr\n", err)
		out = os.Stderr
	}
	initWithWriter(cfg, out)
}

// InitWithWriter 使用指定输出初始化（测试使用）
func InitWithWriter(cfg *Config, out io.Writer) {
	if cfg == nil {
		cfg = NewConfigFromEnv()
	}
	initWithWriter(cfg, out)
}

func initWithWriter(cfg *Config, out io.Writer) {
	// 创建 handler options
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	// 根据格式选择处理器
	var logHandler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		logHandler = slog.NewJSONHandler(out, opts)
	} else {
		logHandler = handler.NewConsoleHandler(out, opts)
	}

	// 添加服务标识
	logger := slog.New(logHandler.WithAttrs([]slog.Attr{
		slog.String("service", "shelfwatch"),
	}))

	mu.Lock()
	defaultLogger = logger
	debugMode = strings.ToLower(cfg.Level) == "debug"
	mu.Unlock()

	slog.SetDefault(logger)
}

// openOutput 解析输出目标
func openOutput(output string) (io.Writer, error) {
	switch {
	case output == "" || output == "stdout":
		return os.Stdout, nil
	case output == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(output, "file:"):
		path := strings.TrimPrefix(output, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		mu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		mu.Unlock()
		return f, nil
	default:
		return nil, fmt.Errorf("unknown log output %q", output)
	}
}

// Close 关闭日志文件
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// GetLogger 获取默认 logger
func GetLogger() *slog.Logger {
	mu.Lock()
	logger := defaultLogger
	mu.Unlock()
	if logger == nil {
		// 未初始化，使用默认配置
		Init(nil)
		mu.Lock()
		logger = defaultLogger
		mu.Unlock()
	}
	return logger
}

// With 创建带有额外字段的 logger
func With(args ...any) *slog.Logger {
	return GetLogger().With(args...)
}

// NewModuleLogger 为特定模块创建 logger
func NewModuleLogger(module, component string) *slog.Logger {
	return GetLogger().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}

// IsDebugMode 检查是否为调试模式
func IsDebugMode() bool {
	mu.Lock()
	defer mu.Unlock()
	return debugMode
}

// parseLevel 解析日志级别
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
