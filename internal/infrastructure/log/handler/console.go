// Package handler 提供 slog 控制台处理器
package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
)

// ANSI 颜色代码
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
)

// ConsoleHandler 控制台日志处理器（彩色输出）
type ConsoleHandler struct {
	opts   *slog.HandlerOptions
	mu     *sync.Mutex
	out    io.Writer
	attrs  []slog.Attr
	prefix string // WithGroup 产生的键前缀
}

// NewConsoleHandler 创建控制台处理器
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		out:  out,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

// Enabled 检查日志级别是否启用
func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	minLevel := h.opts.Level
	if minLevel == nil {
		return level >= slog.LevelInfo
	}
	return level >= minLevel.Level()
}

// Handle 处理日志记录
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	// 格式化时间
	timestamp := r.Time.Format("2006-01-02T15:04:05.000Z07:00")

	// 提取模块和组件信息
	var module, component string
	var attrs []slog.Attr
	collect := func(a slog.Attr) {
		switch a.Key {
		case "module":
			module = a.Value.String()
		case "component":
			component = a.Value.String()
		case "service":
		default:
			attrs = append(attrs, a)
		}
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		collect(a)
		return true
	})

	// 构建模块前缀
	modulePrefix := ""
	if module != "" && component != "" {
		modulePrefix = fmt.Sprintf(" [%s/%s]", module, component)
	} else if module != "" {
		modulePrefix = fmt.Sprintf(" [%s]", module)
	}

	source := ""
	if h.opts.AddSource {
		if file, line := sourceOf(r.PC); file != "" {
			source = fmt.Sprintf(" %s%s:%d%s", colorPurple, filepath.Base(file), line, colorReset)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// 格式化日志
	if _, err := fmt.Fprintf(h.out, "%s%-5s%s %s%s%s %s\n",
		levelColor(r.Level), r.Level.String(), colorReset,
		timestamp,
		modulePrefix,
		source,
		r.Message,
	); err != nil {
		return err
	}

	// 输出属性
	for _, a := range attrs {
		if _, err := fmt.Fprintf(h.out, "  %s=%v\n", a.Key, a.Value.Resolve()); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs 返回带有额外属性的处理器
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

// WithGroup 返回带有分组的处理器
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

// levelColor 返回日志级别对应的颜色
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorGreen
	default:
		return colorBlue
	}
}

// sourceOf 解析调用位置，pc 为 0 时返回空
func sourceOf(pc uintptr) (string, int) {
	if pc == 0 {
		return "", 0
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return frame.File, frame.Line
}
