package log

import (
	"context"
	"log/slog"
)

type ctxKey string

// 上下文键定义
const (
	// RequestContextID HTTP 请求 ID
	RequestContextID ctxKey = "request_id"

	// PathContextID 源文件路径
	PathContextID ctxKey = "path"

	// FingerprintContextID 内容指纹
	FingerprintContextID ctxKey = "fingerprint"

	// RecordContextID 摄取记录 ID
	RecordContextID ctxKey = "record_id"

	// JobContextID 洞察任务 ID
	JobContextID ctxKey = "job_id"
)

var contextKeys = []ctxKey{
	RequestContextID,
	PathContextID,
	FingerprintContextID,
	RecordContextID,
	JobContextID,
}

// WithRequestID 在上下文中添加请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestContextID, requestID)
}

// WithPath 在上下文中添加源文件路径
func WithPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, PathContextID, path)
}

// WithFingerprint 在上下文中添加内容指纹
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, FingerprintContextID, fingerprint)
}

// WithRecordID 在上下文中添加摄取记录 ID
func WithRecordID(ctx context.Context, recordID string) context.Context {
	return context.WithValue(ctx, RecordContextID, recordID)
}

// WithJobID 在上下文中添加洞察任务 ID
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobContextID, jobID)
}

// LogCtxFromContext 从上下文中提取日志字段
func LogCtxFromContext(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// FromContext 返回附带上下文字段的 logger
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := LogCtxFromContext(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return logger.With(args...)
}
