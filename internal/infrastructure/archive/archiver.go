// Package archive 把成功摄取的源文件归档到对象存储
package archive

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// uploadTimeout 单个文件上传超时
const uploadTimeout = 2 * time.Minute

// Archiver 订阅记录完成事件并上传源文件
// 归档是尽力而为的，失败只记录日志，不影响记录状态
type Archiver struct {
	uploader Uploader
	prefix   string
	logger   *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	bucketReady bool
}

// NewArchiver 创建归档器，uploader 为 nil 时归档被禁用
func NewArchiver(uploader Uploader, prefix string) *Archiver {
	return &Archiver{
		uploader: uploader,
		prefix:   strings.Trim(prefix, "/"),
		logger:   log.NewModuleLogger("archive", "archiver"),
	}
}

// Enabled 是否启用
func (a *Archiver) Enabled() bool {
	return a.uploader != nil
}

// Register 订阅事件总线
func (a *Archiver) Register(bus events.EventBus) {
	if !a.Enabled() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		return
	}
	a.unsubscribe = bus.Subscribe(events.RecordStateChanged, a)
	a.logger.Info("Archiver registered", "prefix", a.prefix)
}

// Close 取消订阅
func (a *Archiver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// HandleEvent 实现 events.Handler
func (a *Archiver) HandleEvent(event events.Event) error {
	ev, ok := event.(*events.RecordEvent)
	if !ok || ev.State != string(pipeline.StateDone) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	return a.Archive(ctx, ev.SourcePath, ev.Fingerprint)
}

// Archive 上传一个已完成摄取的文件
// 文件内容已变化时跳过，避免把新内容归档到旧指纹下
func (a *Archiver) Archive(ctx context.Context, sourcePath, fingerprint string) error {
	if !a.Enabled() {
		return nil
	}

	current, err := dataset.FingerprintFile(sourcePath)
	if err != nil {
		a.logger.Warn("Skip archive, source unreadable", "path", sourcePath, "error", err)
		return nil
	}
	if current != fingerprint {
		a.logger.Debug("Skip archive, content superseded", "path", sourcePath)
		return nil
	}

	if err := a.ensureBucket(ctx); err != nil {
		a.logger.Warn("Archive bucket unavailable", "error", err)
		return err
	}

	key := ObjectKey(a.prefix, fingerprint, sourcePath)
	if err := a.uploader.UploadFile(ctx, key, sourcePath, contentType(sourcePath)); err != nil {
		a.logger.Warn("Archive upload failed", "path", sourcePath, "key", key, "error", err)
		return err
	}

	a.logger.Info("Source file archived", "path", sourcePath, "key", key)
	return nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketReady {
		return nil
	}
	if err := a.uploader.EnsureBucket(ctx); err != nil {
		return err
	}
	a.bucketReady = true
	return nil
}

// ObjectKey 归档对象名：<prefix>/<fp[0:2]>/<fp>/<basename>
func ObjectKey(prefix, fingerprint, sourcePath string) string {
	shard := fingerprint
	if len(shard) > 2 {
		shard = shard[:2]
	}
	parts := []string{shard, fingerprint, filepath.Base(sourcePath)}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return path.Join(parts...)
}

// contentType 根据扩展名返回内容类型
func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".tsv", ".tab":
		return "text/tab-separated-values"
	default:
		return "application/octet-stream"
	}
}
