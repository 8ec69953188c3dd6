package wire

import (
	"fmt"
	"log/slog"

	appPipeline "github.com/shelfwatch/backend/internal/application/pipeline"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/archive"
	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
)

// Runtime 流水线运行时：协调器、洞察派发器和归档
// run 模式之外的 ingest / submit 命令也使用它
type Runtime struct {
	Coordinator *appPipeline.Coordinator
	Dispatcher  *appPipeline.Dispatcher
	Files       pipeline.SourceFileRepository
	Records     pipeline.RecordRepository
	archiver    *archive.Archiver
	eventBus    events.EventBus
	logger      *slog.Logger
}

// NewRuntime 创建流水线运行时
func NewRuntime(
	coordinator *appPipeline.Coordinator,
	dispatcher *appPipeline.Dispatcher,
	files pipeline.SourceFileRepository,
	records pipeline.RecordRepository,
	archiver *archive.Archiver,
	eventBus events.EventBus,
) *Runtime {
	return &Runtime{
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Files:       files,
		Records:     records,
		archiver:    archiver,
		eventBus:    eventBus,
		logger:      applog.NewModuleLogger("app", "runtime"),
	}
}

// Start 启动恢复并开始派发洞察任务
func (r *Runtime) Start() error {
	// 上次退出时遗留的记录和任务
	if _, err := r.Coordinator.Recover(); err != nil {
		return fmt.Errorf("recover records: %w", err)
	}
	if _, err := r.Dispatcher.Recover(); err != nil {
		return fmt.Errorf("recover insight jobs: %w", err)
	}

	r.archiver.Register(r.eventBus)
	r.Dispatcher.StartWorkers()
	return nil
}

// Stop 停止协调器和派发器
// 进行中的记录标记为 Interrupted，运行中的洞察任务放回队列
func (r *Runtime) Stop() {
	r.Coordinator.Stop()
	r.Dispatcher.StopWorkers()
	r.archiver.Close()

	if r.eventBus != nil {
		r.eventBus.Close()
		r.logger.Info("Event bus closed")
	}
}
