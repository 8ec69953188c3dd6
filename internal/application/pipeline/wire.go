package pipeline

import (
	"time"

	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/insight"
	domain "github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// ProviderSet 流水线应用层 ProviderSet
// Rescanner、Broadcaster 接口绑定在顶层 wire.go 中处理
var ProviderSet = wire.NewSet(
	ProvideCoordinatorConfig,
	ProvideDispatcherConfig,
	ProvideCoordinator,
	ProvideDispatcher,
	ProvideReconciler,
	NewStatusNotifier,
	wire.Bind(new(Notifier), new(*Dispatcher)),
)

// ProvideCoordinatorConfig 从配置构造协调器参数
func ProvideCoordinatorConfig(pc *config.PipelineConfig, ic *config.InsightConfig) CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts: pc.MaxAttempts,
		Backoff: domain.Backoff{
			Base: time.Duration(pc.BackoffBaseMs) * time.Millisecond,
			Max:  time.Duration(pc.BackoffMaxMs) * time.Millisecond,
		},
		Concurrency:    pc.Concurrency,
		JobMaxAttempts: ic.MaxAttempts,
	}
}

// ProvideDispatcherConfig 从配置构造派发器参数
func ProvideDispatcherConfig(ic *config.InsightConfig) DispatcherConfig {
	return DispatcherConfig{
		Workers:       ic.Workers,
		PollInterval:  ic.PollInterval(),
		RetryDelay:    ic.RetryDelay(),
		RatePerSecond: ic.RatePerSecond,
	}
}

// ProvideCoordinator 提供协调器
func ProvideCoordinator(
	files domain.SourceFileRepository,
	records domain.RecordRepository,
	jobs domain.InsightJobRepository,
	rows domain.RowStore,
	parser dataset.Parser,
	bus events.EventBus,
	notify Notifier,
	cfg CoordinatorConfig,
) *Coordinator {
	return NewCoordinator(files, records, jobs, rows, parser, bus, notify, cfg)
}

// ProvideDispatcher 提供洞察派发器
func ProvideDispatcher(
	jobs domain.InsightJobRepository,
	files domain.SourceFileRepository,
	rows domain.RowStore,
	generator insight.Generator,
	bus events.EventBus,
	cfg DispatcherConfig,
) *Dispatcher {
	return NewDispatcher(jobs, files, rows, generator, bus, cfg)
}

// ProvideReconciler 提供对账器
func ProvideReconciler(scanner Rescanner, wc *config.WatchConfig) *Reconciler {
	return NewReconciler(scanner, wc.ReconcileSchedule)
}
