package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// Rescanner 能够重新扫描监听目录
type Rescanner interface {
	Rescan(ctx context.Context) (int, error)
}

// Reconciler 定期对账
// 按 cron 表达式重新扫描目录，补上监听期间遗漏的文件事件
type Reconciler struct {
	scanner  Rescanner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	running bool
}

// NewReconciler 创建对账器，schedule 为空时 Start 不做任何事
func NewReconciler(scanner Rescanner, schedule string) *Reconciler {
	return &Reconciler{
		scanner:  scanner,
		schedule: schedule,
		logger:   log.NewModuleLogger("pipeline", "reconciler"),
		timeout:  5 * time.Minute,
	}
}

// Start 启动定时任务
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || r.schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.runScheduled); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.logger.Info("Reconciler started", "schedule", r.schedule)
	return nil
}

// Stop 停止定时任务并等待正在执行的扫描结束
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	r.logger.Info("Reconciler stopped")
}

func (r *Reconciler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Warn("Reconcile scan failed", "error", err)
	}
}

// RunOnce 立即执行一次对账扫描，返回重新发出的事件数
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := r.scanner.Rescan(ctx)
	if err != nil {
		return n, err
	}
	r.logger.Debug("Reconcile scan completed", "files", n, "duration", time.Since(start))
	return n, nil
}
