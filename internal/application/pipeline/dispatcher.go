package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/insight"
	domain "github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// ResultHandlePrefix 洞察结果句柄前缀
const ResultHandlePrefix = "insight:"

// DispatcherConfig 派发器参数
type DispatcherConfig struct {
	Workers       int
	PollInterval  time.Duration
	RetryDelay    time.Duration
	RatePerSecond float64 // 0 表示不限速
}

// Dispatcher 洞察派发器
// 从持久化队列领取任务并调用生成器，独立于协调器运行，失败不会影响摄取状态
type Dispatcher struct {
	jobs      domain.InsightJobRepository
	files     domain.SourceFileRepository
	rows      domain.RowStore
	generator insight.Generator
	bus       events.Publisher
	limiter   *rate.Limiter
	cfg       DispatcherConfig
	logger    *slog.Logger
	now       func() time.Time

	wake      chan struct{}
	stopChan  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

// NewDispatcher 创建派发器
func NewDispatcher(
	jobs domain.InsightJobRepository,
	files domain.SourceFileRepository,
	rows domain.RowStore,
	generator insight.Generator,
	bus events.Publisher,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Dispatcher{
		jobs:      jobs,
		files:     files,
		rows:      rows,
		generator: generator,
		bus:       bus,
		limiter:   limiter,
		cfg:       cfg,
		logger:    log.NewModuleLogger("pipeline", "dispatcher"),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// Notify 唤醒空闲的 worker
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// StartWorkers 启动后台 Worker
func (d *Dispatcher) StartWorkers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.stopChan = make(chan struct{})
	d.cancel = cancel
	d.isRunning = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("Insight workers started", "count", d.cfg.Workers)
}

// StopWorkers 停止后台 Worker，运行中的任务被放回队列
func (d *Dispatcher) StopWorkers() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	close(d.stopChan)
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Insight workers stopped")
}

// worker 后台工作协程
func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// 连续处理到队列中没有到期任务
		for d.RunOnce(ctx) {
			select {
			case <-d.stopChan:
				return
			default:
			}
		}

		select {
		case <-d.stopChan:
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// RunOnce 领取并执行一个到期任务，返回是否领取到任务
func (d *Dispatcher) RunOnce(ctx context.Context) bool {
	job, err := d.jobs.ClaimNext(d.now())
	if err != nil {
		d.logger.Error("Failed to claim insight job", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	d.execute(ctx, job)
	return true
}

// execute 执行一个已领取的任务
func (d *Dispatcher) execute(ctx context.Context, job *domain.InsightJob) {
	ctx = log.WithJobID(log.WithRecordID(log.WithPath(ctx, job.SourcePath), job.RecordID), job.ID)
	logger := log.FromContext(ctx, d.logger)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.requeue(job)
			return
		}
	}

	view, err := d.view(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			d.requeue(job)
			return
		}
		d.finish(logger, job, domain.KindOf(err), err)
		return
	}

	start := time.Now()
	res, err := d.generate(ctx, view)
	if err == nil {
		// 生成期间行可能已被新内容替换
		if _, err = d.view(ctx, job); err == nil {
			job.MarkSucceeded(ResultHandlePrefix+job.ID, res.Summary, res.Payload, d.now())
			d.save(job)
			logger.Info("Insight generated", "duration", time.Since(start))
			d.publish(job)
			return
		}
	}

	if ctx.Err() != nil {
		d.requeue(job)
		return
	}
	kind := domain.KindOf(err)
	if kind == domain.FailureNone {
		kind = domain.FailureDispatch
	}
	d.finish(logger, job, kind, err)
}

// view 检查任务引用的行仍然是该路径的当前内容
func (d *Dispatcher) view(ctx context.Context, job *domain.InsightJob) (*storedView, error) {
	file, err := d.files.Get(job.SourcePath)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureDispatch, err)
	}
	if file == nil || file.LastDoneFingerprint != job.Fingerprint {
		return nil, domain.NewStageError(domain.FailureSuperseded, domain.ErrSuperseded)
	}
	n, err := d.rows.Count(ctx, job.SourcePath, job.Fingerprint)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureDispatch, err)
	}
	if n == 0 {
		return nil, domain.NewStageError(domain.FailureSuperseded, domain.ErrSuperseded)
	}
	return &storedView{rows: d.rows, sourcePath: job.SourcePath, fingerprint: job.Fingerprint, count: n}, nil
}

// generate 调用生成器，panic 转为错误
func (d *Dispatcher) generate(ctx context.Context, view insight.RowsView) (res *insight.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Insight generator panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	res, err = d.generator.Generate(ctx, view)
	if err == nil && res == nil {
		err = errors.New("generator returned no result")
	}
	return res, err
}

// finish 记录失败；仍可重试时回到队列
func (d *Dispatcher) finish(logger *slog.Logger, job *domain.InsightJob, kind domain.FailureKind, err error) {
	terminal := job.MarkFailed(kind, err.Error(), d.cfg.RetryDelay, d.now())
	d.save(job)
	if !terminal {
		logger.Warn("Insight generation failed, will retry",
			"attempt", job.Attempts,
			"retry_at", job.NextRetryAt,
			"error", err,
		)
		return
	}
	logger.Warn("Insight job failed", "kind", kind, "attempts", job.Attempts, "error", err)
	d.publish(job)
}

// requeue 停止时把任务放回队列，不消耗尝试次数
func (d *Dispatcher) requeue(job *domain.InsightJob) {
	job.Status = domain.JobQueued
	job.Attempts--
	job.NextRetryAt = d.now()
	job.UpdatedAt = d.now()
	d.save(job)
}

func (d *Dispatcher) save(job *domain.InsightJob) {
	if err := d.jobs.Save(job); err != nil {
		d.logger.Error("Failed to save insight job", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// publish 发布任务终态事件
func (d *Dispatcher) publish(job *domain.InsightJob) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(&events.InsightJobEvent{
		JobID:        job.ID,
		RecordID:     job.RecordID,
		SourcePath:   job.SourcePath,
		Status:       string(job.Status),
		ResultHandle: job.ResultHandle,
		Error:        job.LastError,
		EventTime:    d.now(),
	})
}

// Recover 启动恢复：把上次退出时运行中的任务放回队列
func (d *Dispatcher) Recover() (int, error) {
	n, err := d.jobs.RequeueRunning(d.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("Running insight jobs requeued", "count", n)
	}
	return n, nil
}
