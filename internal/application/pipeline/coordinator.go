// Package pipeline 编排摄取流水线：文件事件 → 解析 → 写入 → 洞察派发
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	domain "github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// ErrCoordinatorClosed 协调器已停止
var ErrCoordinatorClosed = errors.New("coordinator closed")

// SubmitOutcome 提交结果
type SubmitOutcome string

// 提交结果常量
const (
	// OutcomeAccepted 立即开始处理
	OutcomeAccepted SubmitOutcome = "accepted"
	// OutcomeQueued 同一路径有记录在处理，排队等待
	OutcomeQueued SubmitOutcome = "queued"
	// OutcomeDuplicate 指纹已处理完成，无需重复处理
	OutcomeDuplicate SubmitOutcome = "duplicate"
)

// SubmitResult 提交返回
type SubmitResult struct {
	Outcome  SubmitOutcome `json:"outcome"`
	RecordID string        `json:"record_id,omitempty"`
}

// Notifier 新任务入队通知
type Notifier interface {
	Notify()
}

// CoordinatorConfig 协调器参数
type CoordinatorConfig struct {
	MaxAttempts    int
	Backoff        domain.Backoff
	Concurrency    int
	JobMaxAttempts int
}

// lane 一个路径的有序队列
// 存在即表示该路径有记录在处理
type lane struct {
	queue []*events.FileReadyEvent
}

// Coordinator 流水线协调器
// 每个路径同一时刻最多一条非终态记录，同一路径的事件严格按提交顺序处理
type Coordinator struct {
	files   domain.SourceFileRepository
	records domain.RecordRepository
	jobs    domain.InsightJobRepository
	rows    domain.RowStore
	parser  dataset.Parser
	bus     events.Publisher
	notify  Notifier
	cfg     CoordinatorConfig
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	idle   *sync.Cond
}

// NewCoordinator 创建协调器
func NewCoordinator(
	files domain.SourceFileRepository,
	records domain.RecordRepository,
	jobs domain.InsightJobRepository,
	rows domain.RowStore,
	parser dataset.Parser,
	bus events.Publisher,
	notify Notifier,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		files:   files,
		records: records,
		jobs:    jobs,
		rows:    rows,
		parser:  parser,
		bus:     bus,
		notify:  notify,
		cfg:     cfg,
		logger:  log.NewModuleLogger("pipeline", "coordinator"),
		now:     time.Now,
		sleep:   sleepContext,
		sem:     make(chan struct{}, cfg.Concurrency),
		ctx:     ctx,
		cancel:  cancel,
		lanes:   make(map[string]*lane),
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Submit 提交一个文件就绪事件
// 路径有活动记录时排队；指纹已完成或输入本身有问题时视为重复
func (c *Coordinator) Submit(ev *events.FileReadyEvent) (*SubmitResult, error) {
	if ev == nil || ev.Path == "" || ev.Fingerprint == "" {
		return nil, fmt.Errorf("invalid file event")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	if l, ok := c.lanes[ev.Path]; ok {
		outcome := c.enqueueLocked(l, ev)
		c.mu.Unlock()
		c.logger.Debug("Event queued behind active record", "path", ev.Path, "fingerprint", short(ev.Fingerprint), "outcome", outcome)
		return &SubmitResult{Outcome: outcome}, nil
	}
	// 占用路径，期间到达的事件进入队列
	c.lanes[ev.Path] = &lane{}
	c.wg.Add(1)
	c.mu.Unlock()

	rec, err := c.claim(ev)
	if err != nil || rec == nil {
		c.release(ev.Path)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Outcome: OutcomeDuplicate}, nil
	}

	go c.runLane(ev.Path, rec)
	return &SubmitResult{Outcome: OutcomeAccepted, RecordID: rec.ID}, nil
}

// enqueueLocked 排队；与队尾相同的指纹直接合并
func (c *Coordinator) enqueueLocked(l *lane, ev *events.FileReadyEvent) SubmitOutcome {
	if n := len(l.queue); n > 0 && l.queue[n-1].Fingerprint == ev.Fingerprint {
		l.queue[n-1] = ev
		return OutcomeDuplicate
	}
	l.queue = append(l.queue, ev)
	return OutcomeQueued
}

// claim 记录检测结果并创建（或复用）处理记录；返回 nil 表示重复
func (c *Coordinator) claim(ev *events.FileReadyEvent) (*domain.ProcessingRecord, error) {
	now := c.now()

	file, err := c.files.Get(ev.Path)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureStoreWrite, err)
	}
	if file == nil {
		file = domain.NewSourceFile(ev.Path, now)
	}
	file.Observe(ev.Fingerprint, ev.Size, ev.ModTime, now)

	existing, err := c.records.FindByFingerprint(ev.Path, ev.Fingerprint)
	if err != nil {
		return nil, domain.NewStageError(domain.FailureStoreWrite, err)
	}

	if c.isDuplicate(file, existing) {
		if err := c.files.Save(file); err != nil {
			return nil, domain.NewStageError(domain.FailureStoreWrite, err)
		}
		c.logger.Debug("Duplicate event ignored", "path", ev.Path, "fingerprint", short(ev.Fingerprint))
		return nil, nil
	}

	rec := existing
	if rec == nil {
		rec = domain.NewProcessingRecord(ev.Path, ev.Fingerprint, now)
	} else {
		// 上次进程退出时遗留的非终态记录
		if !rec.IsTerminal() {
			_ = rec.Fail(domain.FailureInterrupted, "process stopped before completion", now)
		}
		if err := rec.Reset(now); err != nil {
			return nil, err
		}
	}
	if err := c.records.Save(rec); err != nil {
		return nil, domain.NewStageError(domain.FailureStoreWrite, err)
	}

	file.LastRecordID = rec.ID
	if err := c.files.Save(file); err != nil {
		return nil, domain.NewStageError(domain.FailureStoreWrite, err)
	}
	c.publish(rec)
	return rec, nil
}

// isDuplicate 指纹已成功摄取，或同一内容已因输入问题失败
func (c *Coordinator) isDuplicate(file *domain.SourceFile, existing *domain.ProcessingRecord) bool {
	// 登记完成指纹后、记录到达 Done 前中断的记录需要重新处理
	if file.IsDone(file.Fingerprint) {
		return existing == nil || existing.State == domain.StateDone
	}
	return existing != nil &&
		existing.State == domain.StateFailed &&
		domain.IsInputFailure(existing.FailureKind)
}

// runLane 处理一个路径上的记录，然后依次处理排队的事件
func (c *Coordinator) runLane(path string, rec *domain.ProcessingRecord) {
	defer c.wg.Done()

	for {
		if rec != nil {
			c.process(rec)
		}
		ev := c.next(path)
		if ev == nil {
			return
		}
		var err error
		if rec, err = c.claimQueued(ev); err != nil {
			c.logger.Error("Failed to claim queued event, left for next rescan", "path", path, "error", err)
		}
	}
}

// claimQueued 领取排队事件，存储不可用时按退避重试；路径在此期间仍被占用
func (c *Coordinator) claimQueued(ev *events.FileReadyEvent) (*domain.ProcessingRecord, error) {
	for attempt := 1; ; attempt++ {
		rec, err := c.claim(ev)
		if err == nil || attempt >= c.cfg.MaxAttempts || domain.KindOf(err) != domain.FailureStoreWrite {
			return rec, err
		}
		delay := c.cfg.Backoff.Delay(attempt)
		c.logger.Warn("Claim failed, retrying",
			"path", ev.Path,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if serr := c.sleep(c.ctx, delay); serr != nil {
			return nil, err
		}
	}
}

// next 取出路径队列的下一个事件；队列为空或已停止时释放路径并返回 nil
func (c *Coordinator) next(path string) *events.FileReadyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.lanes[path]
	if l == nil || len(l.queue) == 0 || c.closed {
		delete(c.lanes, path)
		c.idle.Broadcast()
		return nil
	}
	ev := l.queue[0]
	l.queue = l.queue[1:]
	return ev
}

// release Submit 未启动处理时释放路径；占用期间有事件到达则转入后台处理
func (c *Coordinator) release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l := c.lanes[path]; l != nil && len(l.queue) > 0 && !c.closed {
		go c.runLane(path, nil)
		return
	}
	delete(c.lanes, path)
	c.idle.Broadcast()
	c.wg.Done()
}

// process 驱动一条记录到终态，按配置重试可恢复的失败
func (c *Coordinator) process(rec *domain.ProcessingRecord) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-c.ctx.Done():
		c.fail(rec, domain.FailureInterrupted, c.ctx.Err())
		return
	}

	ctx := log.WithRecordID(log.WithPath(c.ctx, rec.SourcePath), rec.ID)
	logger := log.FromContext(ctx, c.logger)

	for attempt := 1; ; attempt++ {
		rec.Attempts = attempt
		err := c.runOnce(ctx, rec)
		if err == nil {
			logger.Info("Record done",
				"rows_written", rec.RowsWritten,
				"skipped_rows", rec.SkippedRows,
				"attempts", attempt,
			)
			return
		}

		kind := c.classify(ctx, err)
		if domain.IsPermanent(kind) || attempt >= c.cfg.MaxAttempts {
			logger.Warn("Record failed", "kind", kind, "attempts", attempt, "error", err)
			c.fail(rec, kind, err)
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		logger.Warn("Record attempt failed, retrying",
			"kind", kind,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if rerr := rec.Retry(kind, err.Error(), c.now()); rerr != nil {
			c.fail(rec, kind, err)
			return
		}
		c.save(rec)
		if err := c.sleep(ctx, delay); err != nil {
			c.fail(rec, domain.FailureInterrupted, err)
			return
		}
	}
}

// runOnce 一次完整的 解析 → 写入 → 派发
func (c *Coordinator) runOnce(ctx context.Context, rec *domain.ProcessingRecord) error {
	if err := c.advance(rec, domain.StateParsing); err != nil {
		return err
	}

	rs, err := c.parser.Parse(ctx, rec.SourcePath)
	if err != nil {
		return err
	}
	if rs.Fingerprint != rec.Fingerprint {
		return domain.NewStageError(domain.FailureSuperseded,
			fmt.Errorf("content changed since detection (now %s)", short(rs.Fingerprint)))
	}
	rec.ApplyParse(rs)

	if err := c.advance(rec, domain.StateWriting); err != nil {
		return err
	}
	result, err := c.rows.Upsert(ctx, rec.SourcePath, rec.Fingerprint, rs.Rows)
	if err != nil {
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	rec.RowsWritten = result.Visible

	if err := c.advance(rec, domain.StateDispatching); err != nil {
		return err
	}
	// 先登记指纹再入队，worker 领取时文件已指向本指纹
	if err := c.markFileDone(rec); err != nil {
		return err
	}
	if err := c.enqueueJob(rec); err != nil {
		return err
	}
	if err := c.advance(rec, domain.StateDone); err != nil {
		return err
	}

	if c.notify != nil {
		c.notify.Notify()
	}
	return nil
}

// enqueueJob 为记录创建洞察任务；重试时复用尚未失败的任务
func (c *Coordinator) enqueueJob(rec *domain.ProcessingRecord) error {
	existing, err := c.jobs.LatestForRecord(rec.ID)
	if err != nil {
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	if existing != nil && existing.Fingerprint == rec.Fingerprint && existing.Status != domain.JobFailed {
		return nil
	}
	job := domain.NewInsightJob(rec, c.cfg.JobMaxAttempts, c.now())
	if err := c.jobs.Save(job); err != nil {
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	return nil
}

// advance 状态前进并持久化
// 保存失败时恢复原状态，以便按原阶段重试
func (c *Coordinator) advance(rec *domain.ProcessingRecord, to domain.RecordState) error {
	prev := *rec
	if err := rec.Transition(to, c.now()); err != nil {
		return err
	}
	if err := c.records.Save(rec); err != nil {
		*rec = prev
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	c.publish(rec)
	return nil
}

// markFileDone 记录路径最近一次成功摄取的指纹
func (c *Coordinator) markFileDone(rec *domain.ProcessingRecord) error {
	now := c.now()
	file, err := c.files.Get(rec.SourcePath)
	if err != nil {
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	if file == nil {
		file = domain.NewSourceFile(rec.SourcePath, now)
		file.Fingerprint = rec.Fingerprint
	}
	file.LastRecordID = rec.ID
	file.LastDoneFingerprint = rec.Fingerprint
	file.RowCount = rec.RowsWritten
	file.UpdatedAt = now
	if err := c.files.Save(file); err != nil {
		return domain.NewStageError(domain.FailureStoreWrite, err)
	}
	return nil
}

// classify 失败分类；无法识别的解析错误按文件读取错误处理
func (c *Coordinator) classify(ctx context.Context, err error) domain.FailureKind {
	if ctx.Err() != nil {
		return domain.FailureInterrupted
	}
	if errors.Is(err, os.ErrNotExist) {
		return domain.FailureSuperseded
	}
	if kind := domain.KindOf(err); kind != domain.FailureNone {
		return kind
	}
	return domain.FailureWatchError
}

// fail 进入失败终态并持久化
func (c *Coordinator) fail(rec *domain.ProcessingRecord, kind domain.FailureKind, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if ferr := rec.Fail(kind, reason, c.now()); ferr != nil {
		c.logger.Error("Failed to mark record failed", "record_id", rec.ID, "error", ferr)
		return
	}
	c.save(rec)
	c.publish(rec)
}

func (c *Coordinator) save(rec *domain.ProcessingRecord) {
	if err := c.records.Save(rec); err != nil {
		c.logger.Error("Failed to save record", "record_id", rec.ID, "state", rec.State, "error", err)
	}
}

// publish 发布记录状态变化事件
func (c *Coordinator) publish(rec *domain.ProcessingRecord) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&events.RecordEvent{
		RecordID:    rec.ID,
		SourcePath:  rec.SourcePath,
		Fingerprint: rec.Fingerprint,
		State:       string(rec.State),
		FailureKind: string(rec.FailureKind),
		Reason:      rec.FailureReason,
		RowsWritten: rec.RowsWritten,
		EventTime:   c.now(),
	})
}

// Consume 持续消费事件流，直到流关闭或 ctx 取消
func (c *Coordinator) Consume(ctx context.Context, stream <-chan *events.FileReadyEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if _, err := c.Submit(ev); err != nil {
				if errors.Is(err, ErrCoordinatorClosed) {
					return
				}
				c.logger.Error("Failed to submit event", "path", ev.Path, "error", err)
			}
		}
	}
}

// Recover 启动恢复：把上次退出时的非终态记录标记为 Interrupted
func (c *Coordinator) Recover() (int, error) {
	active, err := c.records.ListActive()
	if err != nil {
		return 0, err
	}
	now := c.now()
	for _, rec := range active {
		if err := rec.Fail(domain.FailureInterrupted, "process stopped before completion", now); err != nil {
			continue
		}
		if err := c.records.Save(rec); err != nil {
			return 0, err
		}
	}
	if len(active) > 0 {
		c.logger.Info("Interrupted records recovered", "count", len(active))
	}
	return len(active), nil
}

// WaitIdle 等待所有路径处理完毕
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for len(c.lanes) > 0 && ctx.Err() == nil {
			c.idle.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// 唤醒等待的协程使其退出
		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Active 当前正在处理的路径数
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lanes)
}

// Stop 停止接收事件，取消进行中的记录并等待退出
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.lanes = make(map[string]*lane)
	c.idle.Broadcast()
	c.mu.Unlock()
	c.logger.Info("Coordinator stopped")
}

// sleepContext 可取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// short 指纹缩写，用于日志
func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
