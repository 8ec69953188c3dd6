package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/insight"
	domain "github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
	"github.com/shelfwatch/backend/internal/infrastructure/storage"
)

// fakeParser 按路径当前指纹返回预置的行集
type fakeParser struct {
	mu      sync.Mutex
	current map[string]string
	sets    map[string]*dataset.RowSet
	errs    map[string]error
	gate    chan struct{}
	calls   int
}

func newFakeParser() *fakeParser {
	return &fakeParser{
		current: make(map[string]string),
		sets:    make(map[string]*dataset.RowSet),
		errs:    make(map[string]error),
	}
}

func (p *fakeParser) Parse(ctx context.Context, path string) (*dataset.RowSet, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	fp, ok := p.current[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	if err := p.errs[fp]; err != nil {
		return nil, err
	}
	rs := *p.sets[fp]
	rs.SourcePath = path
	rs.Fingerprint = fp
	return &rs, nil
}

func (p *fakeParser) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// flakyRowStore 前 failures 次写入失败
type flakyRowStore struct {
	domain.RowStore
	failures atomic.Int32
}

func (s *flakyRowStore) Upsert(ctx context.Context, sourcePath, fingerprint string, rows []*dataset.Row) (*domain.CommitResult, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return s.RowStore.Upsert(ctx, sourcePath, fingerprint, rows)
}

type harness struct {
	files   domain.SourceFileRepository
	records domain.RecordRepository
	jobs    domain.InsightJobRepository
	rows    *flakyRowStore
	parser  *fakeParser
	coord   *Coordinator
	disp    *Dispatcher
	dir     string
}

func newHarness(t *testing.T, gen insight.Generator, maxAttempts int) *harness {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.OpenDB(&config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, storage.DialectSQLite))
	t.Cleanup(func() { db.Close() })

	h := &harness{
		files:   storage.NewSourceFileRepository(db, storage.DialectSQLite),
		records: storage.NewRecordRepository(db, storage.DialectSQLite),
		jobs:    storage.NewInsightJobRepository(db, storage.DialectSQLite),
		rows:    &flakyRowStore{RowStore: storage.NewRowStore(db, storage.DialectSQLite)},
		parser:  newFakeParser(),
		dir:     dir,
	}
	if gen == nil {
		gen = insight.GeneratorFunc(func(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
			return &insight.Result{Summary: fmt.Sprintf("%d rows", view.Len()), Payload: []byte(`{}`)}, nil
		})
	}
	h.disp = NewDispatcher(h.jobs, h.files, h.rows, gen, nil, DispatcherConfig{Workers: 1, PollInterval: 20 * time.Millisecond})
	h.coord = NewCoordinator(h.files, h.records, h.jobs, h.rows, h.parser, nil, h.disp, CoordinatorConfig{
		MaxAttempts:    maxAttempts,
		Concurrency:    4,
		JobMaxAttempts: domain.DefaultJobMaxAttempts,
	})
	h.coord.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(h.coord.Stop)
	return h
}

// write 模拟文件内容变为 fp，返回对应的就绪事件
func (h *harness) write(name, fp string, n, skipped int) *events.FileReadyEvent {
	path := filepath.Join(h.dir, name)
	rs := &dataset.RowSet{SkippedCount: skipped}
	for i := 1; i <= n; i++ {
		rs.Rows = append(rs.Rows, &dataset.Row{
			Line:   i + 1,
			Key:    fmt.Sprintf("%s-%d", name, i),
			Values: map[string]any{"product_id": int64(i), "brand": fp},
		})
	}
	h.parser.mu.Lock()
	h.parser.current[path] = fp
	h.parser.sets[fp] = rs
	h.parser.mu.Unlock()
	return &events.FileReadyEvent{Path: path, Fingerprint: fp, Size: int64(n), ModTime: time.Now(), EventTime: time.Now()}
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.WaitIdle(ctx))
}

func (h *harness) record(t *testing.T, ev *events.FileReadyEvent) *domain.ProcessingRecord {
	t.Helper()
	rec, err := h.records.FindByFingerprint(ev.Path, ev.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func TestCoordinator_ValidFileEndsDoneWithInsight(t *testing.T) {
	h := newHarness(t, nil, 3)
	ev := h.write("products.csv", "fp-a", 100, 0)

	res, err := h.coord.Submit(ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.NotEmpty(t, res.RecordID)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, res.RecordID, rec.ID)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.Equal(t, 100, rec.RowsWritten)
	assert.Equal(t, domain.FailureNone, rec.FailureKind)

	n, err := h.rows.Count(context.Background(), ev.Path, ev.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	file, err := h.files.Get(ev.Path)
	require.NoError(t, err)
	assert.Equal(t, "fp-a", file.LastDoneFingerprint)
	assert.Equal(t, 100, file.RowCount)

	job, err := h.jobs.LatestForRecord(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobQueued, job.Status)

	assert.True(t, h.disp.RunOnce(context.Background()))
	job, err = h.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.Equal(t, ResultHandlePrefix+job.ID, job.ResultHandle)
	assert.Equal(t, "100 rows", job.Summary)
	assert.False(t, h.disp.RunOnce(context.Background()), "队列应为空")
}

func TestCoordinator_SchemaMismatchIsPermanent(t *testing.T) {
	h := newHarness(t, nil, 3)
	ev := h.write("bad.csv", "fp-bad", 5, 0)
	h.parser.errs["fp-bad"] = fmt.Errorf("missing required column brand: %w", dataset.ErrSchemaMismatch)

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.FailureSchemaMismatch, rec.FailureKind)
	assert.Contains(t, rec.FailureReason, "brand")
	assert.Equal(t, 1, h.parser.Calls(), "输入错误不重试")

	n, err := h.rows.Count(context.Background(), ev.Path, ev.Fingerprint)
	require.NoError(t, err)
	assert.Zero(t, n)

	jobs, err := h.jobs.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// 同一内容再次提交不再处理
	res, err := h.coord.Submit(ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	h.waitIdle(t)
	assert.Equal(t, 1, h.parser.Calls())
}

func TestCoordinator_StoreFailureRetriesThenFails(t *testing.T) {
	h := newHarness(t, nil, 3)
	h.rows.failures.Store(3)
	ev := h.write("flaky.csv", "fp-f", 10, 0)

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.FailureStoreWrite, rec.FailureKind)
	assert.Equal(t, 3, rec.Attempts)

	// 存储恢复后重新提交同一内容会重新处理
	res, err := h.coord.Submit(ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, rec.ID, res.RecordID, "复用同一条记录")
	h.waitIdle(t)

	rec = h.record(t, ev)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.Equal(t, 10, rec.RowsWritten)
	assert.Equal(t, 1, rec.Attempts)
}

func TestCoordinator_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t, nil, 3)
	h.rows.failures.Store(1)
	ev := h.write("once.csv", "fp-o", 3, 0)

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Empty(t, rec.FailureReason)
}

func TestCoordinator_SkippedRowsCounted(t *testing.T) {
	h := newHarness(t, nil, 1)
	ev := h.write("mixed.csv", "fp-m", 8, 2)

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.Equal(t, 8, rec.RowsWritten)
	assert.Equal(t, 2, rec.SkippedRows)
}

func TestCoordinator_SameContentIsDuplicate(t *testing.T) {
	h := newHarness(t, nil, 1)
	ev := h.write("same.csv", "fp-s", 4, 0)

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	touched := *ev
	touched.ModTime = ev.ModTime.Add(time.Minute)
	touched.Size = 99
	res, err := h.coord.Submit(&touched)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	h.waitIdle(t)

	assert.Equal(t, 1, h.parser.Calls())
	jobs, err := h.jobs.List("", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	file, err := h.files.Get(ev.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(99), file.Size, "重复事件仍刷新文件元数据")
}

func TestCoordinator_LastSubmittedContentWins(t *testing.T) {
	h := newHarness(t, nil, 1)
	gate := make(chan struct{})
	h.parser.gate = gate

	evA := h.write("rolling.csv", "fp-1", 3, 0)
	resA, err := h.coord.Submit(evA)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, resA.Outcome)

	evB := h.write("rolling.csv", "fp-2", 4, 0)
	resB, err := h.coord.Submit(evB)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, resB.Outcome)

	evC := h.write("rolling.csv", "fp-3", 5, 0)
	resC, err := h.coord.Submit(evC)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, resC.Outcome)
	assert.Equal(t, 1, h.coord.Active())

	close(gate)
	h.waitIdle(t)

	file, err := h.files.Get(evA.Path)
	require.NoError(t, err)
	assert.Equal(t, "fp-3", file.LastDoneFingerprint)

	for _, ev := range []*events.FileReadyEvent{evA, evB} {
		rec := h.record(t, ev)
		assert.Equal(t, domain.StateFailed, rec.State)
		assert.Equal(t, domain.FailureSuperseded, rec.FailureKind)
	}
	assert.Equal(t, domain.StateDone, h.record(t, evC).State)

	ctx := context.Background()
	n, err := h.rows.Count(ctx, evC.Path, "fp-3")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = h.rows.Count(ctx, evA.Path, "fp-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCoordinator_QueueCollapsesRepeatedTail(t *testing.T) {
	h := newHarness(t, nil, 1)
	gate := make(chan struct{})
	h.parser.gate = gate

	evA := h.write("burst.csv", "fp-x", 1, 0)
	_, err := h.coord.Submit(evA)
	require.NoError(t, err)

	evB := h.write("burst.csv", "fp-y", 2, 0)
	res, err := h.coord.Submit(evB)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	res, err = h.coord.Submit(evB)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	close(gate)
	h.waitIdle(t)
	assert.Equal(t, 2, h.parser.Calls())
	assert.Equal(t, domain.StateDone, h.record(t, evB).State)
}

func TestCoordinator_DifferentPathsRunConcurrently(t *testing.T) {
	h := newHarness(t, nil, 1)

	var evs []*events.FileReadyEvent
	for i := 0; i < 6; i++ {
		ev := h.write(fmt.Sprintf("part_%d.csv", i), fmt.Sprintf("fp-%d", i), 10, 0)
		evs = append(evs, ev)
		res, err := h.coord.Submit(ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAccepted, res.Outcome)
	}
	h.waitIdle(t)

	for _, ev := range evs {
		assert.Equal(t, domain.StateDone, h.record(t, ev).State)
	}
	statuses, err := h.files.ListStatus()
	require.NoError(t, err)
	assert.Len(t, statuses, 6)
}

func TestCoordinator_MissingFileIsSuperseded(t *testing.T) {
	h := newHarness(t, nil, 3)
	ev := &events.FileReadyEvent{Path: filepath.Join(h.dir, "gone.csv"), Fingerprint: "fp-g", EventTime: time.Now()}

	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.FailureSuperseded, rec.FailureKind)
}

func TestCoordinator_RecoverMarksInterrupted(t *testing.T) {
	h := newHarness(t, nil, 1)
	ev := h.write("crash.csv", "fp-c", 2, 0)

	now := time.Now()
	stale := domain.NewProcessingRecord(ev.Path, ev.Fingerprint, now)
	require.NoError(t, stale.Transition(domain.StateParsing, now))
	require.NoError(t, stale.Transition(domain.StateWriting, now))
	require.NoError(t, h.records.Save(stale))

	n, err := h.coord.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, domain.FailureInterrupted, rec.FailureKind)

	// 中断的记录在下次检测时重新处理
	res, err := h.coord.Submit(ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, stale.ID, res.RecordID)
	h.waitIdle(t)
	assert.Equal(t, domain.StateDone, h.record(t, ev).State)
}

func TestCoordinator_SubmitAfterStop(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.coord.Stop()

	_, err := h.coord.Submit(h.write("late.csv", "fp-l", 1, 0))
	assert.ErrorIs(t, err, ErrCoordinatorClosed)

	_, err = h.coord.Submit(&events.FileReadyEvent{})
	assert.Error(t, err)
}

func TestCoordinator_ConsumeStream(t *testing.T) {
	h := newHarness(t, nil, 1)
	stream := make(chan *events.FileReadyEvent, 2)
	stream <- h.write("a.csv", "fp-sa", 1, 0)
	stream <- h.write("b.csv", "fp-sb", 1, 0)
	close(stream)

	h.coord.Consume(context.Background(), stream)
	h.waitIdle(t)

	statuses, err := h.files.ListStatus()
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, domain.StateDone, s.State)
	}
}

func TestDispatcher_RetriesOnceAfterGeneratorError(t *testing.T) {
	var calls atomic.Int32
	gen := insight.GeneratorFunc(func(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("llm timeout")
		}
		return &insight.Result{Summary: "ok"}, nil
	})
	h := newHarness(t, gen, 1)
	ev := h.write("retry.csv", "fp-r", 3, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	rec := h.record(t, ev)
	job, err := h.jobs.LatestForRecord(rec.ID)
	require.NoError(t, err)

	assert.True(t, h.disp.RunOnce(context.Background()))
	job, err = h.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "llm timeout", job.LastError)
	assert.Equal(t, domain.FailureDispatch, job.FailureKind)

	assert.True(t, h.disp.RunOnce(context.Background()))
	job, err = h.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.Equal(t, 2, job.Attempts)

	// 洞察失败不影响记录状态
	assert.Equal(t, domain.StateDone, h.record(t, ev).State)
}

func TestDispatcher_FailsAfterMaxAttempts(t *testing.T) {
	gen := insight.GeneratorFunc(func(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
		panic("boom")
	})
	h := newHarness(t, gen, 1)
	ev := h.write("panic.csv", "fp-p", 1, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	for h.disp.RunOnce(context.Background()) {
	}

	job, err := h.jobs.LatestForRecord(h.record(t, ev).ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, domain.DefaultJobMaxAttempts, job.Attempts)
	assert.Contains(t, job.LastError, "generator panic")
	assert.Equal(t, domain.StateDone, h.record(t, ev).State)
}

func TestDispatcher_SupersededJobNotGenerated(t *testing.T) {
	var seen sync.Map
	gen := insight.GeneratorFunc(func(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
		seen.Store(view.Fingerprint(), view.Len())
		return &insight.Result{Summary: view.Fingerprint()}, nil
	})
	h := newHarness(t, gen, 1)

	evA := h.write("swap.csv", "fp-old", 2, 0)
	_, err := h.coord.Submit(evA)
	require.NoError(t, err)
	h.waitIdle(t)

	evB := h.write("swap.csv", "fp-new", 3, 0)
	_, err = h.coord.Submit(evB)
	require.NoError(t, err)
	h.waitIdle(t)

	for h.disp.RunOnce(context.Background()) {
	}

	jobA, err := h.jobs.LatestForRecord(h.record(t, evA).ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, jobA.Status)
	assert.Equal(t, domain.FailureSuperseded, jobA.FailureKind)
	assert.Equal(t, 1, jobA.Attempts, "被替换的任务不重试")

	jobB, err := h.jobs.LatestForRecord(h.record(t, evB).ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, jobB.Status)

	_, ok := seen.Load("fp-old")
	assert.False(t, ok)
	n, ok := seen.Load("fp-new")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestDispatcher_CancelledJobIsRequeued(t *testing.T) {
	gen := insight.GeneratorFunc(func(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
		return nil, ctx.Err()
	})
	h := newHarness(t, gen, 1)
	ev := h.write("stop.csv", "fp-st", 1, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, h.disp.RunOnce(ctx))

	job, err := h.jobs.LatestForRecord(h.record(t, ev).ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestDispatcher_RecoverRequeuesRunning(t *testing.T) {
	h := newHarness(t, nil, 1)
	ev := h.write("req.csv", "fp-q", 1, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	claimed, err := h.jobs.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, domain.JobRunning, claimed.Status)

	n, err := h.disp.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, h.disp.RunOnce(context.Background()))
	job, err := h.jobs.Get(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.Status)
}

func TestDispatcher_WorkersDrainQueue(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.disp.StartWorkers()
	defer h.disp.StopWorkers()

	ev := h.write("live.csv", "fp-live", 2, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)
	rec := h.record(t, ev)

	assert.Eventually(t, func() bool {
		job, err := h.jobs.LatestForRecord(rec.ID)
		return err == nil && job != nil && job.Status == domain.JobSucceeded
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDispatcher_RateLimiterConfigured(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil, nil, DispatcherConfig{RatePerSecond: 0.5})
	require.NotNil(t, d.limiter)
	assert.Equal(t, 1, d.limiter.Burst())
	assert.Equal(t, 1, d.cfg.Workers)

	d = NewDispatcher(nil, nil, nil, nil, nil, DispatcherConfig{})
	assert.Nil(t, d.limiter)
}

// dispatchingJobs 任务入队后立即让 worker 跑一轮
type dispatchingJobs struct {
	domain.InsightJobRepository
	disp *Dispatcher
	ran  atomic.Bool
}

func (r *dispatchingJobs) Save(job *domain.InsightJob) error {
	if err := r.InsightJobRepository.Save(job); err != nil {
		return err
	}
	if job.Status == domain.JobQueued && r.ran.CompareAndSwap(false, true) {
		r.disp.RunOnce(context.Background())
	}
	return nil
}

// dispatchingFiles 登记完成指纹之前让 worker 跑一轮
type dispatchingFiles struct {
	domain.SourceFileRepository
	disp    *Dispatcher
	claimed atomic.Int32
}

func (r *dispatchingFiles) Save(file *domain.SourceFile) error {
	if file.LastDoneFingerprint != "" && r.disp.RunOnce(context.Background()) {
		r.claimed.Add(1)
	}
	return r.SourceFileRepository.Save(file)
}

// failDoneOnceRecords 第一次保存 Done 状态时失败
type failDoneOnceRecords struct {
	domain.RecordRepository
	failed atomic.Bool
}

func (r *failDoneOnceRecords) Save(rec *domain.ProcessingRecord) error {
	if rec.State == domain.StateDone && r.failed.CompareAndSwap(false, true) {
		return errors.New("database is locked")
	}
	return r.RecordRepository.Save(rec)
}

// flakyLookupRecords 前 failures 次按指纹查询失败
type flakyLookupRecords struct {
	domain.RecordRepository
	failures atomic.Int32
}

func (r *flakyLookupRecords) FindByFingerprint(path, fingerprint string) (*domain.ProcessingRecord, error) {
	if r.failures.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return r.RecordRepository.FindByFingerprint(path, fingerprint)
}

func TestCoordinator_JobClaimableOnlyAfterFileDone(t *testing.T) {
	h := newHarness(t, nil, 3)
	files := &dispatchingFiles{SourceFileRepository: h.files, disp: h.disp}
	h.coord.files = files
	h.coord.jobs = &dispatchingJobs{InsightJobRepository: h.jobs, disp: h.disp}

	ev := h.write("sales_jan.csv", "fp-jan", 100, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Zero(t, files.claimed.Load(), "no job may be claimable before the file points at its fingerprint")

	rec := h.record(t, ev)
	assert.Equal(t, domain.StateDone, rec.State)
	job, err := h.jobs.LatestForRecord(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobSucceeded, job.Status)
	assert.Equal(t, domain.FailureNone, job.FailureKind)
	assert.Equal(t, ResultHandlePrefix+job.ID, job.ResultHandle)
}

func TestCoordinator_RetryAfterDoneSaveFailureKeepsOneJob(t *testing.T) {
	h := newHarness(t, nil, 3)
	records := &failDoneOnceRecords{RecordRepository: h.records}
	h.coord.records = records

	ev := h.write("retry_done.csv", "fp-rd", 4, 0)
	_, err := h.coord.Submit(ev)
	require.NoError(t, err)
	h.waitIdle(t)

	require.True(t, records.failed.Load())
	rec := h.record(t, ev)
	assert.Equal(t, domain.StateDone, rec.State)
	assert.Equal(t, 2, rec.Attempts)

	jobs, err := h.jobs.List("", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, rec.ID, jobs[0].RecordID)
	assert.Equal(t, domain.JobQueued, jobs[0].Status)
}

func TestCoordinator_QueuedClaimRetriesStoreFailure(t *testing.T) {
	h := newHarness(t, nil, 3)
	records := &flakyLookupRecords{RecordRepository: h.records}
	h.coord.records = records
	gate := make(chan struct{})
	h.parser.gate = gate

	evA := h.write("queued_claim.csv", "fp-qa", 1, 0)
	_, err := h.coord.Submit(evA)
	require.NoError(t, err)
	evB := h.write("queued_claim.csv", "fp-qb", 2, 0)
	res, err := h.coord.Submit(evB)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	records.failures.Store(2)
	close(gate)
	h.waitIdle(t)

	assert.Equal(t, domain.StateDone, h.record(t, evB).State)
	file, err := h.files.Get(evB.Path)
	require.NoError(t, err)
	assert.Equal(t, "fp-qb", file.LastDoneFingerprint)
}

func TestCoordinator_QueuedClaimGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, nil, 2)
	records := &flakyLookupRecords{RecordRepository: h.records}
	h.coord.records = records
	gate := make(chan struct{})
	h.parser.gate = gate

	evA := h.write("lost_claim.csv", "fp-la", 1, 0)
	_, err := h.coord.Submit(evA)
	require.NoError(t, err)
	evB := h.write("lost_claim.csv", "fp-lb", 2, 0)
	_, err = h.coord.Submit(evB)
	require.NoError(t, err)

	records.failures.Store(2)
	close(gate)
	h.waitIdle(t)

	assert.Zero(t, h.coord.Active())
	rec, err := h.records.FindByFingerprint(evB.Path, evB.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCoordinator_InterruptedAfterFileDoneIsReprocessed(t *testing.T) {
	h := newHarness(t, nil, 1)
	ev := h.write("half_done.csv", "fp-hd", 3, 0)

	now := time.Now()
	stale := domain.NewProcessingRecord(ev.Path, ev.Fingerprint, now)
	for _, to := range []domain.RecordState{domain.StateParsing, domain.StateWriting, domain.StateDispatching} {
		require.NoError(t, stale.Transition(to, now))
	}
	require.NoError(t, h.records.Save(stale))
	file := domain.NewSourceFile(ev.Path, now)
	file.Fingerprint = ev.Fingerprint
	file.LastDoneFingerprint = ev.Fingerprint
	require.NoError(t, h.files.Save(file))
	require.NoError(t, h.jobs.Save(domain.NewInsightJob(stale, domain.DefaultJobMaxAttempts, now)))

	_, err := h.coord.Recover()
	require.NoError(t, err)

	res, err := h.coord.Submit(ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	h.waitIdle(t)

	assert.Equal(t, domain.StateDone, h.record(t, ev).State)
	jobs, err := h.jobs.List("", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
