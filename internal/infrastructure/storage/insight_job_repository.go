package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shelfwatch/backend/internal/domain/pipeline"
)

// insightJobColumns insight_jobs 表的列
var insightJobColumns = []string{
	"id", "record_id", "source_path", "fingerprint", "status", "attempts",
	"max_attempts", "next_retry_at", "last_error", "failure_kind", "result_handle",
	"summary", "payload", "created_at", "updated_at", "finished_at",
}

const insightJobSelect = `
	SELECT id, record_id, source_path, fingerprint, status, attempts,
	       max_attempts, next_retry_at, last_error, failure_kind, result_handle,
	       summary, payload, created_at, updated_at, finished_at
	FROM insight_jobs`

// claimRetries 领取冲突时的重试次数
const claimRetries = 3

// insightJobRepository 洞察任务仓储实现，同时作为持久化任务队列
type insightJobRepository struct {
	db         *sql.DB
	upsertStmt string
}

// 确保实现接口
var _ pipeline.InsightJobRepository = (*insightJobRepository)(nil)

// NewInsightJobRepository 创建洞察任务仓储实例
func NewInsightJobRepository(db *sql.DB, dialect Dialect) pipeline.InsightJobRepository {
	return &insightJobRepository{
		db:         db,
		upsertStmt: upsertSQL(dialect, "insight_jobs", insightJobColumns, []string{"id"}),
	}
}

// Save 保存任务
func (r *insightJobRepository) Save(job *pipeline.InsightJob) error {
	var payload sql.NullString
	if len(job.Payload) > 0 {
		payload = sql.NullString{String: string(job.Payload), Valid: true}
	}

	_, err := r.db.Exec(r.upsertStmt,
		job.ID,
		job.RecordID,
		job.SourcePath,
		job.Fingerprint,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		toMillis(job.NextRetryAt),
		job.LastError,
		string(job.FailureKind),
		job.ResultHandle,
		job.Summary,
		payload,
		toMillis(job.CreatedAt),
		toMillis(job.UpdatedAt),
		toMillis(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save insight job: %w", err)
	}
	return nil
}

// Get 根据 ID 查找任务
func (r *insightJobRepository) Get(id string) (*pipeline.InsightJob, error) {
	return r.queryOne(insightJobSelect+` WHERE id = ?`, id)
}

// LatestForRecord 某条记录最近创建的任务
func (r *insightJobRepository) LatestForRecord(recordID string) (*pipeline.InsightJob, error) {
	return r.queryOne(insightJobSelect+` WHERE record_id = ? ORDER BY created_at DESC LIMIT 1`, recordID)
}

// List 按创建时间倒序列出任务，status 为空时不过滤
func (r *insightJobRepository) List(status pipeline.JobStatus, limit int) ([]*pipeline.InsightJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if status == "" {
		return r.queryMany(insightJobSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	return r.queryMany(insightJobSelect+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, string(status), limit)
}

// ClaimNext 领取最早到期的 queued 任务
// 通过带状态条件的 UPDATE 保证同一任务只被一个 worker 领取
func (r *insightJobRepository) ClaimNext(now time.Time) (*pipeline.InsightJob, error) {
	for i := 0; i < claimRetries; i++ {
		job, err := r.queryOne(insightJobSelect+`
			WHERE status = ? AND next_retry_at <= ?
			ORDER BY next_retry_at, created_at
			LIMIT 1`, string(pipeline.JobQueued), now.UnixMilli())
		if err != nil || job == nil {
			return nil, err
		}

		job.MarkRunning(now)
		res, err := r.db.Exec(`
			UPDATE insight_jobs
			SET status = ?, attempts = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(job.Status), job.Attempts, toMillis(job.UpdatedAt),
			job.ID, string(pipeline.JobQueued))
		if err != nil {
			return nil, fmt.Errorf("failed to claim insight job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return job, nil
		}
		// 被其他 worker 抢先领取
	}
	return nil, nil
}

// RequeueRunning 启动恢复：把上次退出时仍在运行的任务放回队列
func (r *insightJobRepository) RequeueRunning(now time.Time) (int, error) {
	res, err := r.db.Exec(`
		UPDATE insight_jobs
		SET status = ?, next_retry_at = ?, updated_at = ?
		WHERE status = ?`,
		string(pipeline.JobQueued), now.UnixMilli(), now.UnixMilli(), string(pipeline.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *insightJobRepository) queryOne(query string, args ...any) (*pipeline.InsightJob, error) {
	job, err := scanInsightJob(r.db.QueryRow(query, args...).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query insight job: %w", err)
	}
	return job, nil
}

func (r *insightJobRepository) queryMany(query string, args ...any) ([]*pipeline.InsightJob, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query insight jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*pipeline.InsightJob
	for rows.Next() {
		job, err := scanInsightJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanInsightJob 扫描 insight_jobs 的一行
func scanInsightJob(scan func(dest ...any) error) (*pipeline.InsightJob, error) {
	var job pipeline.InsightJob
	var status, kind string
	var payload sql.NullString
	var nextRetry, created, updated, finished int64
	if err := scan(
		&job.ID,
		&job.RecordID,
		&job.SourcePath,
		&job.Fingerprint,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&nextRetry,
		&job.LastError,
		&kind,
		&job.ResultHandle,
		&job.Summary,
		&payload,
		&created,
		&updated,
		&finished,
	); err != nil {
		return nil, err
	}
	job.Status = pipeline.JobStatus(status)
	job.FailureKind = pipeline.FailureKind(kind)
	job.NextRetryAt = fromMillis(nextRetry)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	job.FinishedAt = fromMillis(finished)
	if payload.Valid && payload.String != "" {
		job.Payload = []byte(payload.String)
	}
	return &job, nil
}
