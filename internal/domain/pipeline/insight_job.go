package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus 洞察任务状态
type JobStatus string

// 任务状态常量
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// DefaultJobMaxAttempts 默认尝试次数（一次重试）
const DefaultJobMaxAttempts = 2

// InsightJob 洞察生成任务
// 引用一条已完成的摄取记录，结果以不透明句柄和 JSON 载荷保存
type InsightJob struct {
	ID           string          `json:"id"`
	RecordID     string          `json:"record_id"`
	SourcePath   string          `json:"source_path"`
	Fingerprint  string          `json:"fingerprint"`
	Status       JobStatus       `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRetryAt  time.Time       `json:"next_retry_at,omitzero"`
	LastError    string          `json:"last_error,omitempty"`
	FailureKind  FailureKind     `json:"failure_kind,omitempty"`
	ResultHandle string          `json:"result_handle,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   time.Time       `json:"finished_at,omitzero"`
}

// NewInsightJob 为完成的记录创建任务
func NewInsightJob(rec *ProcessingRecord, maxAttempts int, now time.Time) *InsightJob {
	if maxAttempts <= 0 {
		maxAttempts = DefaultJobMaxAttempts
	}
	return &InsightJob{
		ID:          uuid.New().String(),
		RecordID:    rec.ID,
		SourcePath:  rec.SourcePath,
		Fingerprint: rec.Fingerprint,
		Status:      JobQueued,
		MaxAttempts: maxAttempts,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal 是否已结束
func (j *InsightJob) IsTerminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// IsDue 是否可以被领取
func (j *InsightJob) IsDue(now time.Time) bool {
	return j.Status == JobQueued && !now.Before(j.NextRetryAt)
}

// CanRetry 检查是否还有剩余尝试次数
func (j *InsightJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// MarkRunning 标记为运行中
func (j *InsightJob) MarkRunning(now time.Time) {
	j.Status = JobRunning
	j.Attempts++
	j.UpdatedAt = now
}

// MarkSucceeded 标记为成功
func (j *InsightJob) MarkSucceeded(handle, summary string, payload json.RawMessage, now time.Time) {
	j.Status = JobSucceeded
	j.ResultHandle = handle
	j.Summary = summary
	j.Payload = payload
	j.LastError = ""
	j.FailureKind = FailureNone
	j.UpdatedAt = now
	j.FinishedAt = now
}

// MarkFailed 记录失败；仍可重试时回到 queued 并设置下次执行时间
// 返回任务是否已进入失败终态
func (j *InsightJob) MarkFailed(kind FailureKind, errMsg string, retryDelay time.Duration, now time.Time) bool {
	j.LastError = errMsg
	j.FailureKind = kind
	j.UpdatedAt = now
	if !IsPermanent(kind) && j.CanRetry() {
		j.Status = JobQueued
		j.NextRetryAt = now.Add(retryDelay)
		return false
	}
	j.Status = JobFailed
	j.FinishedAt = now
	return true
}
