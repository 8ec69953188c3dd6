package pipeline

import (
	"context"
	"time"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// SourceFileRepository 文件仓库接口
type SourceFileRepository interface {
	// Get 不存在时返回 nil, nil
	Get(path string) (*SourceFile, error)
	Save(file *SourceFile) error
	// ListStatus 每个文件及其最新记录的状态
	ListStatus() ([]*FileStatus, error)
}

// RecordRepository 摄取记录仓库接口
type RecordRepository interface {
	Save(record *ProcessingRecord) error
	// Get 不存在时返回 nil, nil
	Get(id string) (*ProcessingRecord, error)
	// FindByFingerprint 不存在时返回 nil, nil
	FindByFingerprint(path, fingerprint string) (*ProcessingRecord, error)
	ListByPath(path string, limit int) ([]*ProcessingRecord, error)
	// ListActive 所有非终态记录
	ListActive() ([]*ProcessingRecord, error)
}

// InsightJobRepository 洞察任务仓库接口
type InsightJobRepository interface {
	Save(job *InsightJob) error
	// Get 不存在时返回 nil, nil
	Get(id string) (*InsightJob, error)
	// ClaimNext 领取一个到期的 queued 任务并置为 running，没有时返回 nil, nil
	ClaimNext(now time.Time) (*InsightJob, error)
	List(status JobStatus, limit int) ([]*InsightJob, error)
	// LatestForRecord 不存在时返回 nil, nil
	LatestForRecord(recordID string) (*InsightJob, error)
	// RequeueRunning 将 running 任务放回队列，返回数量
	RequeueRunning(now time.Time) (int, error)
}

// StoredRow 已提交的行
type StoredRow struct {
	SourcePath  string            `json:"source_path"`
	Fingerprint string            `json:"fingerprint"`
	Key         string            `json:"key"`
	Line        int               `json:"line"`
	Values      map[string]any    `json:"values"`
	Extra       map[string]string `json:"extra,omitempty"`
	CommittedAt time.Time         `json:"committed_at"`
}

// CommitResult 一次 upsert 的结果
type CommitResult struct {
	SourcePath  string `json:"source_path"`
	Fingerprint string `json:"fingerprint"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Removed     int    `json:"removed"` // 同一路径旧版本被替换的行
	Visible     int    `json:"visible"` // 提交后该指纹的可见行数
}

// RowStore 行存储
// 所有行的修改都经过 Upsert；一次 Upsert 原子提交
type RowStore interface {
	// Upsert 提交一个指纹的全部行，并替换同一路径下其他指纹的行
	// 对同一行集重复提交不产生变化
	Upsert(ctx context.Context, sourcePath, fingerprint string, rows []*dataset.Row) (*CommitResult, error)
	// Read 按业务主键读取最近提交的行，不存在时返回 nil, nil
	Read(ctx context.Context, key string) (*StoredRow, error)
	// Count 某个指纹的可见行数
	Count(ctx context.Context, sourcePath, fingerprint string) (int, error)
	// Each 按行号顺序遍历某个指纹的行
	Each(ctx context.Context, sourcePath, fingerprint string, fn func(*StoredRow) error) error
}
