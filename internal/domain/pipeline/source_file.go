// Package pipeline 定义摄取流水线的领域模型
// SourceFile 描述被监听的数据文件，ProcessingRecord 跟踪一次摄取，
// InsightJob 跟踪摄取完成后的洞察生成
package pipeline

import "time"

// SourceFile 被监听的数据文件
// 以绝对路径为标识，记录最新指纹和最近一次成功摄取的指纹
type SourceFile struct {
	Path                string    `json:"path"`
	Fingerprint         string    `json:"fingerprint"` // 最近一次检测到的内容指纹
	Size                int64     `json:"size"`
	ModTime             time.Time `json:"mod_time"`
	FirstSeenAt         time.Time `json:"first_seen_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	LastRecordID        string    `json:"last_record_id"`
	LastDoneFingerprint string    `json:"last_done_fingerprint"`
	RowCount            int       `json:"row_count"` // 当前可见行数
}

// NewSourceFile 首次检测到文件时创建
func NewSourceFile(path string, now time.Time) *SourceFile {
	return &SourceFile{
		Path:        path,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
}

// Observe 记录一次检测
func (f *SourceFile) Observe(fingerprint string, size int64, modTime, now time.Time) {
	f.Fingerprint = fingerprint
	f.Size = size
	f.ModTime = modTime
	f.UpdatedAt = now
}

// IsDone 指纹是否已成功摄取
func (f *SourceFile) IsDone(fingerprint string) bool {
	return f.LastDoneFingerprint != "" && f.LastDoneFingerprint == fingerprint
}

// FileStatus 文件最新状态（看板视图）
type FileStatus struct {
	SourceFile
	State         RecordState `json:"state"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
}
