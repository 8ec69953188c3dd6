package events

import "time"

// RecordEvent 处理记录状态变化事件
// 协调器每次推进或终结一条 ProcessingRecord 时发布
type RecordEvent struct {
	RecordID    string    `json:"record_id"`
	SourcePath  string    `json:"source_path"`
	Fingerprint string    `json:"fingerprint"`
	State       string    `json:"state"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RowsWritten int       `json:"rows_written"`
	EventTime   time.Time `json:"event_time"`
}

// Type 实现 Event 接口
func (e *RecordEvent) Type() EventType {
	return RecordStateChanged
}

// Timestamp 实现 Event 接口
func (e *RecordEvent) Timestamp() time.Time {
	return e.EventTime
}

// InsightJobEvent 洞察任务终态事件
type InsightJobEvent struct {
	JobID        string    `json:"job_id"`
	RecordID     string    `json:"record_id"`
	SourcePath   string    `json:"source_path"`
	Status       string    `json:"status"`
	ResultHandle string    `json:"result_handle,omitempty"`
	Error        string    `json:"error,omitempty"`
	EventTime    time.Time `json:"event_time"`
}

// Type 实现 Event 接口
func (e *InsightJobEvent) Type() EventType {
	return InsightJobFinished
}

// Timestamp 实现 Event 接口
func (e *InsightJobEvent) Timestamp() time.Time {
	return e.EventTime
}
