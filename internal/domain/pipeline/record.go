package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// RecordState 摄取记录状态
type RecordState string

// 记录状态常量
const (
	StatePending     RecordState = "pending"
	StateParsing     RecordState = "parsing"
	StateWriting     RecordState = "writing"
	StateDispatching RecordState = "dispatching"
	StateDone        RecordState = "done"
	StateFailed      RecordState = "failed"
)

// IsTerminal 是否为终态
func (s RecordState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// 合法的前进转换；任何非终态都可以转到 failed，
// parsing/writing/dispatching 可以退回 pending 进行重试
var transitions = map[RecordState][]RecordState{
	StatePending:     {StateParsing},
	StateParsing:     {StateWriting, StatePending},
	StateWriting:     {StateDispatching, StatePending},
	StateDispatching: {StateDone, StatePending},
}

// ProcessingRecord 一个 (文件, 指纹) 的摄取记录
type ProcessingRecord struct {
	ID            string               `json:"id"`
	SourcePath    string               `json:"source_path"`
	Fingerprint   string               `json:"fingerprint"`
	State         RecordState          `json:"state"`
	FailureKind   FailureKind          `json:"failure_kind,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Attempts      int                  `json:"attempts"`
	RowsParsed    int                  `json:"rows_parsed"`
	RowsWritten   int                  `json:"rows_written"`
	SkippedRows   int                  `json:"skipped_rows"`
	DuplicateRows int                  `json:"duplicate_rows"`
	SkipDetails   []dataset.SkippedRow `json:"skip_details,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	FinishedAt    time.Time            `json:"finished_at,omitzero"`
}

// NewProcessingRecord 创建 pending 状态的记录
func NewProcessingRecord(path, fingerprint string, now time.Time) *ProcessingRecord {
	return &ProcessingRecord{
		ID:          uuid.New().String(),
		SourcePath:  path,
		Fingerprint: fingerprint,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal 是否已结束
func (r *ProcessingRecord) IsTerminal() bool {
	return r.State.IsTerminal()
}

// Transition 状态转换
func (r *ProcessingRecord) Transition(to RecordState, now time.Time) error {
	if to == StateFailed {
		return fmt.Errorf("use Fail to enter %s", StateFailed)
	}
	for _, allowed := range transitions[r.State] {
		if allowed == to {
			r.State = to
			r.UpdatedAt = now
			if to == StateDone {
				r.FailureKind = FailureNone
				r.FailureReason = ""
			}
			if to.IsTerminal() {
				r.FinishedAt = now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", r.State, to)
}

// Fail 进入失败终态
func (r *ProcessingRecord) Fail(kind FailureKind, reason string, now time.Time) error {
	if r.IsTerminal() {
		return fmt.Errorf("record already terminal: %s", r.State)
	}
	r.State = StateFailed
	r.FailureKind = kind
	r.FailureReason = reason
	r.UpdatedAt = now
	r.FinishedAt = now
	return nil
}

// Retry 退回 pending 并记录本次失败原因
func (r *ProcessingRecord) Retry(kind FailureKind, reason string, now time.Time) error {
	if err := r.Transition(StatePending, now); err != nil {
		return err
	}
	r.FailureKind = kind
	r.FailureReason = reason
	return nil
}

// Reset 重新提交同一指纹时复用终态记录
func (r *ProcessingRecord) Reset(now time.Time) error {
	if !r.IsTerminal() {
		return fmt.Errorf("record still active: %s", r.State)
	}
	r.State = StatePending
	r.FailureKind = FailureNone
	r.FailureReason = ""
	r.Attempts = 0
	r.RowsParsed = 0
	r.RowsWritten = 0
	r.SkippedRows = 0
	r.DuplicateRows = 0
	r.SkipDetails = nil
	r.UpdatedAt = now
	r.FinishedAt = time.Time{}
	return nil
}

// ApplyParse 记录解析统计
func (r *ProcessingRecord) ApplyParse(rs *dataset.RowSet) {
	r.RowsParsed = len(rs.Rows)
	r.SkippedRows = rs.SkippedCount
	r.DuplicateRows = rs.DuplicateRows
	r.SkipDetails = rs.Skipped
}
