package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
)

// recordColumns processing_records 表的列
var recordColumns = []string{
	"id", "source_path", "fingerprint", "state", "failure_kind", "failure_reason",
	"attempts", "rows_parsed", "rows_written", "skipped_rows", "duplicate_rows",
	"skip_details", "created_at", "updated_at", "finished_at",
}

const recordSelect = `
	SELECT id, source_path, fingerprint, state, failure_kind, failure_reason,
	       attempts, rows_parsed, rows_written, skipped_rows, duplicate_rows,
	       skip_details, created_at, updated_at, finished_at
	FROM processing_records`

// recordRepository 摄取记录仓储实现
type recordRepository struct {
	db         *sql.DB
	upsertStmt string
}

// 确保实现接口
var _ pipeline.RecordRepository = (*recordRepository)(nil)

// NewRecordRepository 创建摄取记录仓储实例
func NewRecordRepository(db *sql.DB, dialect Dialect) pipeline.RecordRepository {
	return &recordRepository{
		db:         db,
		upsertStmt: upsertSQL(dialect, "processing_records", recordColumns, []string{"id"}),
	}
}

// Save 保存摄取记录
func (r *recordRepository) Save(rec *pipeline.ProcessingRecord) error {
	details := rec.SkipDetails
	if details == nil {
		details = []dataset.SkippedRow{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal skip details: %w", err)
	}

	_, err = r.db.Exec(r.upsertStmt,
		rec.ID,
		rec.SourcePath,
		rec.Fingerprint,
		string(rec.State),
		string(rec.FailureKind),
		rec.FailureReason,
		rec.Attempts,
		rec.RowsParsed,
		rec.RowsWritten,
		rec.SkippedRows,
		rec.DuplicateRows,
		string(detailsJSON),
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
		toMillis(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Get 根据 ID 查找记录
func (r *recordRepository) Get(id string) (*pipeline.ProcessingRecord, error) {
	return r.queryOne(recordSelect+` WHERE id = ?`, id)
}

// FindByFingerprint 根据路径和指纹查找记录
func (r *recordRepository) FindByFingerprint(path, fingerprint string) (*pipeline.ProcessingRecord, error) {
	return r.queryOne(recordSelect+` WHERE source_path = ? AND fingerprint = ?`, path, fingerprint)
}

// ListByPath 按创建时间倒序列出某个文件的记录
func (r *recordRepository) ListByPath(path string, limit int) ([]*pipeline.ProcessingRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryMany(recordSelect+` WHERE source_path = ? ORDER BY created_at DESC LIMIT ?`, path, limit)
}

// ListActive 所有非终态记录，按创建时间排序
func (r *recordRepository) ListActive() ([]*pipeline.ProcessingRecord, error) {
	return r.queryMany(recordSelect+` WHERE state NOT IN (?, ?) ORDER BY created_at`,
		string(pipeline.StateDone), string(pipeline.StateFailed))
}

func (r *recordRepository) queryOne(query string, args ...any) (*pipeline.ProcessingRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(query, args...).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return rec, nil
}

func (r *recordRepository) queryMany(query string, args ...any) ([]*pipeline.ProcessingRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*pipeline.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanRecord 扫描 processing_records 的一行
func scanRecord(scan func(dest ...any) error) (*pipeline.ProcessingRecord, error) {
	var rec pipeline.ProcessingRecord
	var state, kind, details string
	var created, updated, finished int64
	if err := scan(
		&rec.ID,
		&rec.SourcePath,
		&rec.Fingerprint,
		&state,
		&kind,
		&rec.FailureReason,
		&rec.Attempts,
		&rec.RowsParsed,
		&rec.RowsWritten,
		&rec.SkippedRows,
		&rec.DuplicateRows,
		&details,
		&created,
		&updated,
		&finished,
	); err != nil {
		return nil, err
	}
	rec.State = pipeline.RecordState(state)
	rec.FailureKind = pipeline.FailureKind(kind)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	rec.FinishedAt = fromMillis(finished)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &rec.SkipDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal skip details: %w", err)
		}
		if len(rec.SkipDetails) == 0 {
			rec.SkipDetails = nil
		}
	}
	return &rec, nil
}
