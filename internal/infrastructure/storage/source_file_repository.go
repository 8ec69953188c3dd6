package storage

import (
	"database/sql"
	"fmt"

	"github.com/shelfwatch/backend/internal/domain/pipeline"
)

// sourceFileColumns source_files 表的列
var sourceFileColumns = []string{
	"path", "fingerprint", "size", "mod_time", "first_seen_at",
	"updated_at", "last_record_id", "last_done_fingerprint", "row_count",
}

// sourceFileRepository 数据文件仓储实现
type sourceFileRepository struct {
	db         *sql.DB
	upsertStmt string
}

// 确保实现接口
var _ pipeline.SourceFileRepository = (*sourceFileRepository)(nil)

// NewSourceFileRepository 创建数据文件仓储实例
func NewSourceFileRepository(db *sql.DB, dialect Dialect) pipeline.SourceFileRepository {
	return &sourceFileRepository{
		db:         db,
		upsertStmt: upsertSQL(dialect, "source_files", sourceFileColumns, []string{"path"}),
	}
}

// Save 保存数据文件
func (r *sourceFileRepository) Save(f *pipeline.SourceFile) error {
	_, err := r.db.Exec(r.upsertStmt,
		f.Path,
		f.Fingerprint,
		f.Size,
		toMillis(f.ModTime),
		toMillis(f.FirstSeenAt),
		toMillis(f.UpdatedAt),
		f.LastRecordID,
		f.LastDoneFingerprint,
		f.RowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save source file: %w", err)
	}
	return nil
}

// Get 根据路径查找数据文件
func (r *sourceFileRepository) Get(path string) (*pipeline.SourceFile, error) {
	query := `
		SELECT path, fingerprint, size, mod_time, first_seen_at,
		       updated_at, last_record_id, last_done_fingerprint, row_count
		FROM source_files
		WHERE path = ?`

	f, err := scanSourceFile(r.db.QueryRow(query, path).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query source file: %w", err)
	}
	return f, nil
}

// ListStatus 每个文件及其最新记录的状态，按路径排序
func (r *sourceFileRepository) ListStatus() ([]*pipeline.FileStatus, error) {
	query := `
		SELECT f.path, f.fingerprint, f.size, f.mod_time, f.first_seen_at,
		       f.updated_at, f.last_record_id, f.last_done_fingerprint, f.row_count,
		       COALESCE(r.state, ''), COALESCE(r.failure_kind, ''), COALESCE(r.failure_reason, '')
		FROM source_files f
		LEFT JOIN processing_records r ON r.id = f.last_record_id
		ORDER BY f.path`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query file status: %w", err)
	}
	defer rows.Close()

	var result []*pipeline.FileStatus
	for rows.Next() {
		var st pipeline.FileStatus
		var state, kind string
		f, err := scanSourceFile(func(dest ...any) error {
			return rows.Scan(append(dest, &state, &kind, &st.FailureReason)...)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan file status: %w", err)
		}
		st.SourceFile = *f
		st.State = pipeline.RecordState(state)
		st.FailureKind = pipeline.FailureKind(kind)
		result = append(result, &st)
	}
	return result, rows.Err()
}

// scanSourceFile 扫描 source_files 的一行
func scanSourceFile(scan func(dest ...any) error) (*pipeline.SourceFile, error) {
	var f pipeline.SourceFile
	var modTime, firstSeen, updated int64
	if err := scan(
		&f.Path,
		&f.Fingerprint,
		&f.Size,
		&modTime,
		&firstSeen,
		&updated,
		&f.LastRecordID,
		&f.LastDoneFingerprint,
		&f.RowCount,
	); err != nil {
		return nil, err
	}
	f.ModTime = fromMillis(modTime)
	f.FirstSeenAt = fromMillis(firstSeen)
	f.UpdatedAt = fromMillis(updated)
	return &f, nil
}
