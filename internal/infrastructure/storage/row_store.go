package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
)

// rowPageSize Each 每页读取的行数
const rowPageSize = 500

var rowColumns = []string{
	"source_path", "fingerprint", "business_key", "line", "values_json", "extra", "committed_at",
}

// rowStore 数据行存储实现
type rowStore struct {
	db         *sql.DB
	upsertStmt string
	now        func() time.Time
}

// 确保实现接口
var _ pipeline.RowStore = (*rowStore)(nil)

// NewRowStore 创建数据行存储实例
func NewRowStore(db *sql.DB, dialect Dialect) pipeline.RowStore {
	return &rowStore{
		db:         db,
		upsertStmt: upsertSQL(dialect, "dataset_rows", rowColumns, []string{"source_path", "fingerprint", "business_key"}),
		now:        time.Now,
	}
}

// encodedRow 序列化后的行
type encodedRow struct {
	line   int
	values string
	extra  []byte
}

// Upsert 在一个事务中提交某个指纹的全部行
// 同一路径下其他指纹的行被删除，本指纹下不再出现的主键也被删除
func (s *rowStore) Upsert(ctx context.Context, sourcePath, fingerprint string, rows []*dataset.Row) (*pipeline.CommitResult, error) {
	encoded := make(map[string]encodedRow, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		enc, err := encodeRow(row)
		if err != nil {
			return nil, err
		}
		if _, dup := encoded[row.Key]; !dup {
			order = append(order, row.Key)
		}
		encoded[row.Key] = enc
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &pipeline.CommitResult{SourcePath: sourcePath, Fingerprint: fingerprint}

	// 替换同一路径的旧版本
	res, err := tx.ExecContext(ctx,
		`DELETE FROM dataset_rows WHERE source_path = ? AND fingerprint <> ?`, sourcePath, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to remove superseded rows: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		result.Removed = int(n)
	}

	existing, err := loadExisting(ctx, tx, sourcePath, fingerprint)
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, s.upsertStmt)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	committedAt := s.now().UnixMilli()
	for _, key := range order {
		enc := encoded[key]
		old, ok := existing[key]
		delete(existing, key)
		if ok && old.line == enc.line && old.values == enc.values && bytes.Equal(old.extra, enc.extra) {
			result.Unchanged++
			continue
		}
		if _, err := stmt.ExecContext(ctx, sourcePath, fingerprint, key, enc.line, enc.values, enc.extra, committedAt); err != nil {
			return nil, fmt.Errorf("failed to upsert row %q: %w", key, err)
		}
		if ok {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	// 本次未出现的主键
	for key := range existing {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM dataset_rows WHERE source_path = ? AND fingerprint = ? AND business_key = ?`,
			sourcePath, fingerprint, key); err != nil {
			return nil, fmt.Errorf("failed to delete stale row %q: %w", key, err)
		}
		result.Removed++
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dataset_rows WHERE source_path = ? AND fingerprint = ?`,
		sourcePath, fingerprint).Scan(&result.Visible); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rows: %w", err)
	}
	return result, nil
}

// loadExisting 读取事务内某个指纹的已有行
func loadExisting(ctx context.Context, tx *sql.Tx, sourcePath, fingerprint string) (map[string]encodedRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT business_key, line, values_json, extra FROM dataset_rows WHERE source_path = ? AND fingerprint = ?`,
		sourcePath, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing rows: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]encodedRow)
	for rows.Next() {
		var key string
		var enc encodedRow
		if err := rows.Scan(&key, &enc.line, &enc.values, &enc.extra); err != nil {
			return nil, fmt.Errorf("failed to scan existing row: %w", err)
		}
		existing[key] = enc
	}
	return existing, rows.Err()
}

// Read 读取某个业务主键最近提交的行
func (s *rowStore) Read(ctx context.Context, key string) (*pipeline.StoredRow, error) {
	query := `
		SELECT source_path, fingerprint, business_key, line, values_json, extra, committed_at
		FROM dataset_rows
		WHERE business_key = ?
		ORDER BY committed_at DESC
		LIMIT 1`

	row, err := scanStoredRow(s.db.QueryRowContext(ctx, query, key).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read row: %w", err)
	}
	return row, nil
}

// Count 某个指纹的可见行数
func (s *rowStore) Count(ctx context.Context, sourcePath, fingerprint string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dataset_rows WHERE source_path = ? AND fingerprint = ?`,
		sourcePath, fingerprint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// Each 按行号分页遍历某个指纹的行
func (s *rowStore) Each(ctx context.Context, sourcePath, fingerprint string, fn func(*pipeline.StoredRow) error) error {
	query := `
		SELECT source_path, fingerprint, business_key, line, values_json, extra, committed_at
		FROM dataset_rows
		WHERE source_path = ? AND fingerprint = ? AND line > ?
		ORDER BY line
		LIMIT ?`

	lastLine := -1
	for {
		page, err := s.page(ctx, query, sourcePath, fingerprint, lastLine)
		if err != nil {
			return err
		}
		for _, row := range page {
			if err := fn(row); err != nil {
				return err
			}
			lastLine = row.Line
		}
		if len(page) < rowPageSize {
			return nil
		}
	}
}

func (s *rowStore) page(ctx context.Context, query, sourcePath, fingerprint string, afterLine int) ([]*pipeline.StoredRow, error) {
	rows, err := s.db.QueryContext(ctx, query, sourcePath, fingerprint, afterLine, rowPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	page := make([]*pipeline.StoredRow, 0, rowPageSize)
	for rows.Next() {
		row, err := scanStoredRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		page = append(page, row)
	}
	return page, rows.Err()
}

// encodeRow 值以 JSON 保存，额外列以 msgpack 保存；两者的键都有序，便于比较
func encodeRow(row *dataset.Row) (encodedRow, error) {
	values, err := json.Marshal(row.Values)
	if err != nil {
		return encodedRow{}, fmt.Errorf("failed to encode row %q: %w", row.Key, err)
	}

	var extra []byte
	if len(row.Extra) > 0 {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(row.Extra); err != nil {
			return encodedRow{}, fmt.Errorf("failed to encode extras %q: %w", row.Key, err)
		}
		extra = buf.Bytes()
	}
	return encodedRow{line: row.Line, values: string(values), extra: extra}, nil
}

// scanStoredRow 扫描 dataset_rows 的一行
func scanStoredRow(scan func(dest ...any) error) (*pipeline.StoredRow, error) {
	var row pipeline.StoredRow
	var values string
	var extra []byte
	var committed int64
	if err := scan(
		&row.SourcePath,
		&row.Fingerprint,
		&row.Key,
		&row.Line,
		&values,
		&extra,
		&committed,
	); err != nil {
		return nil, err
	}
	row.CommittedAt = fromMillis(committed)

	decoded, err := decodeValues(values)
	if err != nil {
		return nil, err
	}
	row.Values = decoded

	if len(extra) > 0 {
		if err := msgpack.Unmarshal(extra, &row.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode extras: %w", err)
		}
	}
	return &row, nil
}

// decodeValues 整数还原为 int64，其余数字为 float64
func decodeValues(data string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode values: %w", err)
	}
	for k, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			values[k] = i
		} else if f, err := n.Float64(); err == nil {
			values[k] = f
		}
	}
	return values, nil
}
