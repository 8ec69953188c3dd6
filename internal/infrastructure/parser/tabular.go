// Package parser 将 CSV/TSV 数据文件解析为规范化行集
package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// ctxCheckInterval 每解析多少行检查一次取消
const ctxCheckInterval = 1000

// TabularParser 分隔符文本表格解析器
type TabularParser struct {
	name      string
	delimiter rune
	schema    dataset.Schema
	encoding  string
	logger    *slog.Logger
}

// NewTabularParser 创建解析器
func NewTabularParser(name string, delimiter rune, schema dataset.Schema, encoding string) *TabularParser {
	if encoding == "" {
		encoding = EncodingAuto
	}
	return &TabularParser{
		name:      name,
		delimiter: delimiter,
		schema:    schema,
		encoding:  encoding,
		logger:    log.NewModuleLogger("parser", name),
	}
}

// Name 解析器名称
func (p *TabularParser) Name() string {
	return p.name
}

// Parse 实现 dataset.Parser 接口
func (p *TabularParser) Parse(ctx context.Context, path string) (*dataset.RowSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rs, err := p.ParseBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	rs.SourcePath = path

	p.logger.Debug("File parsed",
		"path", path,
		"rows", len(rs.Rows),
		"skipped", rs.SkippedCount,
		"duplicates", rs.DuplicateRows,
	)
	return rs, nil
}

// ParseBytes 解析内存中的文件内容
// 返回的行集指纹对应传入的原始字节
func (p *TabularParser) ParseBytes(ctx context.Context, data []byte) (*dataset.RowSet, error) {
	rs := &dataset.RowSet{Fingerprint: dataset.FingerprintBytes(data)}

	text, err := decode(data, p.encoding)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(text, 0) >= 0 {
		return nil, fmt.Errorf("%w: binary content", dataset.ErrMalformedInput)
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = p.delimiter
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no header row", dataset.ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", dataset.ErrMalformedInput, err)
	}
	header, err = normalizeHeader(header)
	if err != nil {
		return nil, err
	}
	rs.Header = header

	if missing := p.schema.MissingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s",
			dataset.ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	plan := p.planColumns(header)
	byKey := make(map[string]int)

	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rs.AddSkip(pe.StartLine, pe.Err.Error())
				continue
			}
			return nil, fmt.Errorf("%w: %v", dataset.ErrMalformedInput, err)
		}
		line, _ := r.FieldPos(0)
		if len(record) != len(header) {
			rs.AddSkip(line, fmt.Sprintf("expected %d fields, got %d", len(header), len(record)))
			continue
		}

		row, reason := p.buildRow(line, record, header, plan)
		if row == nil {
			rs.AddSkip(line, reason)
			continue
		}

		// 同一文件内主键重复时后者覆盖前者
		if idx, dup := byKey[row.Key]; dup {
			rs.Rows[idx] = row
			rs.DuplicateRows++
			continue
		}
		byKey[row.Key] = len(rs.Rows)
		rs.Rows = append(rs.Rows, row)
	}

	if len(rs.Rows) == 0 {
		if rs.SkippedCount > 0 {
			return nil, fmt.Errorf("%w: no valid rows, %d skipped (first: line %d: %s)",
				dataset.ErrMalformedInput, rs.SkippedCount, rs.Skipped[0].Line, rs.Skipped[0].Reason)
		}
		return nil, fmt.Errorf("%w: no data rows", dataset.ErrEmptyInput)
	}
	return rs, nil
}

// columnPlan 每个表头列的处理方式
type columnPlan struct {
	declared bool
	column   dataset.Column
	key      bool
}

func (p *TabularParser) planColumns(header []string) []columnPlan {
	plan := make([]columnPlan, len(header))
	for i, name := range header {
		col, ok := p.schema.Lookup(name)
		plan[i] = columnPlan{
			declared: ok,
			column:   col,
			key:      p.schema.IsKey(name),
		}
	}
	return plan
}

// buildRow 转换一行，失败时返回原因
func (p *TabularParser) buildRow(line int, record, header []string, plan []columnPlan) (*dataset.Row, string) {
	row := &dataset.Row{
		Line:   line,
		Values: make(map[string]any, len(plan)),
	}
	for i, raw := range record {
		name := header[i]
		cp := plan[i]
		if !cp.declared {
			// 未声明的列作为不透明属性透传
			if row.Extra == nil {
				row.Extra = make(map[string]string)
			}
			row.Extra[name] = raw
			continue
		}
		v, err := coerce(raw, cp.column.Type)
		if err != nil {
			return nil, fmt.Sprintf("column %s: %v", name, err)
		}
		if v == nil && (cp.column.Required || cp.key) {
			return nil, fmt.Sprintf("column %s: required value is empty", name)
		}
		row.Values[name] = v
	}

	parts := make([]string, 0, len(p.schema.KeyColumns))
	for _, k := range p.schema.KeyColumns {
		parts = append(parts, keyPart(row.Values[dataset.Normalize(k)]))
	}
	row.Key = strings.Join(parts, "|")
	return row, ""
}

// normalizeHeader 去空白、转小写，空列名按位置命名
func normalizeHeader(header []string) ([]string, error) {
	out := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		name := dataset.Normalize(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", dataset.ErrMalformedInput, name)
		}
		seen[name] = struct{}{}
		out[i] = name
	}
	return out, nil
}
