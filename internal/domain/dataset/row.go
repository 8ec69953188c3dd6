package dataset

import (
	"context"
	"errors"
)

// 解析失败分类
var (
	// ErrMalformedInput 文件结构无法解析
	ErrMalformedInput = errors.New("malformed input")
	// ErrSchemaMismatch 缺少必需列
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrEmptyInput 没有任何有效数据行
	ErrEmptyInput = errors.New("empty input")
)

// Row 规范化后的一行数据
type Row struct {
	Line   int               // 源文件中的行号（表头为第 1 行）
	Key    string            // 业务主键
	Values map[string]any    // 已声明列的类型化值，nil 表示空值
	Extra  map[string]string // 未声明列，原样透传
}

// SkippedRow 被跳过的行
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// RowSet 解析结果
type RowSet struct {
	SourcePath    string
	Fingerprint   string // 实际读取内容的指纹
	Header        []string
	Rows          []*Row
	Skipped       []SkippedRow // 只保留前若干条明细
	SkippedCount  int
	DuplicateRows int // 同一文件内主键重复，后者覆盖前者
}

// MaxSkipDetails 保留的跳过明细上限
const MaxSkipDetails = 50

// AddSkip 记录一条被跳过的行
func (rs *RowSet) AddSkip(line int, reason string) {
	rs.SkippedCount++
	if len(rs.Skipped) < MaxSkipDetails {
		rs.Skipped = append(rs.Skipped, SkippedRow{Line: line, Reason: reason})
	}
}

// Parser 数据集解析器
type Parser interface {
	// Parse 读取文件并返回规范化行集
	// 失败时返回的错误匹配 ErrMalformedInput / ErrSchemaMismatch / ErrEmptyInput，
	// 其余错误视为瞬时 I/O 错误
	Parse(ctx context.Context, path string) (*RowSet, error)
}
