// Package insight 定义洞察生成能力的边界
// 流水线只依赖 Generator 接口，不关心洞察如何产生
package insight

import (
	"context"
	"encoding/json"
)

// Row 洞察生成可见的一行
type Row struct {
	Key    string
	Values map[string]any
	Extra  map[string]string
}

// RowsView 一条摄取记录已提交行的只读视图
type RowsView interface {
	SourcePath() string
	Fingerprint() string
	Len() int
	// Each 按源文件顺序遍历，fn 返回错误时停止
	Each(ctx context.Context, fn func(Row) error) error
}

// Result 洞察生成结果
type Result struct {
	Summary string
	Payload json.RawMessage
}

// Generator 洞察生成能力
type Generator interface {
	Generate(ctx context.Context, view RowsView) (*Result, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, view RowsView) (*Result, error)

// Generate 调用函数本身
func (f GeneratorFunc) Generate(ctx context.Context, view RowsView) (*Result, error) {
	return f(ctx, view)
}

// SliceView 基于内存切片的视图
type SliceView struct {
	Path string
	FP   string
	Rows []Row
}

// SourcePath 源文件路径
func (v *SliceView) SourcePath() string { return v.Path }

// Fingerprint 内容指纹
func (v *SliceView) Fingerprint() string { return v.FP }

// Len 行数
func (v *SliceView) Len() int { return len(v.Rows) }

// Each 遍历
func (v *SliceView) Each(ctx context.Context, fn func(Row) error) error {
	for _, r := range v.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
