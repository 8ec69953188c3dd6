package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// 确保 Registry 实现了 dataset.Parser 接口
var _ dataset.Parser = (*Registry)(nil)

// Registry 按扩展名选择解析器
type Registry struct {
	parsers map[string]*TabularParser
}

// NewRegistry 创建解析器注册表
// delimiter 非空时对所有扩展名生效，否则 .tsv 使用制表符，其他使用逗号
func NewRegistry(schema dataset.Schema, extensions []string, delimiter string, encoding string) *Registry {
	r := &Registry{parsers: make(map[string]*TabularParser)}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		comma := ','
		if ext == ".tsv" || ext == ".tab" {
			comma = '\t'
		}
		if delimiter != "" {
			comma = []rune(delimiter)[0]
		}
		r.Register(ext, NewTabularParser(strings.TrimPrefix(ext, "."), comma, schema, encoding))
	}
	return r
}

// ProvideRegistry 根据配置创建注册表
func ProvideRegistry(watch *config.WatchConfig, ds *config.DatasetConfig) *Registry {
	return NewRegistry(ds.Schema(), watch.Extensions, ds.Delimiter, ds.Encoding)
}

// Register 注册扩展名对应的解析器
func (r *Registry) Register(ext string, p *TabularParser) {
	r.parsers[strings.ToLower(ext)] = p
}

// FindParser 按扩展名查找解析器
func (r *Registry) FindParser(path string) (*TabularParser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: no parser for extension %q", dataset.ErrMalformedInput, ext)
	}
	return p, nil
}

// Parse 实现 dataset.Parser 接口
func (r *Registry) Parse(ctx context.Context, path string) (*dataset.RowSet, error) {
	p, err := r.FindParser(path)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, path)
}
