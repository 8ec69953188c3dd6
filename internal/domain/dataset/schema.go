// Package dataset 定义表格数据集的规范化模型
// 包括列定义、规范化行以及解析器契约
package dataset

import "strings"

// ColumnType 列的声明类型
type ColumnType string

// 支持的列类型
const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeBool   ColumnType = "bool"
	TypeTime   ColumnType = "time"
)

// Valid 检查是否为支持的类型
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
		return true
	}
	return false
}

// Column 列定义
type Column struct {
	Name     string
	Type     ColumnType
	Required bool // 表头必须包含该列
}

// Schema 数据集结构声明
// 只声明需要类型转换的列，未声明的列作为不透明属性透传
type Schema struct {
	Columns    []Column
	KeyColumns []string // 业务主键列，按顺序拼接
}

// Normalize 规范化列名：去空白、转小写
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Lookup 按列名查找列定义
func (s *Schema) Lookup(name string) (Column, bool) {
	name = Normalize(name)
	for _, c := range s.Columns {
		if Normalize(c.Name) == name {
			return c, true
		}
	}
	return Column{}, false
}

// RequiredColumns 返回必需列（包含主键列）
func (s *Schema) RequiredColumns() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range s.KeyColumns {
		k = Normalize(k)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, c := range s.Columns {
		name := Normalize(c.Name)
		if !c.Required {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// MissingColumns 返回表头中缺失的必需列
func (s *Schema) MissingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[Normalize(h)] = struct{}{}
	}
	var missing []string
	for _, name := range s.RequiredColumns() {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsKey 判断列是否属于业务主键
func (s *Schema) IsKey(name string) bool {
	name = Normalize(name)
	for _, k := range s.KeyColumns {
		if Normalize(k) == name {
			return true
		}
	}
	return false
}

// RetailProductSchema 零售商品数据集的默认结构
func RetailProductSchema() Schema {
	return Schema{
		KeyColumns: []string{"product_id"},
		Columns: []Column{
			{Name: "product_id", Type: TypeInt, Required: true},
			{Name: "style_id", Type: TypeInt},
			{Name: "title", Type: TypeString, Required: true},
			{Name: "brand", Type: TypeString, Required: true},
			{Name: "price", Type: TypeFloat, Required: true},
			{Name: "mrp", Type: TypeFloat, Required: true},
			{Name: "discount_percent", Type: TypeFloat},
			{Name: "rating", Type: TypeFloat},
			{Name: "rating_total", Type: TypeInt},
			{Name: "img_primary", Type: TypeString},
			{Name: "img_count", Type: TypeInt},
		},
	}
}
