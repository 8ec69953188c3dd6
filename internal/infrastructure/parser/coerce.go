package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// 视为空值的单元格内容（不区分大小写）
var nullTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"null": {},
	"na":   {},
	"n/a":  {},
	"none": {},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// isNull 判断单元格是否为空值
func isNull(raw string) bool {
	_, ok := nullTokens[strings.ToLower(raw)]
	return ok
}

// coerce 按列类型转换单元格，空值返回 nil
func coerce(raw string, typ dataset.ColumnType) (any, error) {
	raw = strings.TrimSpace(raw)
	if typ == dataset.TypeString {
		if raw == "" || strings.EqualFold(raw, "nan") {
			return nil, nil
		}
		return raw, nil
	}
	if isNull(raw) {
		return nil, nil
	}

	switch typ {
	case dataset.TypeInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		// 导出工具常把整数列写成 "12.0"
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) ||
			f > math.MaxInt64 || f < math.MinInt64 {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return int64(f), nil

	case dataset.TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return f, nil

	case dataset.TypeBool:
		switch strings.ToLower(raw) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return b, nil

	case dataset.TypeTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("not a timestamp: %q", raw)
	}
	return nil, fmt.Errorf("unsupported column type %q", typ)
}

// keyPart 主键值的字符串形式
func keyPart(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
