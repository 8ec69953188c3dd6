package parser

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// 支持的编码
const (
	EncodingAuto = "auto"
	EncodingUTF8 = "utf-8"
	EncodingGBK  = "gbk"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode 将原始字节转换为 UTF-8
// auto 模式下非 UTF-8 内容按 GBK 解码（Windows 中文系统导出的表格默认使用 GBK）
func decode(data []byte, encoding string) ([]byte, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	switch encoding {
	case EncodingGBK:
		return convertGBKToUTF8(data)
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: content is not valid UTF-8", dataset.ErrMalformedInput)
		}
		return data, nil
	}

	if utf8.Valid(data) {
		return data, nil
	}
	converted, err := convertGBKToUTF8(data)
	if err != nil || !utf8.Valid(converted) {
		return nil, fmt.Errorf("%w: content is neither UTF-8 nor GBK", dataset.ErrMalformedInput)
	}
	return converted, nil
}

// convertGBKToUTF8 将 GBK 编码的字节转换为 UTF-8
func convertGBKToUTF8(gbkBytes []byte) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(gbkBytes), simplifiedchinese.GBK.NewDecoder())
	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: decode gbk: %v", dataset.ErrMalformedInput, err)
	}
	return out, nil
}
