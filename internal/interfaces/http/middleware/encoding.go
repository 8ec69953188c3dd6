package middleware

import (
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// EnsureUTF8Query 确保查询参数是 UTF-8 编码的中间件
// 在 Windows 下使用 curl 查询中文文件路径时，参数可能以 GBK 编码发送
func EnsureUTF8Query() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.RawQuery == "" {
			c.Next()
			return
		}

		values := c.Request.URL.Query()
		changed := false
		for key, vs := range values {
			for i, v := range vs {
				if utf8.ValidString(v) {
					continue
				}
				converted, err := convertGBKToUTF8([]byte(v))
				if err != nil || !utf8.Valid(converted) {
					// 转换失败，保留原始数据
					continue
				}
				values[key][i] = string(converted)
				changed = true
			}
		}
		if changed {
			c.Request.URL.RawQuery = values.Encode()
		}

		c.Next()
	}
}

// convertGBKToUTF8 将 GBK 编码的字节转换为 UTF-8
func convertGBKToUTF8(gbkBytes []byte) ([]byte, error) {
	reader := transform.NewReader(bytes.NewReader(gbkBytes), simplifiedchinese.GBK.NewDecoder())
	return io.ReadAll(reader)
}
