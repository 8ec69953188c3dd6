package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务错误码
const (
	CodeInvalidParam  = 700001
	CodeNotFound      = 700002
	CodeStoreError    = 700003
	CodeNotConfigured = 700004
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, message string) {
	c.JSON(httpCode, ErrorResponse{
		Code:    errCode,
		Message: message,
	})
}

// ErrorWithDetail 带详情的错误响应
func ErrorWithDetail(c *gin.Context, httpCode int, errCode int, message, detail string) {
	c.JSON(httpCode, ErrorResponse{
		Code:    errCode,
		Message: message,
		Detail:  detail,
	})
}

// NotFound 资源不存在
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, err error) {
	ErrorWithDetail(c, http.StatusBadRequest, CodeInvalidParam, "invalid parameter", err.Error())
}

// StoreError 存储读取失败
func StoreError(c *gin.Context, err error) {
	ErrorWithDetail(c, http.StatusInternalServerError, CodeStoreError, "store unavailable", err.Error())
}
