package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestEnsureUTF8Query_ConvertsGBK(t *testing.T) {
	router := gin.New()
	router.Use(EnsureUTF8Query())
	router.GET("/q", func(c *gin.Context) {
		c.String(http.StatusOK, c.Query("path"))
	})

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("/数据/商品.csv")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/q?path="+url.QueryEscape(gbk), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "/数据/商品.csv", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/q?path="+url.QueryEscape("/数据/a.csv"), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "/数据/a.csv", w.Body.String(), "UTF-8 参数保持不变")
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/id", nil))
	assert.NotEmpty(t, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
