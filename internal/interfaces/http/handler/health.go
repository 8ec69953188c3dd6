package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfwatch/backend/internal/interfaces/http/response"
)

// ScanClock 提供最近一次目录扫描时间
type ScanClock interface {
	LastScanTime() time.Time
}

// ActivityCounter 提供正在处理的路径数
type ActivityCounter interface {
	Active() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	scans    ScanClock
	activity ActivityCounter
	started  time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(scans ScanClock, activity ActivityCounter) *HealthHandler {
	return &HealthHandler{scans: scans, activity: activity, started: time.Now()}
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastScanAt    time.Time `json:"last_scan_at,omitzero"`
	ActiveRecords int       `json:"active_records"`
}

// Health 存活检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	status := &HealthStatus{Status: "ok", StartedAt: h.started}
	if h.scans != nil {
		status.LastScanAt = h.scans.LastScanTime()
	}
	if h.activity != nil {
		status.ActiveRecords = h.activity.Active()
	}
	response.Success(c, status)
}
