// Package events 定义领域事件类型和接口
// 用于监听器、协调器、派发器之间的事件驱动通信
package events

import "time"

// EventType 事件类型标识
type EventType string

// 文件相关事件类型
const (
	// FileReady 文件在静默窗口结束后已稳定，可被读取
	FileReady EventType = "file.ready"
)

// 流水线状态事件类型
const (
	// RecordStateChanged 处理记录状态变化事件
	RecordStateChanged EventType = "record.state_changed"
	// InsightJobFinished 洞察任务到达终态事件
	InsightJobFinished EventType = "insight.job_finished"
)

// Event 领域事件接口
// 所有事件类型都必须实现此接口
type Event interface {
	// Type 返回事件类型
	Type() EventType
	// Timestamp 返回事件发生时间
	Timestamp() time.Time
}
