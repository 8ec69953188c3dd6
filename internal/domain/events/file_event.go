package events

import "time"

// FileReadyEvent 文件就绪事件
// 监听目录下的数据文件在静默窗口内没有新的写入后发出，
// 指纹在窗口关闭后计算，用于区分真实内容变化和仅修改时间的 touch
type FileReadyEvent struct {
	// Path 文件绝对路径
	Path string `json:"path"`
	// Fingerprint 文件内容指纹（sha256 十六进制）
	Fingerprint string `json:"fingerprint"`
	// Size 文件大小（字节）
	Size int64 `json:"size"`
	// ModTime 文件最后修改时间
	ModTime time.Time `json:"mod_time"`
	// EventTime 事件发出时间
	EventTime time.Time `json:"event_time"`
}

// Type 实现 Event 接口
func (e *FileReadyEvent) Type() EventType {
	return FileReady
}

// Timestamp 实现 Event 接口
func (e *FileReadyEvent) Timestamp() time.Time {
	return e.EventTime
}
