package watcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ScanMetadata 扫描元数据管理
// 记录上次目录扫描时间，看板健康检查会展示该时间
type ScanMetadata struct {
	mu           sync.RWMutex
	lastScanTime time.Time
	filePath     string
}

// scanMetadataData 元数据文件结构
type scanMetadataData struct {
	LastScanTime time.Time `json:"last_scan_time"`
}

// NewScanMetadata 创建扫描元数据管理器
// filePath 为空时只保存在内存中
func NewScanMetadata(filePath string) *ScanMetadata {
	sm := &ScanMetadata{
		filePath: filePath,
	}

	// 从文件加载
	sm.load()

	return sm
}

// GetLastScanTime 获取上次扫描时间
func (sm *ScanMetadata) GetLastScanTime() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastScanTime
}

// SetLastScanTime 设置上次扫描时间
func (sm *ScanMetadata) SetLastScanTime(t time.Time) {
	sm.mu.Lock()
	sm.lastScanTime = t
	sm.mu.Unlock()

	// 持久化到文件
	sm.save()
}

// load 从文件加载元数据
func (sm *ScanMetadata) load() {
	if sm.filePath == "" {
		return
	}
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return // 文件不存在或无法读取，使用默认值
	}

	var metadata scanMetadataData
	if err := json.Unmarshal(data, &metadata); err != nil {
		return
	}

	sm.mu.Lock()
	sm.lastScanTime = metadata.LastScanTime
	sm.mu.Unlock()
}

// save 保存元数据到文件
func (sm *ScanMetadata) save() {
	if sm.filePath == "" {
		return
	}
	sm.mu.RLock()
	metadata := scanMetadataData{
		LastScanTime: sm.lastScanTime,
	}
	sm.mu.RUnlock()

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return
	}

	// 确保目录存在
	dir := filepath.Dir(sm.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}

	// 先写临时文件再重命名
	tmp := sm.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, sm.filePath)
}
