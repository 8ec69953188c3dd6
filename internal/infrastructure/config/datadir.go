package config

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	// EnvDataDir 数据目录环境变量名
	EnvDataDir = "SHELFWATCH_DATA_DIR"
	// DefaultDataDirName 默认数据目录名
	DefaultDataDirName = ".shelfwatch"
	// DefaultDBFileName 默认 SQLite 数据库文件名
	DefaultDBFileName = "shelfwatch.db"
	// ScanMetadataFileName 扫描元数据文件名
	ScanMetadataFileName = "scan_metadata.json"
)

var (
	dataDirOnce sync.Once
	dataDirPath string
)

// GetDataDir 获取 shelfwatch 数据根目录
// 优先读取 SHELFWATCH_DATA_DIR 环境变量，默认 ~/.shelfwatch/
// 此函数是所有数据路径的唯一入口
func GetDataDir() string {
	dataDirOnce.Do(func() {
		if dir := os.Getenv(EnvDataDir); dir != "" {
			dataDirPath = dir
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				// 回退到当前目录
				dataDirPath = DefaultDataDirName
				return
			}
			dataDirPath = filepath.Join(homeDir, DefaultDataDirName)
		}
	})
	return dataDirPath
}

// GetDBPath 默认 SQLite 数据库路径
func GetDBPath() string {
	return filepath.Join(GetDataDir(), DefaultDBFileName)
}

// GetScanMetadataPath 扫描元数据路径
func GetScanMetadataPath() string {
	return filepath.Join(GetDataDir(), ScanMetadataFileName)
}

// ResetDataDir 重置数据目录缓存（仅用于测试）
func ResetDataDir() {
	dataDirOnce = sync.Once{}
	dataDirPath = ""
}
