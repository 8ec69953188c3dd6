package archive

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// ProviderSet 归档基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideArchiver,
)

// ProvideArchiver 根据配置创建归档器，未启用时返回禁用的归档器
func ProvideArchiver(cfg *config.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return NewArchiver(nil, cfg.Prefix), nil
	}
	uploader, err := NewMinioUploader(cfg)
	if err != nil {
		return nil, err
	}
	return NewArchiver(uploader, cfg.Prefix), nil
}
