package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDataDir_DefaultsToHome(t *testing.T) {
	ResetDataDir()
	defer ResetDataDir()
	os.Unsetenv(EnvDataDir)

	homeDir, err := os.UserHomeDir()
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(homeDir, DefaultDataDirName), GetDataDir())
}

func TestDataPaths_FollowEnvOverride(t *testing.T) {
	ResetDataDir()
	defer ResetDataDir()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	assert.Equal(t, dir, GetDataDir())
	assert.Equal(t, filepath.Join(dir, "shelfwatch.db"), GetDBPath())
	assert.Equal(t, filepath.Join(dir, "scan_metadata.json"), GetScanMetadataPath())
}

func TestGetDataDir_CachedUntilReset(t *testing.T) {
	ResetDataDir()
	defer ResetDataDir()
	t.Setenv(EnvDataDir, "/srv/shelfwatch-a")
	assert.Equal(t, "/srv/shelfwatch-a", GetDataDir())

	// 环境变量变化不影响已缓存的目录
	t.Setenv(EnvDataDir, "/srv/shelfwatch-b")
	assert.Equal(t, "/srv/shelfwatch-a", GetDataDir())

	ResetDataDir()
	assert.Equal(t, "/srv/shelfwatch-b", GetDataDir())
}
