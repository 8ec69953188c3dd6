package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

func TestWriteEvents(t *testing.T) {
	stream := make(chan *events.FileReadyEvent, 2)
	stream <- &events.FileReadyEvent{Path: "/data/a.csv", Fingerprint: "fa", Size: 3}
	stream <- &events.FileReadyEvent{Path: "/data/b.csv", Fingerprint: "fb", Size: 4}
	close(stream)

	var buf bytes.Buffer
	require.NoError(t, writeEvents(&buf, stream))

	sc := bufio.NewScanner(&buf)
	var got []events.FileReadyEvent
	for sc.Scan() {
		var ev events.FileReadyEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "/data/a.csv", got[0].Path)
	assert.Equal(t, "fb", got[1].Fingerprint)
}

func TestRunWatcher_UnreadableDir(t *testing.T) {
	t.Setenv(config.EnvDataDir, t.TempDir())
	config.ResetDataDir()
	defer config.ResetDataDir()

	wc := &config.WatchConfig{
		Dir:                 filepath.Join(t.TempDir(), "missing"),
		Extensions:          []string{".csv"},
		SettleWindowSeconds: 0.05,
	}
	err := runWatcher(context.Background(), wc, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunWatcher_EmitsExistingFiles(t *testing.T) {
	t.Setenv(config.EnvDataDir, t.TempDir())
	config.ResetDataDir()
	defer config.ResetDataDir()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.csv"), []byte("product_id\n1\n"), 0644))

	wc := &config.WatchConfig{Dir: dir, Extensions: []string{".csv"}, SettleWindowSeconds: 0.05}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runWatcher(ctx, wc, &buf))
	assert.Contains(t, buf.String(), "products.csv")
}

func TestRootCmd_RelativeDirEmitsAbsolutePaths(t *testing.T) {
	root := t.TempDir()
	t.Setenv(config.EnvDataDir, filepath.Join(root, "state"))
	config.ResetDataDir()
	defer config.ResetDataDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.Mkdir("data", 0755))
	require.NoError(t, os.WriteFile(filepath.Join("data", "a.csv"), []byte("product_id\n1\n"), 0644))
	cfgPath := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("watch:\n  settle_window_seconds: 0.05\n"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--dir", "data"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	sc := bufio.NewScanner(&out)
	require.True(t, sc.Scan(), "expected at least one event")
	var ev events.FileReadyEvent
	require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
	assert.True(t, filepath.IsAbs(ev.Path), "event path %q must be absolute", ev.Path)
	assert.Equal(t, filepath.Join("data", "a.csv"), filepath.Join(filepath.Base(filepath.Dir(ev.Path)), filepath.Base(ev.Path)))
}
