// watcher 监听数据目录，把文件就绪事件以 NDJSON 写到标准输出
// 日志写到标准错误，便于 `watcher | orchestrator ingest` 组合使用
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/infrastructure/watcher"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dir        string
	)

	cmd := &cobra.Command{
		Use:           "watcher",
		Short:         "Watch a directory and stream file-ready events as NDJSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dir != "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				cfg.Watch.Dir = abs
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatcher(ctx, &cfg.Watch, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to watch (overrides config)")
	return cmd
}

// runWatcher 启动监听并输出事件，直到 ctx 取消
func runWatcher(ctx context.Context, wc *config.WatchConfig, out io.Writer) error {
	logger := applog.NewModuleLogger("cmd", "watcher")

	fw, cleanup, err := watcher.ProvideFileWatcher(wc, watcher.ProvideScanMetadata())
	if err != nil {
		return err
	}
	defer cleanup()
	if err := fw.Start(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		fw.Stop()
	}()

	if err := writeEvents(out, fw.Events()); err != nil {
		return err
	}
	logger.Info("Watcher exited")
	return nil
}

// writeEvents 每个事件一行 JSON，直到事件流关闭
func writeEvents(out io.Writer, stream <-chan *events.FileReadyEvent) error {
	enc := json.NewEncoder(out)
	for ev := range stream {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		applog.GetLogger().Error("Watcher failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	// 标准输出只留给事件
	applog.Init(applog.NewStderrConfigFromEnv())
	defer applog.Close()

	os.Exit(execute(newRootCmd()))
}
