package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/infrastructure/singleton"
	"github.com/shelfwatch/backend/internal/wire"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch, ingest and serve the dashboard API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(cmd, *configPath)
		},
	}
}

func runOrchestrator(cmd *cobra.Command, configPath string) error {
	logger := applog.NewModuleLogger("cmd", "orchestrator")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// 单例锁检查：同一端口只允许一个编排进程
	listener, err := singleton.CheckAndLock(cfg.Server.HTTPPort)
	if err != nil {
		return fmt.Errorf("singleton lock: %w", err)
	}

	// Wire 生成的初始化函数
	app, cleanup, err := wire.InitializeApp(cfg)
	if err != nil {
		listener.Close()
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	if err := app.Start(listener); err != nil {
		_ = app.Stop()
		return fmt.Errorf("start application: %w", err)
	}

	// 优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down application...", "signal", sig.String())
	case runErr = <-app.ServeErr():
	}

	if err := app.Stop(); err != nil {
		logger.Error("Error during application shutdown",
			"error", err,
		)
	}
	logger.Info("Application stopped")
	return runErr
}
