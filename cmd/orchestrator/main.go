// orchestrator 摄取流水线编排进程
// run 在单个进程内运行监听、协调器、洞察派发和看板；
// ingest / submit / status 用于组合管道和手工操作
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfwatch/backend/internal/infrastructure/config"
	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
)

// Version 构建时通过 ldflags 设置
var Version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Shelfwatch ingestion orchestrator",
		Long:          "Detects dataset files, loads them into the store and generates insights for each committed dataset.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(cmd, configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default $SHELFWATCH_CONFIG or <datadir>/config.yaml)")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newIngestCmd(&configPath))
	cmd.AddCommand(newSubmitCmd(&configPath))
	cmd.AddCommand(newStatusCmd(&configPath))
	return cmd
}

// loadConfig 加载配置，无效配置为启动期致命错误
func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		applog.GetLogger().Error("Orchestrator failed", "error", err)
		return 1
	}
	return 0
}

func main() {
	applog.Init(nil)
	defer applog.Close()

	os.Exit(execute(newRootCmd()))
}
