package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelfwatch/backend/internal/domain/events"
	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/wire"
)

// maxEventLine 单行事件的最大长度
const maxEventLine = 1 << 20

func newIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Consume NDJSON file-ready events from stdin",
		Long:  "Reads file-ready events (one JSON object per line, as written by the watcher) from stdin and drives each through the pipeline. Exits when stdin closes and all records are terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			rt, cleanup, err := wire.InitializeRuntime(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := rt.Start(); err != nil {
				rt.Stop()
				return err
			}
			defer rt.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream := make(chan *events.FileReadyEvent)
			go decodeEvents(ctx, cmd.InOrStdin(), stream, applog.NewModuleLogger("cmd", "ingest"))
			rt.Coordinator.Consume(ctx, stream)

			if err := rt.Coordinator.WaitIdle(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// decodeEvents 逐行解析事件，无效行记录后跳过；输入结束时关闭 out
func decodeEvents(ctx context.Context, r io.Reader, out chan<- *events.FileReadyEvent, logger *slog.Logger) {
	defer close(out)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventLine)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev events.FileReadyEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.Path == "" || ev.Fingerprint == "" {
			logger.Warn("Invalid event line skipped", "line", line, "error", err)
			continue
		}
		select {
		case out <- &ev:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error("Failed to read events", "error", err)
	}
}
