package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	appPipeline "github.com/shelfwatch/backend/internal/application/pipeline"
	"github.com/shelfwatch/backend/internal/domain/dataset"
	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/wire"
)

// ErrRecordsFailed 至少一条记录以失败结束
var ErrRecordsFailed = errors.New("one or more records failed")

func newSubmitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file>...",
		Short: "Ingest the given files and wait for the outcome",
		Args:  cobra.MinimumNArgs(1),
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

			return submitFiles(cmd.Context(), rt, args, cmd.OutOrStdout())
		},
	}
}

// submitFiles 计算指纹并提交，等待全部记录结束后输出结果
func submitFiles(ctx context.Context, rt *wire.Runtime, paths []string, out io.Writer) error {
	var submitted []*events.FileReadyEvent
	outcomes := make(map[*events.FileReadyEvent]appPipeline.SubmitOutcome)
	for _, p := range paths {
		ev, err := snapshot(p)
		if err != nil {
			return err
		}
		res, err := rt.Coordinator.Submit(ev)
		if err != nil {
			return fmt.Errorf("submit %s: %w", p, err)
		}
		submitted = append(submitted, ev)
		outcomes[ev] = res.Outcome
	}

	if err := rt.Coordinator.WaitIdle(ctx); err != nil {
		return err
	}

	failed := false
	for _, ev := range submitted {
		rec, err := rt.Records.FindByFingerprint(ev.Path, ev.Fingerprint)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintf(out, "%s\tunknown\n", ev.Path)
			continue
		}
		if rec.State == pipeline.StateFailed {
			failed = true
		}
		line := formatRecord(rec)
		if outcomes[ev] == appPipeline.OutcomeDuplicate {
			line += "\t(already processed)"
		}
		fmt.Fprintln(out, line)
	}
	if failed {
		return ErrRecordsFailed
	}
	return nil
}

// snapshot 读取文件当前内容的指纹
func snapshot(path string) (*events.FileReadyEvent, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	fp, err := dataset.FingerprintFile(abs)
	if err != nil {
		return nil, err
	}
	return &events.FileReadyEvent{
		Path:        abs,
		Fingerprint: fp,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		EventTime:   info.ModTime(),
	}, nil
}

func formatRecord(rec *pipeline.ProcessingRecord) string {
	line := fmt.Sprintf("%s\t%s\trows=%d skipped=%d", rec.SourcePath, rec.State, rec.RowsWritten, rec.SkippedRows)
	if rec.FailureKind != pipeline.FailureNone {
		line += fmt.Sprintf("\t%s: %s", rec.FailureKind, rec.FailureReason)
	}
	return line
}
