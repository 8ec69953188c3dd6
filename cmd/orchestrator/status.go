package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/wire"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest state of every known file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			files, cleanup, err := wire.InitializeFileRepository(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			statuses, err := files.ListStatus()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), statuses)
		},
	}
}

// printStatus 以表格输出每个文件的最新状态
func printStatus(out io.Writer, statuses []*pipeline.FileStatus) error {
	if len(statuses) == 0 {
		_, err := fmt.Fprintln(out, "No files ingested yet.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSTATE\tROWS\tFINGERPRINT\tLAST FAILURE")
	for _, s := range statuses {
		state := string(s.State)
		if state == "" {
			state = "-"
		}
		failure := "-"
		if s.FailureKind != pipeline.FailureNone {
			failure = fmt.Sprintf("%s: %s", s.FailureKind, s.FailureReason)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.Path, state, s.RowCount, shortFingerprint(s.LastDoneFingerprint), failure)
	}
	return tw.Flush()
}

func shortFingerprint(fp string) string {
	if fp == "" {
		return "-"
	}
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
