package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/splitlink/splitlink/internal/config"
)

// errCheckFailed is returned when any check fails so the exit code is non-zero.
var errCheckFailed = errors.New("auto-splitter is not usable")

type checkResult struct {
	Name   string
	OK     bool
	Detail string
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the configured auto-splitter can be launched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := runChecks(a.cfg)
			writeChecks(cmd.OutOrStdout(), results)
			for _, result := range results {
				if !result.OK {
					a.logger().Warn("check failed", "check", result.Name, "detail", result.Detail)
					return errCheckFailed
				}
			}
			return nil
		},
	}
}

func runChecks(cfg *config.Config) []checkResult {
	results := make([]checkResult, 0, 4)

	sources := "defaults only"
	if len(cfg.Sources) > 0 {
		sources = strings.Join(cfg.Sources, ", ")
	}
	results = append(results, checkResult{Name: "config", OK: true, Detail: sources})
	results = append(results, checkResult{Name: "segments", OK: cfg.Segments > 0, Detail: fmt.Sprintf("%d", cfg.Segments)})

	path := strings.TrimSpace(cfg.AutoSplit.Path)
	if path == "" {
		return append(results, checkResult{Name: "autosplit.path", OK: false, Detail: "not configured"})
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return append(results, checkResult{Name: "autosplit.path", OK: false, Detail: fmt.Sprintf("%s: %v", path, err)})
	case info.IsDir():
		return append(results, checkResult{Name: "autosplit.path", OK: false, Detail: path + " is a directory"})
	}
	results = append(results, checkResult{Name: "autosplit.path", OK: true, Detail: path})

	if runtime.GOOS != "windows" {
		executable := info.Mode().Perm()&0o111 != 0
		detail := info.Mode().Perm().String()
		results = append(results, checkResult{Name: "autosplit.executable", OK: executable, Detail: detail})
	}
	return results
}

func writeChecks(out io.Writer, results []checkResult) {
	for _, result := range results {
		status := "ok"
		if !result.OK {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%-4s  %-20s %s\n", status, result.Name, result.Detail)
	}
}
