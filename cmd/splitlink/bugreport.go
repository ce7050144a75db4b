package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const bugreportLogLimit = 3

var (
	bugreportNowFn = func() time.Time {
		return time.Now().UTC()
	}
	bugreportHomeDirFn = os.UserHomeDir
	bugreportGetwdFn   = os.Getwd
)

// bugreportInput is what the running config knows about where artifacts live.
type bugreportInput struct {
	LogDir        string
	ConfigSources []string
	Checks        []checkResult
}

func newBugreportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect logs, config and checks into a diagnostic bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger().With("command", "bugreport").Info("collecting diagnostic bundle")
			return runBugReport(cmd.Context(), cmd.OutOrStdout(), bugreportInput{
				LogDir:        a.cfg.LogDir,
				ConfigSources: a.cfg.Sources,
				Checks:        runChecks(a.cfg),
			})
		},
	}
}

func runBugReport(ctx context.Context, out io.Writer, in bugreportInput) error {
	logDir := strings.TrimSpace(in.LogDir)
	if logDir == "" {
		homeDir, err := bugreportHomeDirFn()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		logDir = filepath.Join(homeDir, ".splitlink", "logs")
	}

	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	cwd = filepath.Clean(cwd)

	timestamp := bugreportNowFn().Format("20060102-150405")
	bundlePath := filepath.Join(cwd, fmt.Sprintf(".splitlink-bugreport-%s.tar.gz", timestamp))

	stagingDir, err := os.MkdirTemp("", "splitlink-bugreport-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stagingDir) }()

	summary, err := collectBugreportArtifacts(logDir, stagingDir, in)
	if err != nil {
		return err
	}
	if err := writeBugreportREADME(stagingDir, summary); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("collect bugreport: %w", err)
	}
	if err := archiveBugreport(stagingDir, bundlePath); err != nil {
		return err
	}

	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintf(out, "Bug report written to: %s. Share for debugging.\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

type bugreportSummary struct {
	Timestamp   string
	Version     string
	LogFiles    []string
	ConfigFiles []string
	SessionID   string
	ProcessID   string
	Warnings    []string
}

func collectBugreportArtifacts(logDir, stagingDir string, in bugreportInput) (bugreportSummary, error) {
	summary := bugreportSummary{
		Timestamp: bugreportNowFn().Format(time.RFC3339),
		Version:   Version,
		Warnings:  make([]string, 0),
	}

	logFiles, warnings := copyRecentLogs(logDir, stagingDir, bugreportLogLimit)
	summary.LogFiles = logFiles
	summary.Warnings = append(summary.Warnings, warnings...)

	summary.SessionID, summary.ProcessID = extractLastCorrelation(logFiles)
	if summary.SessionID == "" {
		summary.Warnings = append(summary.Warnings, "no session_id found in copied logs")
	}

	if err := writeStagedFile(stagingDir, "last-session.txt",
		fmt.Sprintf("session_id: %s\nprocess_id: %s\n", summary.SessionID, summary.ProcessID)); err != nil {
		return bugreportSummary{}, err
	}
	if err := writeStagedFile(stagingDir, "version.txt",
		fmt.Sprintf("splitlink version: %s\ngo: %s\nplatform: %s/%s\n",
			strings.TrimSpace(summary.Version), runtime.Version(), runtime.GOOS, runtime.GOARCH)); err != nil {
		return bugreportSummary{}, err
	}
	if err := copyRedactedConfigs(in.ConfigSources, stagingDir, &summary); err != nil {
		return bugreportSummary{}, err
	}

	var checks bytes.Buffer
	writeChecks(&checks, in.Checks)
	if err := writeStagedFile(stagingDir, "check.txt", checks.String()); err != nil {
		return bugreportSummary{}, err
	}
	return summary, nil
}

func copyRecentLogs(logsDir, stagingDir string, limit int) ([]string, []string) {
	files, err := newestFiles(logsDir, limit)
	if err != nil {
		return nil, []string{fmt.Sprintf("unable to read logs directory: %v", err)}
	}

	destDir := filepath.Join(stagingDir, "logs")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, []string{fmt.Sprintf("unable to create logs staging directory: %v", err)}
	}

	warnings := make([]string, 0)
	copied := make([]string, 0, len(files))
	for _, file := range files {
		// #nosec G304 -- source path comes from enumerating the configured log directory.
		data, readErr := os.ReadFile(file.path)
		if readErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read log %s: %v", file.path, readErr))
			continue
		}
		if writeErr := os.WriteFile(filepath.Join(destDir, filepath.Base(file.path)), data, 0o600); writeErr != nil {
			warnings = append(warnings, fmt.Sprintf("unable to stage log %s: %v", file.path, writeErr))
			continue
		}
		copied = append(copied, file.path)
	}
	return copied, warnings
}

// extractLastCorrelation returns the newest session_id and process_id seen,
// scanning files newest first and records last to first.
func extractLastCorrelation(logPaths []string) (sessionID, processID string) {
	for _, logPath := range logPaths {
		// #nosec G304 -- log paths are selected from the configured log directory.
		data, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			record := map[string]any{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(lines[i])), &record); err != nil {
				continue
			}
			if sessionID == "" {
				sessionID = asString(record["session_id"])
			}
			if processID == "" {
				processID = asString(record["process_id"])
			}
			if sessionID != "" && processID != "" {
				return sessionID, processID
			}
		}
		if sessionID != "" {
			return sessionID, processID
		}
	}
	return sessionID, processID
}

func copyRedactedConfigs(sources []string, stagingDir string, summary *bugreportSummary) error {
	destDir := filepath.Join(stagingDir, "config")
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create config staging directory: %w", err)
	}
	if len(sources) == 0 {
		summary.Warnings = append(summary.Warnings, "no config files loaded; defaults in effect")
		return writeStagedFile(destDir, "none.toml", "# no config files loaded\n")
	}
	for i, source := range sources {
		// #nosec G304 -- sources are the config files this invocation loaded.
		data, err := os.ReadFile(source)
		if err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("unable to read config %s: %v", source, err))
			data = []byte("# config unavailable\n")
		}
		name := fmt.Sprintf("%d-%s", i+1, filepath.Base(source))
		if err := writeStagedFile(destDir, name, redactSensitiveConfig(string(data))); err != nil {
			return err
		}
		summary.ConfigFiles = append(summary.ConfigFiles, source)
	}
	return nil
}

// redactSensitiveConfig masks values whose key looks like a credential. It
// handles both "key = value" and "key: value" lines.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		separator := ":"
		if strings.Contains(line, "=") && (!strings.Contains(line, ":") || strings.Index(line, "=") < strings.Index(line, ":")) {
			separator = "="
		}
		parts := strings.SplitN(line, separator, 2)
		if len(parts) != 2 {
			continue
		}
		if !isSensitiveKey(strings.ToLower(strings.TrimSpace(parts[0]))) {
			continue
		}
		lines[i] = parts[0] + separator + " ***REDACTED***"
	}
	return strings.Join(lines, "\n")
}

func isSensitiveKey(key string) bool {
	for _, candidate := range []string{"token", "password", "passwd", "secret", "api_key", "apikey", "api-key", "auth", "bearer", "header"} {
		if strings.Contains(key, candidate) {
			return true
		}
	}
	return false
}

func writeBugreportREADME(stagingDir string, summary bugreportSummary) error {
	builder := strings.Builder{}
	builder.WriteString("splitlink Bug Report\n")
	builder.WriteString("====================\n\n")
	builder.WriteString(fmt.Sprintf("Generated: %s\n", summary.Timestamp))
	builder.WriteString(fmt.Sprintf("Version: %s\n", summary.Version))
	builder.WriteString(fmt.Sprintf("session_id: %s\n", summary.SessionID))
	builder.WriteString(fmt.Sprintf("process_id: %s\n\n", summary.ProcessID))
	builder.WriteString("Included artifacts:\n")
	builder.WriteString(fmt.Sprintf("- logs/ (up to last %d log files)\n", bugreportLogLimit))
	builder.WriteString("- config/ (loaded config files, redacted)\n")
	builder.WriteString("- check.txt\n")
	builder.WriteString("- version.txt\n")
	builder.WriteString("- last-session.txt\n")
	if len(summary.Warnings) > 0 {
		builder.WriteString("\nWarnings:\n")
		for _, warning := range summary.Warnings {
			builder.WriteString("- " + warning + "\n")
		}
	}
	return writeStagedFile(stagingDir, "README.txt", builder.String())
}

func writeStagedFile(dir, name, content string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func archiveBugreport(stagingDir, destination string) (err error) {
	// #nosec G304 -- destination is generated in the working directory with a fixed name pattern.
	archiveFile, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destination, err)
	}
	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)
	defer func() {
		for _, closer := range []io.Closer{tarWriter, gzipWriter, archiveFile} {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("finalize archive %s: %w", destination, closeErr)
			}
		}
	}()

	walkErr := filepath.WalkDir(stagingDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read file info for %s: %w", path, err)
		}
		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return fmt.Errorf("compute archive path for %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("create tar header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar header for %s: %w", path, err)
		}

		// #nosec G304 -- walk paths originate from the staging directory.
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s for archive: %w", path, err)
		}
		if _, err := tarWriter.Write(data); err != nil {
			return fmt.Errorf("copy %s into archive: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("archive bugreport: %w", walkErr)
	}
	return nil
}

type datedFile struct {
	path    string
	modTime time.Time
}

func newestFiles(dir string, limit int) ([]datedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]datedFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, datedFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func asString(value any) string {
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return ""
}
