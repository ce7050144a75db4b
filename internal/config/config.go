package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/splitlink/splitlink/internal/logging"
)

const (
	defaultSegments = 10
	defaultLogLevel = "info"

	dirName  = ".splitlink"
	fileName = "config.toml"
)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	AutoSplit    AutoSplitConfig
	Segments     int
	LogLevel     string
	LogDir       string
	OTELEndpoint string

	// Sources lists the files that contributed, in overlay order.
	Sources []string
}

// AutoSplitConfig is the auto-splitter integration section.
type AutoSplitConfig struct {
	Path            string
	Args            []string
	GameTimePausing bool
}

type fileConfig struct {
	AutoSplit *autoSplitFileConfig `toml:"autosplit"`
	Timer     *timerFileConfig     `toml:"timer"`
	Log       *logFileConfig       `toml:"log"`
	OTEL      *otelFileConfig      `toml:"otel"`
}

type autoSplitFileConfig struct {
	Path            *string   `toml:"path"`
	Args            *[]string `toml:"args"`
	GameTimePausing *bool     `toml:"game_time_pausing"`
}

type timerFileConfig struct {
	Segments *int `toml:"segments"`
}

type logFileConfig struct {
	Level *string `toml:"level"`
	Dir   *string `toml:"dir"`
}

type otelFileConfig struct {
	Endpoint *string `toml:"endpoint"`
}

// Load reads config from ~/.splitlink/config.toml, overlays a project-local
// .splitlink/config.toml, then overlays explicitPath when it is set.
func Load(ctx context.Context, explicitPath string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, dirName, fileName),
		filepath.Join(workingDir, dirName, fileName),
	}

	cfg, err := LoadFiles(paths...)
	if err != nil {
		return nil, err
	}

	explicitPath = strings.TrimSpace(explicitPath)
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, fmt.Errorf("stat config file %q: %w", explicitPath, err)
		}
		if err := overlayFromFile(cfg, explicitPath); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return cfg, nil
}

// LoadFiles overlays paths onto the defaults in order. Missing files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	cfg := defaults()
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be safely defaulted.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if c.Segments <= 0 {
		return fmt.Errorf("timer.segments must be > 0, got %d", c.Segments)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Watched returns the file a live reload should follow: the last source, or
// the project-local default path when nothing was loaded.
func (c *Config) Watched() string {
	if c != nil && len(c.Sources) > 0 {
		return c.Sources[len(c.Sources)-1]
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(workingDir, dirName, fileName)
}

func defaults() Config {
	return Config{
		Segments: defaultSegments,
		LogLevel: defaultLogLevel,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config file %q: unsupported key %q", path, undecoded[0].String())
	}

	applyAutoSplitOverrides(cfg, decoded.AutoSplit, filepath.Dir(path))
	if err := applyTimerOverrides(cfg, decoded.Timer, path); err != nil {
		return err
	}
	applyLogOverrides(cfg, decoded.Log)
	if decoded.OTEL != nil && decoded.OTEL.Endpoint != nil {
		cfg.OTELEndpoint = strings.TrimSpace(*decoded.OTEL.Endpoint)
	}

	cfg.Sources = append(cfg.Sources, path)
	return nil
}

func applyAutoSplitOverrides(cfg *Config, decoded *autoSplitFileConfig, baseDir string) {
	if decoded == nil {
		return
	}
	if decoded.Path != nil {
		cfg.AutoSplit.Path = resolvePath(*decoded.Path, baseDir)
	}
	if decoded.Args != nil {
		args := make([]string, 0, len(*decoded.Args))
		for _, arg := range *decoded.Args {
			args = append(args, strings.TrimSpace(arg))
		}
		cfg.AutoSplit.Args = args
	}
	if decoded.GameTimePausing != nil {
		cfg.AutoSplit.GameTimePausing = *decoded.GameTimePausing
	}
}

func applyTimerOverrides(cfg *Config, decoded *timerFileConfig, path string) error {
	if decoded == nil || decoded.Segments == nil {
		return nil
	}
	if *decoded.Segments <= 0 {
		return fmt.Errorf("parse timer.segments in %q: must be > 0", path)
	}
	cfg.Segments = *decoded.Segments
	return nil
}

func applyLogOverrides(cfg *Config, decoded *logFileConfig) {
	if decoded == nil {
		return
	}
	if decoded.Level != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*decoded.Level))
	}
	if decoded.Dir != nil {
		cfg.LogDir = strings.TrimSpace(*decoded.Dir)
	}
}

// resolvePath expands a leading ~ and anchors relative paths at the config file's directory.
func resolvePath(value, baseDir string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(homeDir, strings.TrimPrefix(value, "~"))
		}
	}
	if !filepath.IsAbs(value) {
		value = filepath.Join(baseDir, value)
	}
	return filepath.Clean(value)
}
