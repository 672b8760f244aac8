// Package config loads the resonance.yaml configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/dejo1307/resonance/internal/logging"
)

// EnvPrefix prefixes environment overrides: RESONANCE_SCAN_WORKERS -> scan.workers.
const EnvPrefix = "RESONANCE_"

const maxConfigFileSize = 1024 * 1024

// Config represents the resonance.yaml configuration.
type Config struct {
	Repo       string         `koanf:"repo"`
	Catalog    string         `koanf:"catalog"`
	Ignore     []string       `koanf:"ignore"`
	Extensions []string       `koanf:"extensions"`
	Scan       ScanConfig     `koanf:"scan"`
	Scale      ScaleConfig    `koanf:"scale"`
	Planner    PlannerConfig  `koanf:"planner"`
	Backup     BackupConfig   `koanf:"backup"`
	History    HistoryConfig  `koanf:"history"`
	Cascade    CascadeConfig  `koanf:"cascade"`
	Output     OutputConfig   `koanf:"output"`
	Log        logging.Config `koanf:"log"`
}

// ScanConfig controls the file scanner. FunctionWindow and TypeWindow bound the
// backward search for an enclosing scope; they are heuristics and can
// misclassify long functions or types.
type ScanConfig struct {
	Workers        int   `koanf:"workers"`
	ContextLines   int   `koanf:"context_lines"`
	FunctionWindow int   `koanf:"function_window"`
	TypeWindow     int   `koanf:"type_window"`
	MaxFileBytes   int64 `koanf:"max_file_bytes"`
}

// ScaleConfig holds the line rules used for scale classification.
type ScaleConfig struct {
	MetaKeywords    []string `koanf:"meta_keywords"`
	MacroKeywords   []string `koanf:"macro_keywords"`
	MesoKeywords    []string `koanf:"meso_keywords"`
	FunctionPattern string   `koanf:"function_pattern"`
	VarDeclPattern  string   `koanf:"var_decl_pattern"`
}

// PlannerConfig controls intervention planning.
type PlannerConfig struct {
	MinConfidence float64 `koanf:"min_confidence"`
}

// BackupConfig controls checkpoint storage.
type BackupConfig struct {
	Dir           string `koanf:"dir"`
	RetentionDays int    `koanf:"retention_days"`
}

// HistoryConfig controls pattern history persistence.
type HistoryConfig struct {
	Path           string `koanf:"path"`
	RecordFailures bool   `koanf:"record_failures"`
}

// CascadeConfig holds the build-impact table used by cascade measurement.
type CascadeConfig struct {
	BuildImpact        map[string]float64 `koanf:"build_impact"`
	DefaultBuildImpact float64            `koanf:"default_build_impact"`
}

// OutputConfig controls where and how output artifacts are generated.
type OutputConfig struct {
	Dir             string `koanf:"dir"`
	MaxReportTokens int    `koanf:"max_report_tokens"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, nil)
	return cfg
}

func defaultIgnore() []string {
	return []string{
		"vendor/**",
		"node_modules/**",
		".git/**",
		"third_party/**",
		"Intermediate/**",
		"Binaries/**",
		"**/*_test.go",
		"**/*.test.ts",
		"**/*.spec.ts",
	}
}

func defaultExtensions() []string {
	return []string{".h", ".hh", ".hpp", ".c", ".cc", ".cpp", ".cxx", ".go", ".ts", ".tsx", ".js"}
}

func defaultScale() ScaleConfig {
	return ScaleConfig{
		MetaKeywords: []string{
			"#include", "#pragma", "import", "namespace", "package", "module",
			"UCLASS", "USTRUCT", "UENUM", "GENERATED_BODY", "IMPLEMENT_MODULE",
			"Subsystem", "GameInstance", "GEngine",
		},
		MacroKeywords:   []string{"class", "struct", "enum", "union", "interface", "type"},
		MesoKeywords:    []string{"func", "function", "def", "fn", "UFUNCTION"},
		FunctionPattern: `^\s*(?:[\w:<>,\*&~]+\s+)*[\*&]?[\w:~]+\s*\([^;]*\)\s*(?:const\s*)?(?:override\s*)?(?:final\s*)?\{?\s*$`,
		VarDeclPattern:  `(?:\b(?:var|let|const|auto)\s+\w+)|(?:\w+\s*:=)|(?:^\s*(?:const\s+|static\s+)?[\w:<>]+[\s\*&]+\w+\s*(?:=[^=]|;|\{))`,
	}
}

// applyDefaults fills every zero-valued field. Fields for which zero is a
// meaningful value are filled only when isSet reports the key as absent.
func applyDefaults(cfg *Config, isSet func(key string) bool) {
	if isSet == nil {
		isSet = func(string) bool { return false }
	}
	if cfg.Repo == "" {
		cfg.Repo = "."
	}
	if cfg.Catalog == "" {
		cfg.Catalog = "catalog.yaml"
	}
	if len(cfg.Ignore) == 0 {
		cfg.Ignore = defaultIgnore()
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaultExtensions()
	}

	if cfg.Scan.Workers == 0 {
		cfg.Scan.Workers = 8
	}
	if cfg.Scan.ContextLines == 0 && !isSet("scan.context_lines") {
		cfg.Scan.ContextLines = 3
	}
	if cfg.Scan.FunctionWindow == 0 {
		cfg.Scan.FunctionWindow = 50
	}
	if cfg.Scan.TypeWindow == 0 {
		cfg.Scan.TypeWindow = 100
	}
	if cfg.Scan.MaxFileBytes == 0 {
		cfg.Scan.MaxFileBytes = 2 * 1024 * 1024
	}

	def := defaultScale()
	if len(cfg.Scale.MetaKeywords) == 0 {
		cfg.Scale.MetaKeywords = def.MetaKeywords
	}
	if len(cfg.Scale.MacroKeywords) == 0 {
		cfg.Scale.MacroKeywords = def.MacroKeywords
	}
	if len(cfg.Scale.MesoKeywords) == 0 {
		cfg.Scale.MesoKeywords = def.MesoKeywords
	}
	if cfg.Scale.FunctionPattern == "" {
		cfg.Scale.FunctionPattern = def.FunctionPattern
	}
	if cfg.Scale.VarDeclPattern == "" {
		cfg.Scale.VarDeclPattern = def.VarDeclPattern
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = ".resonance"
	}
	if cfg.Output.MaxReportTokens == 0 {
		cfg.Output.MaxReportTokens = 4000
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = cfg.Output.Dir + "/backups"
	}
	if cfg.Backup.RetentionDays == 0 && !isSet("backup.retention_days") {
		cfg.Backup.RetentionDays = 7
	}
	if cfg.History.Path == "" {
		cfg.History.Path = cfg.Output.Dir + "/history.db"
	}
	if cfg.Cascade.DefaultBuildImpact == 0 && !isSet("cascade.default_build_impact") {
		cfg.Cascade.DefaultBuildImpact = 0.3
	}
	if cfg.Cascade.BuildImpact == nil {
		cfg.Cascade.BuildImpact = map[string]float64{}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Load reads a configuration file from the given path, then applies
// RESONANCE_-prefixed environment overrides. A missing file yields the
// defaults plus environment overrides. Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	applyDefaults(&cfg, k.Exists)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config %s exceeds %d bytes", path, maxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return data, nil
}

// envKey maps RESONANCE_SECTION_FIELD_NAME to section.field_name. Keys without
// a section separator (RESONANCE_REPO) map to top-level fields.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	switch parts[0] {
	case "scan", "scale", "planner", "backup", "history", "cascade", "output", "log":
		return parts[0] + "." + parts[1]
	}
	return lower
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be >= 1, got %d", c.Scan.Workers)
	}
	if c.Scan.ContextLines < 0 {
		return fmt.Errorf("scan.context_lines must be >= 0, got %d", c.Scan.ContextLines)
	}
	if c.Scan.FunctionWindow < 1 || c.Scan.TypeWindow < 1 {
		return fmt.Errorf("scan windows must be >= 1")
	}
	if c.Scan.MaxFileBytes < 1 {
		return fmt.Errorf("scan.max_file_bytes must be >= 1")
	}
	if c.Planner.MinConfidence < 0 || c.Planner.MinConfidence > 1 {
		return fmt.Errorf("planner.min_confidence must be in [0,1], got %v", c.Planner.MinConfidence)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must be >= 0")
	}
	if c.Cascade.DefaultBuildImpact < 0 || c.Cascade.DefaultBuildImpact > 1 {
		return fmt.Errorf("cascade.default_build_impact must be in [0,1]")
	}
	for k, v := range c.Cascade.BuildImpact {
		if v < 0 || v > 1 {
			return fmt.Errorf("cascade.build_impact[%s] must be in [0,1], got %v", k, v)
		}
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// IsExtensionEnabled returns true if files with ext should be scanned.
func (c *Config) IsExtensionEnabled(ext string) bool {
	return contains(c.Extensions, strings.ToLower(ext))
}

// BuildImpact returns the configured build impact for a pattern type.
func (c *Config) BuildImpact(patternType string) float64 {
	if v, ok := c.Cascade.BuildImpact[patternType]; ok {
		return v
	}
	return c.Cascade.DefaultBuildImpact
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
