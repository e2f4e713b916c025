// Package config provides layered configuration loading.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slotwatch/slotwatch/internal/models"
)

// Config holds the resolved configuration.
type Config struct {
	// Refresh policy
	RefreshInterval  time.Duration
	FetchTimeout     time.Duration
	MaxConcurrency   int
	FailureThreshold int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	JitterRange      time.Duration
	GracePeriod      time.Duration
	TickInterval     time.Duration

	// Per-host upstream rate limit
	RateLimit RateLimit

	// Centers are given inline or loaded from CentersFile.
	Centers     []CenterConfig
	CentersFile string

	// Outputs
	ExportPath  string
	MetricsAddr string
	Format      string
	Verbose     int

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string
}

// RateLimit configures the per-host token bucket.
type RateLimit struct {
	MaxTokens  int
	RefillRate float64
}

// CenterConfig is one entry of the centers list.
type CenterConfig struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name" json:"name"`
	Address         string             `yaml:"address,omitempty" json:"address,omitempty"`
	Latitude        float64            `yaml:"latitude" json:"latitude"`
	Longitude       float64            `yaml:"longitude" json:"longitude"`
	RefreshInterval Duration           `yaml:"refresh_interval,omitempty" json:"refresh_interval,omitempty"`
	Adapter         models.AdapterSpec `yaml:"adapter" json:"adapter"`
	Passes          int                `yaml:"passes,omitempty" json:"passes,omitempty"`
	Failures        int                `yaml:"failures,omitempty" json:"failures,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "10m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"90s\"", value.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// MarshalText writes the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// EnvPrefix is prepended to upper-cased keys to form environment variables.
const EnvPrefix = "SLOTWATCH_"

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	ConfigFile  string
	Format      string
	ExportPath  string
	MetricsAddr string
	CentersFile string
}

// warnings are written here; replaced in tests.
var warnOut io.Writer = os.Stderr

func warnf(format string, args ...any) {
	fmt.Fprintf(warnOut, "warning: "+format+"\n", args...)
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{
		RefreshInterval:  10 * time.Minute,
		FetchTimeout:     30 * time.Second,
		MaxConcurrency:   4,
		FailureThreshold: 3,
		BackoffBase:      30 * time.Second,
		BackoffCap:       time.Hour,
		JitterRange:      15 * time.Second,
		GracePeriod:      10 * time.Second,
		TickInterval:     time.Second,
		RateLimit:        RateLimit{MaxTokens: 5, RefillRate: 1},
		Format:           "auto",
		Sources:          make(map[string]string),
	}
	for _, k := range Keys() {
		cfg.Sources[k] = string(SourceDefault)
	}
	return cfg
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > --config file > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	layers := Layers()
	if overrides.ConfigFile != "" {
		if _, err := os.Stat(overrides.ConfigFile); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		layers = append(layers, Layer{overrides.ConfigFile, SourceFile})
	}
	for _, l := range layers {
		if err := loadFromFile(cfg, l.Path, l.Source); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if len(cfg.Centers) == 0 && cfg.CentersFile != "" {
		centers, err := LoadCenters(cfg.CentersFile)
		if err != nil {
			return nil, err
		}
		cfg.Centers = centers
		cfg.Sources["centers"] = cfg.Sources["centers_file"]
	}

	return cfg, nil
}

// Layer is one config file location.
type Layer struct {
	Path   string
	Source Source
}

// Layers returns the standard config file locations, lowest precedence first.
func Layers() []Layer {
	return []Layer{
		{systemConfigPath(), SourceSystem},
		{globalConfigPath(), SourceGlobal},
		{localConfigPath(), SourceLocal},
	}
}

// fileConfig is the YAML shape of one config layer.
type fileConfig struct {
	Centers []CenterConfig `yaml:"centers"`
}

// loadFromFile applies one layer. Malformed scalar values are warned about
// and skipped; a malformed centers list is returned as an error.
func loadFromFile(cfg *Config, path string, source Source) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return nil // File doesn't exist, skip
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		warnf("skipping malformed config at %s: %v", path, err)
		return nil
	}

	for key, dst := range cfg.durations() {
		v, ok := raw[key]
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			warnf("ignoring %s in %s: %v", key, path, err)
			continue
		}
		*dst = d
		cfg.Sources[key] = string(source)
	}
	for key, dst := range cfg.ints() {
		v, ok := raw[key].(int)
		if !ok {
			if _, present := raw[key]; present {
				warnf("ignoring %s in %s: expected an integer", key, path)
			}
			continue
		}
		*dst = v
		cfg.Sources[key] = string(source)
	}
	for key, dst := range cfg.strings() {
		v, ok := raw[key].(string)
		if !ok || v == "" {
			continue
		}
		*dst = v
		cfg.Sources[key] = string(source)
	}
	if v, ok := raw["centers_file"].(string); ok && v != "" {
		if !filepath.IsAbs(v) {
			v = filepath.Join(filepath.Dir(path), v)
		}
		cfg.CentersFile = v
		cfg.Sources["centers_file"] = string(source)
	}
	if v, ok := raw["verbose"].(int); ok && v >= 0 && v <= 2 {
		cfg.Verbose = v
		cfg.Sources["verbose"] = string(source)
	}
	if rl, ok := raw["rate_limit"].(map[string]any); ok {
		if v, ok := rl["max_tokens"].(int); ok && v > 0 {
			cfg.RateLimit.MaxTokens = v
			cfg.Sources["rate_limit.max_tokens"] = string(source)
		}
		if v, ok := toFloat(rl["refill_rate"]); ok && v > 0 {
			cfg.RateLimit.RefillRate = v
			cfg.Sources["rate_limit.refill_rate"] = string(source)
		}
	}

	if _, ok := raw["centers"]; ok {
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("centers in %s: %w", path, err)
		}
		cfg.Centers = fc.Centers
		cfg.Sources["centers"] = string(source)
	}
	return nil
}

// LoadCenters reads a centers list from a YAML or JSON file. The file holds
// either a bare list or a document with a top-level "centers" key.
func LoadCenters(path string) ([]CenterConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("centers file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("centers file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var list []CenterConfig
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("centers file %s: %w", path, err)
		}
		return list, nil
	}
	var fc fileConfig
	if err := root.Decode(&fc); err != nil {
		return nil, fmt.Errorf("centers file %s: %w", path, err)
	}
	return fc.Centers, nil
}

// LoadFromEnv loads configuration from SLOTWATCH_* environment variables.
// Malformed values are ignored.
func LoadFromEnv(cfg *Config) {
	for key, dst := range cfg.durations() {
		if v := os.Getenv(envName(key)); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
				cfg.Sources[key] = string(SourceEnv)
			}
		}
	}
	for key, dst := range cfg.ints() {
		if v := os.Getenv(envName(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				cfg.Sources[key] = string(SourceEnv)
			}
		}
	}
	for key, dst := range cfg.strings() {
		if v := os.Getenv(envName(key)); v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceEnv)
		}
	}
	if v := os.Getenv(envName("centers_file")); v != "" {
		cfg.CentersFile = v
		cfg.Sources["centers_file"] = string(SourceEnv)
	}
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.MaxTokens = n
			cfg.Sources["rate_limit.max_tokens"] = string(SourceEnv)
		}
	}
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT_REFILL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimit.RefillRate = f
			cfg.Sources["rate_limit.refill_rate"] = string(SourceEnv)
		}
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
	if o.ExportPath != "" {
		cfg.ExportPath = o.ExportPath
		cfg.Sources["export_path"] = string(SourceFlag)
	}
	if o.MetricsAddr != "" {
		cfg.MetricsAddr = o.MetricsAddr
		cfg.Sources["metrics_addr"] = string(SourceFlag)
	}
	if o.CentersFile != "" {
		cfg.CentersFile = o.CentersFile
		cfg.Centers = nil
		cfg.Sources["centers_file"] = string(SourceFlag)
	}
}

// Validate reports invalid refresh settings. All problems are returned together.
func (cfg *Config) Validate() error {
	var errs []error
	for key, d := range cfg.durations() {
		if key == "jitter_range" {
			if *d < 0 {
				errs = append(errs, fmt.Errorf("%s must not be negative", key))
			}
			continue
		}
		if *d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if cfg.MaxConcurrency < 1 {
		errs = append(errs, errors.New("max_concurrency must be at least 1"))
	}
	if cfg.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure_threshold must be at least 1"))
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		errs = append(errs, errors.New("backoff_cap must not be less than backoff_base"))
	}
	if cfg.RateLimit.MaxTokens < 1 || cfg.RateLimit.RefillRate <= 0 {
		errs = append(errs, errors.New("rate_limit needs positive max_tokens and refill_rate"))
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// Setting is one resolved key for display.
type Setting struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Settings lists every scalar key with its value and source, sorted by key.
func (cfg *Config) Settings() []Setting {
	values := map[string]string{
		"centers":                strconv.Itoa(len(cfg.Centers)),
		"centers_file":           cfg.CentersFile,
		"verbose":                strconv.Itoa(cfg.Verbose),
		"rate_limit.max_tokens":  strconv.Itoa(cfg.RateLimit.MaxTokens),
		"rate_limit.refill_rate": strconv.FormatFloat(cfg.RateLimit.RefillRate, 'g', -1, 64),
	}
	for k, d := range cfg.durations() {
		values[k] = d.String()
	}
	for k, n := range cfg.ints() {
		values[k] = strconv.Itoa(*n)
	}
	for k, s := range cfg.strings() {
		values[k] = *s
	}

	out := make([]Setting, 0, len(values))
	for k, v := range values {
		src := cfg.Sources[k]
		if src == "" {
			src = string(SourceDefault)
		}
		out = append(out, Setting{Key: k, Value: v, Source: src})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns every scalar key, sorted.
func Keys() []string {
	var cfg Config
	keys := []string{"centers", "centers_file", "verbose", "rate_limit.max_tokens", "rate_limit.refill_rate"}
	for k := range cfg.durations() {
		keys = append(keys, k)
	}
	for k := range cfg.ints() {
		keys = append(keys, k)
	}
	for k := range cfg.strings() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (cfg *Config) durations() map[string]*time.Duration {
	return map[string]*time.Duration{
		"refresh_interval": &cfg.RefreshInterval,
		"fetch_timeout":    &cfg.FetchTimeout,
		"backoff_base":     &cfg.BackoffBase,
		"backoff_cap":      &cfg.BackoffCap,
		"jitter_range":     &cfg.JitterRange,
		"grace_period":     &cfg.GracePeriod,
		"tick_interval":    &cfg.TickInterval,
	}
}

func (cfg *Config) ints() map[string]*int {
	return map[string]*int{
		"max_concurrency":   &cfg.MaxConcurrency,
		"failure_threshold": &cfg.FailureThreshold,
	}
}

func (cfg *Config) strings() map[string]*string {
	return map[string]*string{
		"export_path":  &cfg.ExportPath,
		"metrics_addr": &cfg.MetricsAddr,
		"format":       &cfg.Format,
	}
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func parseDuration(v any) (time.Duration, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected a duration string, got %v", v)
	}
	return time.ParseDuration(s)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Path helpers

func systemConfigPath() string {
	return "/etc/slotwatch/config.yaml"
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

func localConfigPath() string {
	return filepath.Join(".slotwatch", "config.yaml")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "slotwatch")
}
