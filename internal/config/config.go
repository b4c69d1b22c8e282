// Package config loads the dicomfix configuration: a YAML file, then
// DICOMFIX_* environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/dicomfix/internal/batch"
	"github.com/mrsinham/dicomfix/internal/fixer"
	"github.com/mrsinham/dicomfix/internal/normalize"
	"github.com/mrsinham/dicomfix/internal/volume"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DICOMFIX_"

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Batch   BatchConfig   `yaml:"batch"`
	Volume  VolumeConfig  `yaml:"volume"`
	// Defaults overrides normalizer defaults by field name, e.g. Modality: MR.
	Defaults map[string]string `yaml:"defaults,omitempty"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	MaxUploadSize   string   `yaml:"max_upload_size"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins,omitempty"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BatchConfig holds archive limits, the extension sets used to classify
// entries and the optional geometry for raw entries.
type BatchConfig struct {
	MaxArchiveSize  string   `yaml:"max_archive_size"`
	DICOMExtensions []string `yaml:"dicom_extensions"`
	RawExtensions   []string `yaml:"raw_extensions"`
	ImageExtensions []string `yaml:"image_extensions"`
	Rows            int      `yaml:"rows,omitempty"`
	Cols            int      `yaml:"cols,omitempty"`
	Bits            int      `yaml:"bits,omitempty"`
}

// VolumeConfig controls volume slicing.
type VolumeConfig struct {
	PositionMode string `yaml:"position_mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := batch.DefaultClassifier()
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			MaxUploadSize:   "256MB",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Batch: BatchConfig{
			MaxArchiveSize:  "1GB",
			DICOMExtensions: c.DICOM,
			RawExtensions:   c.Raw,
			ImageExtensions: c.Image,
		},
		Volume: VolumeConfig{PositionMode: string(volume.AxisAligned)},
	}
}

// LoadFromYAML reads path over the defaults. Keys absent from the file keep
// their default value.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToYAML writes cfg to path.
func SaveToYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load returns the defaults, overlaid with path when non-empty, then with
// the process environment, and validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from DICOMFIX_* variables found by lookup.
// DICOMFIX_DEFAULT_<FIELD> sets a normalizer default, e.g.
// DICOMFIX_DEFAULT_MODALITY=MR.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &c.Server.Listen)
	str("MAX_UPLOAD_SIZE", &c.Server.MaxUploadSize)
	str("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	list("CORS_ORIGINS", &c.Server.CORSOrigins)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("MAX_ARCHIVE_SIZE", &c.Batch.MaxArchiveSize)
	list("DICOM_EXTENSIONS", &c.Batch.DICOMExtensions)
	list("RAW_EXTENSIONS", &c.Batch.RawExtensions)
	list("IMAGE_EXTENSIONS", &c.Batch.ImageExtensions)
	str("POSITION_MODE", &c.Volume.PositionMode)
	for name, dst := range map[string]*int{"BATCH_ROWS": &c.Batch.Rows, "BATCH_COLS": &c.Batch.Cols, "BATCH_BITS": &c.Batch.Bits} {
		if err := num(name, dst); err != nil {
			return err
		}
	}

	for _, field := range normalize.Configurable() {
		if v, ok := lookup(EnvPrefix + "DEFAULT_" + strings.ToUpper(string(field))); ok {
			if c.Defaults == nil {
				c.Defaults = map[string]string{}
			}
			c.Defaults[string(field)] = v
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// Validate checks every setting and normalizes extension lists to
// lower-case, dot-prefixed form.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if _, err := c.MaxArchiveBytes(); err != nil {
		return err
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: want debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q: want json or console", c.Logging.Format)
	}

	if _, err := volume.ParsePositionMode(c.Volume.PositionMode); err != nil {
		return fmt.Errorf("volume.position_mode: %w", err)
	}

	c.Batch.DICOMExtensions = normalizeExtensions(c.Batch.DICOMExtensions)
	c.Batch.RawExtensions = normalizeExtensions(c.Batch.RawExtensions)
	c.Batch.ImageExtensions = normalizeExtensions(c.Batch.ImageExtensions)
	if g := c.Geometry(); g != nil {
		if g.Rows <= 0 || g.Cols <= 0 || g.BitDepth <= 0 || g.BitDepth%8 != 0 {
			return fmt.Errorf("batch geometry %dx%d/%d: rows and cols must be positive, bits a positive multiple of 8",
				g.Rows, g.Cols, g.BitDepth)
		}
	}

	if _, err := c.Normalizer(); err != nil {
		return err
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// MaxUploadBytes parses server.max_upload_size.
func (c *Config) MaxUploadBytes() (int64, error) {
	return parseSize("server.max_upload_size", c.Server.MaxUploadSize)
}

// MaxArchiveBytes parses batch.max_archive_size. Zero means no limit.
func (c *Config) MaxArchiveBytes() (int64, error) {
	return parseSize("batch.max_archive_size", c.Batch.MaxArchiveSize)
}

func parseSize(key, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, s, err)
	}
	return int64(n), nil
}

// ShutdownTimeout parses server.shutdown_timeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	if c.Server.ShutdownTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	return d, nil
}

// Classifier builds the batch classifier from the extension lists.
func (c *Config) Classifier() batch.Classifier {
	return batch.Classifier{
		DICOM: c.Batch.DICOMExtensions,
		Raw:   c.Batch.RawExtensions,
		Image: c.Batch.ImageExtensions,
	}
}

// Geometry returns the configured raw-entry geometry, or nil when unset.
func (c *Config) Geometry() *fixer.Params {
	if c.Batch.Rows == 0 && c.Batch.Cols == 0 && c.Batch.Bits == 0 {
		return nil
	}
	return &fixer.Params{Rows: c.Batch.Rows, Cols: c.Batch.Cols, BitDepth: c.Batch.Bits}
}

// PositionMode returns the parsed volume.position_mode.
func (c *Config) PositionMode() volume.PositionMode {
	m, _ := volume.ParsePositionMode(c.Volume.PositionMode)
	return m
}

// Normalizer returns a standard normalizer with the configured defaults applied
// in field-name order.
func (c *Config) Normalizer() (*normalize.Normalizer, error) {
	n := normalize.New()
	names := make([]string, 0, len(c.Defaults))
	for name := range c.Defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := n.Defaults.Set(name, c.Defaults[name]); err != nil {
			return nil, fmt.Errorf("defaults.%s: %w", name, err)
		}
	}
	return n, nil
}
