// Package config loads worktally settings. Values come from, in rising
// priority: built-in defaults, a YAML file, and WORKTALLY_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"worktally/internal/blob"
	"worktally/internal/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WORKTALLY_"

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Blob    BlobConfig    `yaml:"blob"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type StorageConfig struct {
	Driver      string        `yaml:"driver" validate:"required,oneof=memory xml sqlite postgres badger"`
	Path        string        `yaml:"path"`
	DSN         string        `yaml:"dsn" validate:"required_if=Driver postgres"`
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	OrphanCheck bool          `yaml:"orphan_check"`
}

type NotifyConfig struct {
	QueueCapacity int `yaml:"queue_capacity" validate:"min=1"`
}

type BlobConfig struct {
	Driver string   `yaml:"driver" validate:"required,oneof=fs memory s3"`
	FSRoot string   `yaml:"fs_root" validate:"required_if=Driver fs"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: string(core.StorageMemory), LockTimeout: 5 * time.Second, OrphanCheck: true},
		Notify:  NotifyConfig{QueueCapacity: 1024},
		Blob:    BlobConfig{Driver: string(blob.DriverFilesystem), FSRoot: "./backups"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load merges defaults, the file at path (skipped when path is empty) and
// the environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field rules plus the ones that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageXML, core.StorageSQLite, core.StorageBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for the %s driver", c.Storage.Driver)
		}
	}
	if blob.Driver(c.Blob.Driver) == blob.DriverS3 && c.Blob.S3.Bucket == "" {
		return fmt.Errorf("config: blob.s3.bucket is required for the s3 driver")
	}
	return nil
}

// Backend is the storage component configuration.
func (c Config) Backend(logger *slog.Logger) core.BackendConfig {
	return core.BackendConfig{Path: c.Storage.Path, DSN: c.Storage.DSN, Logger: logger}
}

// BlobStore is the archive blob store configuration. S3 credentials are not
// part of the file; the AWS default chain supplies them.
func (c Config) BlobStore() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		Root:   c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Blob.S3.Bucket,
			Region:    c.Blob.S3.Region,
			Endpoint:  c.Blob.S3.Endpoint,
			Prefix:    c.Blob.S3.Prefix,
			PathStyle: c.Blob.S3.PathStyle,
		},
	}
}

// Logger builds the process logger described by c.Log.
func (c Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from the environment. Malformed numbers,
// booleans and durations are errors rather than silently ignored.
func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"STORAGE_DRIVER":   &c.Storage.Driver,
		"STORAGE_PATH":     &c.Storage.Path,
		"STORAGE_DSN":      &c.Storage.DSN,
		"BLOB_DRIVER":      &c.Blob.Driver,
		"BLOB_FS_ROOT":     &c.Blob.FSRoot,
		"BLOB_S3_BUCKET":   &c.Blob.S3.Bucket,
		"BLOB_S3_REGION":   &c.Blob.S3.Region,
		"BLOB_S3_PREFIX":   &c.Blob.S3.Prefix,
		"BLOB_S3_ENDPOINT": &c.Blob.S3.Endpoint,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"STORAGE_ORPHAN_CHECK": &c.Storage.OrphanCheck,
		"BLOB_S3_PATH_STYLE":   &c.Blob.S3.PathStyle,
		"METRICS_ENABLED":      &c.Metrics.Enabled,
	}
	var errs []error
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "STORAGE_LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTORAGE_LOCK_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.Storage.LockTimeout = d
		}
	}
	if v, ok := lookup(EnvPrefix + "NOTIFY_QUEUE_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sNOTIFY_QUEUE_CAPACITY: %w", EnvPrefix, err))
		} else {
			c.Notify.QueueCapacity = n
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Write renders c as YAML; `worktally init` uses it to seed a config file.
func (c Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
