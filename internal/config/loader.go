package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/sheetpreview"
)

// FileEnv names the environment variable holding an optional YAML config file.
const FileEnv = "PREVIEW_CONFIG_FILE"

// DefaultEnvFile is the dotenv file read by Load.
const DefaultEnvFile = ".env"

// lookupFunc returns the configured value of an environment key, or "".
type lookupFunc func(key string) string

// Load reads configuration with DefaultEnvFile as the dotenv file.
func Load() (*Config, error) {
	return LoadFiles(DefaultEnvFile)
}

// LoadFiles reads configuration and validates it.
//
// A key is taken from the first source that sets it: the process environment,
// the dotenv files in order, the YAML file named by PREVIEW_CONFIG_FILE, and
// finally the field's default. Missing dotenv files are skipped. The process
// environment is never modified.
func LoadFiles(envFiles ...string) (*Config, error) {
	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	overlay, err := readYAMLFile(firstNonEmpty(os.Getenv(FileEnv), dotenv[FileEnv]))
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := dotenv[key]; v != "" {
			return v
		}
		return overlay[key]
	}

	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// readEnvFiles merges dotenv files; earlier files win.
func readEnvFiles(paths []string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, path := range paths {
		if path == "" {
			continue
		}
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// readYAMLFile reads a flat YAML mapping of environment keys to scalar values.
//
// Example:
//
//	SQLITE_DB: /var/lib/preview/data_preview.sqlite
//	server_port: 9090
//	TRUSTED_PROXIES: [10.0.0.0/8, 192.168.0.0/16]
func readYAMLFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return map[string]string{}, nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's configuration
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", FileEnv, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s YAML: %w", FileEnv, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			values[key] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("parse %s YAML: key %s must be a scalar or a list", FileEnv, k)
		default:
			values[key] = fmt.Sprint(val)
		}
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadStruct recursively populates struct fields from lookup.
func loadStruct(v reflect.Value, lookup lookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		required := field.Tag.Get("required") == "true"

		value := lookup(envName)
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}
	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, "SERVER_WRITE_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, "SQLITE_DB must not be empty")
	}

	if strings.TrimSpace(c.Ingest.Root) == "" {
		errs = append(errs, "DATA_PREVIEW_ROOT must not be empty")
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, "INGEST_BATCH_SIZE must be positive")
	}
	if c.Ingest.Parallelism <= 0 {
		errs = append(errs, "INGEST_PARALLELISM must be positive")
	}
	if _, err := sheetpreview.ParseLoadStrategy(c.Ingest.Strategy); err != nil {
		errs = append(errs, fmt.Sprintf("INGEST_STRATEGY (%q) must be one of: swap, truncate", c.Ingest.Strategy))
	}
	if c.Ingest.Timeout <= 0 {
		errs = append(errs, "INGEST_TIMEOUT must be positive")
	}

	if c.Admin.RatePerMinute <= 0 {
		errs = append(errs, "ADMIN_RATE_PER_MINUTE must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LoadStrategy returns the parsed INGEST_STRATEGY.
func (c *IngestConfig) LoadStrategy() (sheetpreview.LoadStrategy, error) {
	return sheetpreview.ParseLoadStrategy(c.Strategy)
}

// String returns a representation of the config that is safe to log.
// The admin secret is masked.
func (c *Config) String() string {
	secret := "[unset]"
	if c.Admin.SharedSecret != "" {
		secret = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Storage: {Path: %q}, ", c.Storage.Path)
	fmt.Fprintf(&b, "Ingest: {Root: %q, BatchSize: %d, Parallelism: %d, Strategy: %q}, ",
		c.Ingest.Root, c.Ingest.BatchSize, c.Ingest.Parallelism, c.Ingest.Strategy)
	fmt.Fprintf(&b, "Admin: {SharedSecret: %s, RatePerMinute: %d}, ", secret, c.Admin.RatePerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
