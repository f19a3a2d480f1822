// Package config loads tillsync settings from a YAML file, a .env file and
// TILLSYNC_* environment variables, in increasing precedence.
//
// The YAML file is checked against an embedded CUE schema before it is
// decoded, so unknown keys, bad enum values and malformed durations are
// reported with their path.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tillsync/internal/ledger"
	"github.com/roach88/tillsync/internal/outbox"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TILLSYNC_"

// Duration is a time.Duration written as "15s" or "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full set of tillsync settings.
type Config struct {
	WorkspaceID string         `yaml:"workspace_id"`
	Database    DatabaseConfig `yaml:"database"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Dispatch    DispatchConfig `yaml:"dispatch"`
	Catalog     CatalogConfig  `yaml:"catalog"`
	API         APIConfig      `yaml:"api"`
	Log         LogConfig      `yaml:"log"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	Path             string `yaml:"path"`
	RequireOpenShift bool   `yaml:"require_open_shift"`
}

type LedgerConfig struct {
	BaseURL  string   `yaml:"base_url"`
	APIKey   string   `yaml:"api_key"`
	DeviceID string   `yaml:"device_id"`
	Timeout  Duration `yaml:"timeout"`
}

type DispatchConfig struct {
	PollInterval Duration      `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Initial    Duration `yaml:"initial"`
	Multiplier float64  `yaml:"multiplier"`
	Max        Duration `yaml:"max"`
	Jitter     float64  `yaml:"jitter"`
}

// CatalogConfig controls scheduled catalog pulls. A zero interval
// disables them.
type CatalogConfig struct {
	Mode     string   `yaml:"mode"`
	Interval Duration `yaml:"interval"`
	PageSize int      `yaml:"page_size"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the settings used for anything not configured.
func Default() Config {
	return Config{
		WorkspaceID: "default",
		Database:    DatabaseConfig{Path: "tillsync.db"},
		Ledger: LedgerConfig{
			Timeout: Duration(ledger.DefaultTimeout),
		},
		Dispatch: DispatchConfig{
			PollInterval: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				Initial:    Duration(outbox.DefaultInitialDelay),
				Multiplier: outbox.DefaultMultiplier,
				Max:        Duration(outbox.DefaultMaxDelay),
				Jitter:     outbox.DefaultJitter,
			},
		},
		Catalog: CatalogConfig{
			Mode:     "replace",
			Interval: Duration(15 * time.Minute),
			PageSize: 200,
		},
		API:     APIConfig{Listen: "127.0.0.1:8787"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Options controls where Load looks.
type Options struct {
	// Path is the YAML file. Empty means defaults plus environment only.
	Path string
	// EnvFiles are .env files loaded into the process environment if they
	// exist. Variables already set are not overwritten.
	EnvFiles []string
	// Lookup reads environment variables. Default: os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load builds a Config from defaults, the YAML file and the environment.
func Load(opts Options) (Config, error) {
	cfg := Default()

	var present []string
	for _, f := range opts.EnvFiles {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) > 0 {
		if err := godotenv.Load(present...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(opts.Path, data, &cfg); err != nil {
			return Config{}, err
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over cfg.
func Parse(filename string, data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := checkSchema(filename, data); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

func checkSchema(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	v := ctx.BuildFile(file)
	if err := v.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"WORKSPACE_ID":   &cfg.WorkspaceID,
		"DB_PATH":        &cfg.Database.Path,
		"LEDGER_URL":     &cfg.Ledger.BaseURL,
		"LEDGER_API_KEY": &cfg.Ledger.APIKey,
		"DEVICE_ID":      &cfg.Ledger.DeviceID,
		"CATALOG_MODE":   &cfg.Catalog.Mode,
		"LISTEN":         &cfg.API.Listen,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"LEDGER_TIMEOUT":   &cfg.Ledger.Timeout,
		"POLL_INTERVAL":    &cfg.Dispatch.PollInterval,
		"CATALOG_INTERVAL": &cfg.Catalog.Interval,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: invalid duration %q: %w", EnvPrefix, name, v, err)
		}
		*dst = Duration(d)
	}

	if v, ok := lookup(EnvPrefix + "REQUIRE_OPEN_SHIFT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREQUIRE_OPEN_SHIFT: %w", EnvPrefix, err)
		}
		cfg.Database.RequireOpenShift = b
	}
	if v, ok := lookup(EnvPrefix + "MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_ATTEMPTS: %w", EnvPrefix, err)
		}
		cfg.Dispatch.MaxAttempts = n
	}
	return nil
}

// Validate checks cross-field rules and values that may have come from
// the environment.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WorkspaceID) == "" {
		errs = append(errs, errors.New("workspace_id is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Catalog.Mode {
	case "replace", "merge":
	default:
		errs = append(errs, fmt.Errorf("catalog.mode %q must be replace or merge", c.Catalog.Mode))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Dispatch.MaxAttempts < 0 {
		errs = append(errs, errors.New("dispatch.max_attempts must not be negative"))
	}
	if c.Dispatch.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("dispatch.backoff.multiplier must be at least 1"))
	}
	if j := c.Dispatch.Backoff.Jitter; j < 0 || j > 1 {
		errs = append(errs, errors.New("dispatch.backoff.jitter must be within [0, 1]"))
	}
	if c.Dispatch.Backoff.Max > 0 && c.Dispatch.Backoff.Max < c.Dispatch.Backoff.Initial {
		errs = append(errs, errors.New("dispatch.backoff.max must not be below initial"))
	}
	return errors.Join(errs...)
}

// Policy returns the dispatcher retry policy.
func (c Config) Policy() outbox.Policy {
	return outbox.Policy{
		Initial:     c.Dispatch.Backoff.Initial.Std(),
		Multiplier:  c.Dispatch.Backoff.Multiplier,
		Max:         c.Dispatch.Backoff.Max.Std(),
		Jitter:      c.Dispatch.Backoff.Jitter,
		MaxAttempts: c.Dispatch.MaxAttempts,
	}
}

// LedgerClient returns the ledger client settings.
func (c Config) LedgerClient() ledger.Config {
	return ledger.Config{
		BaseURL:  c.Ledger.BaseURL,
		APIKey:   c.Ledger.APIKey,
		DeviceID: c.Ledger.DeviceID,
		Timeout:  c.Ledger.Timeout.Std(),
	}
}
