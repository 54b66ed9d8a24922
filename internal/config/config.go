package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/coursegen/internal/orchestrator"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://coursegen.local/config.schema.json"

// Store backends.
const (
	StoreHTTP   = "http"
	StoreMemory = "memory"
	StoreKuzu   = "kuzu"
)

// Defaults applied to keys missing from the file.
const (
	DefaultBaseURL         = "http://localhost:8000"
	DefaultStore           = StoreHTTP
	DefaultDebounce        = time.Second
	DefaultHistoryLimit    = 20
	DefaultTeardownTimeout = 5 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultLogLevel        = "info"
)

// ProjectConfig holds settings loaded from coursegen.yml.
type ProjectConfig struct {
	BaseURL         string `yaml:"baseURL,omitempty"`
	CourseID        string `yaml:"courseID,omitempty"`
	Store           string `yaml:"store,omitempty"`
	KuzuPath        string `yaml:"kuzuPath,omitempty"`
	Debounce        string `yaml:"debounce,omitempty"`
	AutoSave        *bool  `yaml:"autoSave,omitempty"`
	HistoryLimit    int    `yaml:"historyLimit,omitempty"`
	TeardownTimeout string `yaml:"teardownTimeout,omitempty"`
	RequestTimeout  string `yaml:"requestTimeout,omitempty"`
	LogLevel        string `yaml:"logLevel,omitempty"`
}

// FileNames are the names Load looks for, in order.
var FileNames = []string{"coursegen.yml", "coursegen.yaml"}

// Load reads coursegen.yml or coursegen.yaml from dir. It returns the
// defaults (not an error) if no config file exists.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return cfg, nil
	}
	return Default(), nil
}

// Default returns a config with every key at its default.
func Default() *ProjectConfig {
	cfg := &ProjectConfig{}
	cfg.applyDefaults()
	return cfg
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*ProjectConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc != nil {
		if err := validate(doc); err != nil {
			return nil, err
		}
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if _, err := cfg.durations(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks doc against the embedded schema. The document is
// round-tripped through JSON so the validator sees JSON types.
func validate(doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: encode for validation: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("config: encode for validation: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("config: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("config: compile schema: %w", err)
	}
	return schema, nil
}

func (c *ProjectConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Debounce == "" {
		c.Debounce = DefaultDebounce.String()
	}
	if c.AutoSave == nil {
		on := true
		c.AutoSave = &on
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.TeardownTimeout == "" {
		c.TeardownTimeout = DefaultTeardownTimeout.String()
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = DefaultRequestTimeout.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

type durations struct {
	debounce, teardown, request time.Duration
}

func (c *ProjectConfig) durations() (durations, error) {
	var d durations
	for _, f := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"debounce", c.Debounce, &d.debounce},
		{"teardownTimeout", c.TeardownTimeout, &d.teardown},
		{"requestTimeout", c.RequestTimeout, &d.request},
	} {
		v, err := time.ParseDuration(f.val)
		if err != nil {
			return d, fmt.Errorf("config: %s: %w", f.key, err)
		}
		if v <= 0 {
			return d, fmt.Errorf("config: %s must be positive, got %s", f.key, f.val)
		}
		*f.dst = v
	}
	return d, nil
}

// RequestTimeoutDuration returns the REST call timeout.
func (c *ProjectConfig) RequestTimeoutDuration() time.Duration {
	d, err := c.durations()
	if err != nil {
		return DefaultRequestTimeout
	}
	return d.request
}

// ToOrchestrator converts the file settings to the engine's runtime form.
func (c *ProjectConfig) ToOrchestrator() (orchestrator.Config, error) {
	d, err := c.durations()
	if err != nil {
		return orchestrator.Config{}, err
	}
	autoSave := true
	if c.AutoSave != nil {
		autoSave = *c.AutoSave
	}
	return orchestrator.Config{
		DebounceDelay:   d.debounce,
		AutoSave:        autoSave,
		HistoryLimit:    c.HistoryLimit,
		TeardownTimeout: d.teardown,
	}, nil
}
