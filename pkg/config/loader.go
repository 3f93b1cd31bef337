package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// LoadEngineConfig loads and validates an EngineConfig manifest. Defaults are
// filled for omitted fields and relative paths resolve against the manifest's
// directory.
func LoadEngineConfig(filename string) (*EngineConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseEngineConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.Spec.ConfigDir = filepath.Dir(filename)
	cfg.Spec.resolvePaths()
	return cfg, nil
}

// ParseEngineConfig decodes and validates an EngineConfig manifest.
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	if err := ValidateEngineConfig(data); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	cfg := &EngineConfig{Spec: DefaultEngineConfig()}
	if err := decodeManifest(data, cfg); err != nil {
		return nil, err
	}
	cfg.Spec.applyDefaults()
	if err := cfg.Spec.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTaskDefinition loads and validates a TaskDefinition manifest.
func LoadTaskDefinition(filename string) (*TaskDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read task definition: %w", err)
	}
	def, err := ParseTaskDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return def, nil
}

// ParseTaskDefinition decodes and validates a TaskDefinition manifest.
func ParseTaskDefinition(data []byte) (*TaskDefinition, error) {
	if err := ValidateTaskDefinition(data); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	var def TaskDefinition
	if err := decodeManifest(data, &def); err != nil {
		return nil, err
	}
	if err := validateSemanticVersion(def.Spec.Version); err != nil {
		return nil, &ValidationError{Field: "spec.version", Message: err.Error(), Value: def.Spec.Version}
	}
	return &def, nil
}

// decodeManifest routes YAML through JSON so the engine's JSON codecs
// (label restrictions, attribute specs) apply unchanged.
func decodeManifest(data []byte, out any) error {
	jsonData, err := yamlToJSON(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	return nil
}

// validateSemanticVersion requires MAJOR.MINOR.PATCH, with or without a
// leading "v".
func validateSemanticVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version is empty")
	}
	if _, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v")); err != nil {
		return fmt.Errorf("invalid semantic version: %w", err)
	}
	return nil
}

func (s *EngineConfigSpec) applyDefaults() {
	if s.Backend.Timeout == "" {
		s.Backend.Timeout = DefaultBackendTimeout
	}
	if s.StateStore.Type == "" {
		s.StateStore.Type = StoreMemory
	}
	if s.StateStore.Type == StoreSQLite && s.StateStore.SQLite == nil {
		s.StateStore.SQLite = &SQLiteStoreConfig{Path: DefaultSQLitePath}
	}
	if s.Metrics != nil && s.Metrics.Path == "" {
		s.Metrics.Path = DefaultMetricsPath
	}
}

func (s *EngineConfigSpec) resolvePaths() {
	if s.ConfigDir == "" {
		return
	}
	for i, f := range s.TaskFiles {
		s.TaskFiles[i] = s.resolve(f)
	}
	if s.StateStore.SQLite != nil {
		s.StateStore.SQLite.Path = s.resolve(s.StateStore.SQLite.Path)
	}
}

func (s *EngineConfigSpec) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.ConfigDir, path)
}

// Validate checks the values the schema cannot express.
func (s *EngineConfigSpec) Validate() error {
	if _, err := s.BackendTimeout(); err != nil {
		return &ValidationError{Field: "backend.timeout", Message: "must be a duration", Value: s.Backend.Timeout}
	}
	switch s.StateStore.Type {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if s.StateStore.Redis == nil {
			return &ValidationError{Field: "stateStore.redis", Message: "required for redis store"}
		}
		if _, err := s.StateStore.Redis.ttl(); err != nil {
			return &ValidationError{Field: "stateStore.redis.ttl", Message: "must be a duration", Value: s.StateStore.Redis.TTL}
		}
	default:
		return &ValidationError{
			Field:   "stateStore.type",
			Message: "must be one of: memory, redis, sqlite",
			Value:   s.StateStore.Type,
		}
	}
	return s.Logging.Validate()
}

// BackendTimeout parses Backend.Timeout, falling back to the default.
func (s *EngineConfigSpec) BackendTimeout() (time.Duration, error) {
	timeout := s.Backend.Timeout
	if timeout == "" {
		timeout = DefaultBackendTimeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}
