// Package config provides map-backed configuration with type-safe
// value extraction for dispatcher wiring.
//
// A Config can be built directly from a map (New) or decoded from
// YAML or JSON bytes and files. Accessors never fail: a missing or
// wrongly-typed key yields the caller's default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Has returns true if the key is present.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int: interpreted as seconds
//   - int64: interpreted as seconds
//   - float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (only if no fractional part)
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// FromFile loads a Config from a YAML or JSON file, chosen by the
// file extension (.yaml, .yml, or .json).
func FromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(raw)
	case ".json":
		return FromJSON(raw)
	default:
		return Config{}, fmt.Errorf("config %s: unrecognized extension %q, want .yaml, .yml, or .json", path, ext)
	}
}

// FromYAML builds a Config from YAML bytes.
func FromYAML(raw []byte) (Config, error) {
	m := make(map[string]any)
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("decode yaml config: %w", err)
	}
	return New(m), nil
}

// FromJSON builds a Config from JSON bytes.
func FromJSON(raw []byte) (Config, error) {
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("decode json config: %w", err)
	}
	return New(m), nil
}
