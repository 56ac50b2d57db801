package gear

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Config is a gear's effective configuration for one automaton.
type Config struct {
	Enabled bool
	Values  map[string]any
}

// ConfigSource resolves gear configuration. Implementations merge the admin
// default for the gear under the per-automaton assignment.
type ConfigSource interface {
	Load(ctx context.Context, automatonID, key string) (Config, error)
}

// String returns the string value at key, trimmed, or "".
func (c Config) String(key string) string {
	v, ok := c.Values[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Bool returns the boolean value at key.
func (c Config) Bool(key string) bool {
	b, _ := c.Values[key].(bool)
	return b
}

// MergeJSON overlays the JSON object override onto base, key by key. Empty
// inputs are treated as {}.
func MergeJSON(base, override string) (map[string]any, error) {
	out := map[string]any{}
	for _, raw := range []string{base, override} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("gear: decode config: %w", err)
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return out, nil
}

// StaticConfig is a ConfigSource serving fixed values per gear key.
type StaticConfig map[string]map[string]any

// Load returns the values for key, enabled.
func (s StaticConfig) Load(ctx context.Context, automatonID, key string) (Config, error) {
	vals := s[key]
	if vals == nil {
		vals = map[string]any{}
	}
	return Config{Enabled: true, Values: vals}, nil
}
