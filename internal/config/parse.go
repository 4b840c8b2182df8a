package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/engine-config.schema.json
var schemaJSON string

const schemaURL = "engine-config.schema.json"

var (
	compiledSchema *jsonschema.Schema
	schemaOnce     sync.Once
)

func configSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		compiledSchema = jsonschema.MustCompileString(schemaURL, schemaJSON)
	})
	return compiledSchema
}

// Parse decodes an initialize blob leniently. It always returns a usable
// Config: keys that are missing, malformed or out of range keep their
// defaults. The error, when non-nil, is a ValidationErrors listing what was
// replaced and matches ErrInvalid.
//
// An empty blob (or "{}") yields Default() with a nil error. Unknown keys
// are ignored.
func Parse(blob []byte) (Config, error) {
	cfg := Default()

	data := bytes.TrimSpace(bytes.TrimRight(blob, "\x00"))
	if len(data) == 0 {
		return cfg, nil
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return cfg, ValidationErrors{{Field: "$", Message: fmt.Sprintf("malformed JSON: %v; using defaults", err)}}
	}
	if _, ok := instance.(map[string]any); !ok {
		return cfg, ValidationErrors{{Field: "$", Message: "configuration must be a JSON object; using defaults"}}
	}

	var errs ValidationErrors
	rejected := make(map[string]struct{})
	if err := configSchema().Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			for _, leaf := range schemaLeaves(verr) {
				key := topLevelKey(leaf.InstanceLocation)
				rejected[key] = struct{}{}
				errs = append(errs, ValidationError{Field: key, Message: leaf.Message + "; using default"})
			}
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, append(errs, ValidationError{Field: "$", Message: err.Error()})
	}

	if msg, ok := raw["preset"]; ok {
		if _, bad := rejected["preset"]; !bad {
			var name string
			if err := json.Unmarshal(msg, &name); err != nil || !cfg.ApplyPreset(name) {
				errs = append(errs, ValidationError{Field: "preset", Message: fmt.Sprintf("unknown preset %s; using default", msg)})
			}
		}
	}
	fallback := cfg

	for _, f := range cfg.fields() {
		msg, ok := raw[f.key]
		if !ok {
			continue
		}
		if _, bad := rejected[f.key]; bad {
			continue
		}
		if err := json.Unmarshal(msg, f.ptr); err != nil {
			errs = append(errs, ValidationError{Field: f.key, Message: fmt.Sprintf("cannot decode: %v; using default", err)})
		}
	}

	errs = append(errs, cfg.Sanitize(fallback)...)
	if len(errs) > 0 {
		return cfg, errs
	}
	return cfg, nil
}

// ParseStrict decodes an initialize blob and fails on any problem.
func ParseStrict(blob []byte) (Config, error) {
	cfg, err := Parse(blob)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type field struct {
	key string
	ptr any
}

// fields lists the decodable keys other than preset, in a fixed order.
func (c *Config) fields() []field {
	return []field{
		{"model", &c.Model},
		{"maxTextLength", &c.MaxTextLength},
		{"maxCorrections", &c.MaxCorrections},
		{"activeRegionChars", &c.ActiveRegionChars},
		{"activeRegionWords", &c.ActiveRegionWords},
		{"commitWords", &c.CommitWords},
		{"minWords", &c.MinWords},
		{"confidenceThreshold", &c.ConfidenceThreshold},
		{"maxEditDistance", &c.MaxEditDistance},
		{"latencyBudgetMs", &c.LatencyBudgetMs},
		{"historyDepth", &c.HistoryDepth},
		{"cacheSize", &c.CacheSize},
		{"log", &c.Log},
	}
}

func schemaLeaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var out []*jsonschema.ValidationError
	for _, c := range e.Causes {
		out = append(out, schemaLeaves(c)...)
	}
	return out
}

// topLevelKey returns the first segment of a JSON pointer.
func topLevelKey(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	p = strings.ReplaceAll(p, "~1", "/")
	p = strings.ReplaceAll(p, "~0", "~")
	if p == "" {
		return "$"
	}
	return p
}
