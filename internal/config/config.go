// Package config handles engine configuration: defaults, presets,
// lenient parsing of the initialize blob, and file loading for the CLI.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Default correction model identifier.
const DefaultModel = "lexicon-en"

// Preset names.
const (
	PresetStrict   = "strict"
	PresetBalanced = "balanced"
	PresetLenient  = "lenient"
)

// Config holds the engine settings consumed by Initialize.
// A Config is treated as immutable once handed to an engine.
type Config struct {
	// Model selects the correction model.
	Model string `toml:"model" json:"model" yaml:"model"`

	// Preset seeds MinWords, ConfidenceThreshold and MaxEditDistance
	// before explicit keys are applied.
	Preset string `toml:"preset" json:"preset" yaml:"preset"`

	// MaxTextLength is the longest snapshot, in runes, the engine examines.
	// Longer requests are windowed around the cursor.
	MaxTextLength int `toml:"max_text_length" json:"maxTextLength" yaml:"max_text_length"`

	// MaxCorrections caps the corrections returned per call.
	MaxCorrections int `toml:"max_corrections" json:"maxCorrections" yaml:"max_corrections"`

	// ActiveRegionChars is the look-back window before the cursor.
	ActiveRegionChars int `toml:"active_region_chars" json:"activeRegionChars" yaml:"active_region_chars"`

	// ActiveRegionWords optionally caps the look-back to a number of words.
	// Zero disables the cap.
	ActiveRegionWords int `toml:"active_region_words" json:"activeRegionWords" yaml:"active_region_words"`

	// CommitWords is how many complete words must follow a word before it
	// is committed and leaves the active region.
	CommitWords int `toml:"commit_words" json:"commitWords" yaml:"commit_words"`

	// MinWords is the minimum number of words in the active region before
	// any correction is attempted.
	MinWords int `toml:"min_words" json:"minWords" yaml:"min_words"`

	// ConfidenceThreshold drops suggestions scoring below it.
	ConfidenceThreshold float64 `toml:"confidence_threshold" json:"confidenceThreshold" yaml:"confidence_threshold"`

	// MaxEditDistance bounds dictionary matches.
	MaxEditDistance int `toml:"max_edit_distance" json:"maxEditDistance" yaml:"max_edit_distance"`

	// LatencyBudgetMs caps time spent in the model per call.
	LatencyBudgetMs int `toml:"latency_budget_ms" json:"latencyBudgetMs" yaml:"latency_budget_ms"`

	// HistoryDepth is the number of snapshots kept in the edit history.
	HistoryDepth int `toml:"history_depth" json:"historyDepth" yaml:"history_depth"`

	// CacheSize is the number of memoized suggestions. Zero disables the cache.
	CacheSize int `toml:"cache_size" json:"cacheSize" yaml:"cache_size"`

	// Log configures the engine logger.
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`
}

// presetValues are the tunables a preset controls.
type presetValues struct {
	minWords            int
	confidenceThreshold float64
	maxEditDistance     int
}

var presets = map[string]presetValues{
	PresetStrict:   {minWords: 2, confidenceThreshold: 0.7, maxEditDistance: 1},
	PresetBalanced: {minWords: 1, confidenceThreshold: 0.5, maxEditDistance: 2},
	PresetLenient:  {minWords: 1, confidenceThreshold: 0.3, maxEditDistance: 2},
}

// Default returns the balanced default configuration.
func Default() Config {
	cfg := Config{
		Model:             DefaultModel,
		MaxTextLength:     16384,
		MaxCorrections:    8,
		ActiveRegionChars: 50,
		ActiveRegionWords: 0,
		CommitWords:       3,
		LatencyBudgetMs:   20,
		HistoryDepth:      16,
		CacheSize:         4096,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
	cfg.ApplyPreset(PresetBalanced)
	return cfg
}

// ApplyPreset overwrites the preset-controlled fields. Unknown names are
// ignored and report false.
func (c *Config) ApplyPreset(name string) bool {
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return false
	}
	c.Preset = strings.ToLower(name)
	c.MinWords = p.minWords
	c.ConfidenceThreshold = p.confidenceThreshold
	c.MaxEditDistance = p.maxEditDistance
	return true
}

// Presets returns the known preset names.
func Presets() []string {
	return []string{PresetStrict, PresetBalanced, PresetLenient}
}

// ApplyEnvOverrides applies environment variable overrides.
// Variables are prefixed with MINDTYPE_. Only the CLI calls this; the
// shared library reads nothing but the initialize blob.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MINDTYPE_PRESET"); v != "" {
		c.ApplyPreset(v)
	}
	if v := os.Getenv("MINDTYPE_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("MINDTYPE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MINDTYPE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("MINDTYPE_MAX_TEXT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTextLength = n
		}
	}
	if v := os.Getenv("MINDTYPE_LATENCY_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyBudgetMs = n
		}
	}
}
