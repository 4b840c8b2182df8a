package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is matched by every configuration validation error.
var ErrInvalid = errors.New("config invalid")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is reports whether target is ErrInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalid
}

// Fields returns the distinct field names with errors, in order.
func (e ValidationErrors) Fields() []string {
	seen := make(map[string]struct{}, len(e))
	var out []string
	for _, v := range e {
		if _, ok := seen[v.Field]; ok {
			continue
		}
		seen[v.Field] = struct{}{}
		out = append(out, v.Field)
	}
	return out
}

// rule checks one field and knows how to restore it.
type rule struct {
	field string
	check func(c *Config) string
	reset func(c *Config, d *Config)
}

func intRange(get func(c *Config) int, lo, hi int) func(c *Config) string {
	return func(c *Config) string {
		v := get(c)
		if v < lo || v > hi {
			return fmt.Sprintf("%d out of range [%d, %d]", v, lo, hi)
		}
		return ""
	}
}

var rules = []rule{
	{
		field: "model",
		check: func(c *Config) string {
			if strings.TrimSpace(c.Model) == "" {
				return "model cannot be empty"
			}
			return ""
		},
		reset: func(c, d *Config) { c.Model = d.Model },
	},
	{
		field: "preset",
		check: func(c *Config) string {
			if _, ok := presets[c.Preset]; !ok {
				return fmt.Sprintf("unknown preset %q (valid: %s)", c.Preset, strings.Join(Presets(), ", "))
			}
			return ""
		},
		reset: func(c, d *Config) { c.Preset = d.Preset },
	},
	{
		field: "maxTextLength",
		check: intRange(func(c *Config) int { return c.MaxTextLength }, 1, 1<<20),
		reset: func(c, d *Config) { c.MaxTextLength = d.MaxTextLength },
	},
	{
		field: "maxCorrections",
		check: intRange(func(c *Config) int { return c.MaxCorrections }, 1, 256),
		reset: func(c, d *Config) { c.MaxCorrections = d.MaxCorrections },
	},
	{
		field: "activeRegionChars",
		check: intRange(func(c *Config) int { return c.ActiveRegionChars }, 1, 4096),
		reset: func(c, d *Config) { c.ActiveRegionChars = d.ActiveRegionChars },
	},
	{
		field: "activeRegionWords",
		check: intRange(func(c *Config) int { return c.ActiveRegionWords }, 0, 1024),
		reset: func(c, d *Config) { c.ActiveRegionWords = d.ActiveRegionWords },
	},
	{
		field: "commitWords",
		check: intRange(func(c *Config) int { return c.CommitWords }, 1, 64),
		reset: func(c, d *Config) { c.CommitWords = d.CommitWords },
	},
	{
		field: "minWords",
		check: intRange(func(c *Config) int { return c.MinWords }, 0, 64),
		reset: func(c, d *Config) { c.MinWords = d.MinWords },
	},
	{
		field: "confidenceThreshold",
		check: func(c *Config) string {
			if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
				return fmt.Sprintf("%g out of range [0, 1]", c.ConfidenceThreshold)
			}
			return ""
		},
		reset: func(c, d *Config) { c.ConfidenceThreshold = d.ConfidenceThreshold },
	},
	{
		field: "maxEditDistance",
		check: intRange(func(c *Config) int { return c.MaxEditDistance }, 0, 4),
		reset: func(c, d *Config) { c.MaxEditDistance = d.MaxEditDistance },
	},
	{
		field: "latencyBudgetMs",
		check: intRange(func(c *Config) int { return c.LatencyBudgetMs }, 1, 1000),
		reset: func(c, d *Config) { c.LatencyBudgetMs = d.LatencyBudgetMs },
	},
	{
		field: "historyDepth",
		check: intRange(func(c *Config) int { return c.HistoryDepth }, 1, 1024),
		reset: func(c, d *Config) { c.HistoryDepth = d.HistoryDepth },
	},
	{
		field: "cacheSize",
		check: intRange(func(c *Config) int { return c.CacheSize }, 0, 1<<20),
		reset: func(c, d *Config) { c.CacheSize = d.CacheSize },
	},
	{
		field: "log.level",
		check: func(c *Config) string {
			switch strings.ToLower(c.Log.Level) {
			case "debug", "info", "warn", "warning", "error":
				return ""
			}
			return fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
		},
		reset: func(c, d *Config) { c.Log.Level = d.Log.Level },
	},
	{
		field: "log.format",
		check: func(c *Config) string {
			switch strings.ToLower(c.Log.Format) {
			case "text", "json":
				return ""
			}
			return fmt.Sprintf("invalid log format: %s (valid: text, json)", c.Log.Format)
		},
		reset: func(c, d *Config) { c.Log.Format = d.Log.Format },
	},
}

// Validate checks every field and returns ValidationErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	for _, r := range rules {
		if msg := r.check(c); msg != "" {
			errs = append(errs, ValidationError{Field: r.field, Message: msg})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Sanitize restores every invalid field to its value in fallback and
// returns what was replaced. The result always passes Validate.
func (c *Config) Sanitize(fallback Config) ValidationErrors {
	var errs ValidationErrors
	for _, r := range rules {
		if msg := r.check(c); msg != "" {
			errs = append(errs, ValidationError{Field: r.field, Message: msg + "; using default"})
			r.reset(c, &fallback)
		}
	}
	return errs
}
