package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a TOML, YAML or JSON configuration file, applies the
// preset it names, environment overrides, and validates the result.
// A missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(Config)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a new configuration loader.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load reads and validates the configuration file.
func (l *Loader) Load() (Config, error) {
	cfg, err := LoadFile(l.path)
	if err != nil {
		return Config{}, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch starts watching the configuration file for changes.
// When changes are detected, the configuration is reloaded and
// registered callbacks are invoked.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go l.watchLoop()

	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer
	debounceDelay := 100 * time.Millisecond

	for {
		select {
		case <-l.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.reportError(err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := LoadFile(l.path)
	if err != nil {
		l.reportError(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]func(Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (l *Loader) reportError(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback to be invoked when the configuration changes.
func (l *Loader) OnChange(cb func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// loadConfigFromFile reads and decodes a config file based on its extension.
func loadConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var decode func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		decode = decodeTOML
	case ".json":
		decode = json.Unmarshal
	case ".yaml", ".yml":
		decode = yaml.Unmarshal
	default:
		decode, err = detectFormat(data)
		if err != nil {
			return Config{}, err
		}
	}

	// The preset must be applied before explicit keys so they win.
	var probe struct {
		Preset string `toml:"preset" json:"preset" yaml:"preset"`
	}
	if err := decode(data, &probe); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg := Default()
	if probe.Preset != "" && !cfg.ApplyPreset(probe.Preset) {
		return Config{}, &ValidationError{Field: "preset", Message: fmt.Sprintf("unknown preset %q", probe.Preset)}
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Preset = strings.ToLower(cfg.Preset)
	return cfg, nil
}

func decodeTOML(data []byte, v any) error {
	_, err := toml.Decode(string(data), v)
	return err
}

// detectFormat picks a decoder for a file without a known extension.
func detectFormat(data []byte) (func([]byte, any) error, error) {
	var probe map[string]any
	if err := decodeTOML(data, &probe); err == nil {
		return decodeTOML, nil
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		return json.Unmarshal, nil
	}
	if err := yaml.Unmarshal(data, &probe); err == nil {
		return yaml.Unmarshal, nil
	}
	return nil, fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}
