package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"drover/device"
)

// BotConfig is the on-disk configuration.
type BotConfig struct {
	// Serial is the device address, in any form the parser accepts
	// ("127.0.0.1:16384", "16384", "mumu12", "emulator-5554", ...).
	Serial string `json:"serial"`

	// PackageAllowlist and CloudAllowlist are the game packages the bot
	// knows how to drive; package detection intersects them with what is
	// installed on the device.
	PackageAllowlist []string `json:"packageAllowlist"`
	CloudAllowlist   []string `json:"cloudAllowlist"`
	CloudGame        bool     `json:"cloudGame"`

	// PollIntervalSec is the health monitor tick spacing. 0 means default.
	PollIntervalSec int `json:"pollIntervalSec"`

	// DataDir roots logs and the event database. Empty means "./data".
	DataDir string `json:"dataDir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel  string `json:"logLevel"`
	LogToFile bool   `json:"logToFile"`

	// ADBPath overrides the adb binary location; empty means "adb" on PATH.
	ADBPath string `json:"adbPath"`
}

// DefaultBotConfig returns the configuration used when no file exists yet.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Serial:          "127.0.0.1:16384",
		PollIntervalSec: 5,
		DataDir:         "data",
		LogLevel:        "info",
	}
}

// LoadConfig reads the config file, falling back to defaults when it does not
// exist. A malformed file is an error, not a silent fallback.
func LoadConfig(path string) (BotConfig, error) {
	cfg := DefaultBotConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the config as indented JSON, creating parent directories.
func SaveConfig(path string, cfg BotConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConnectConfig converts the file form into the device package's view.
func (c BotConfig) ConnectConfig() device.ConnectConfig {
	return device.ConnectConfig{
		PackageAllowlist: c.PackageAllowlist,
		CloudAllowlist:   c.CloudAllowlist,
		CloudGame:        c.CloudGame,
	}
}

// PollInterval returns the monitor tick spacing.
func (c BotConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return device.DefaultPollInterval
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ParseLogLevel maps the config string onto a LogLevel.
func (c BotConfig) ParseLogLevel() LogLevel {
	switch c.LogLevel {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// ConfigWatcher monitors the config file for external edits and delivers the
// re-parsed config after a debounce window.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	mu      sync.Mutex

	// OnChange receives each successfully re-parsed config.
	OnChange func(BotConfig)
}

func NewConfigWatcher(path string, onChange func(BotConfig)) *ConfigWatcher {
	return &ConfigWatcher{
		path:     path,
		stopCh:   make(chan struct{}),
		OnChange: onChange,
	}
}

// Start begins watching the config file's directory. Watching the directory
// instead of the file survives editors that replace-on-save.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	LogInfo("config").Str("path", w.path).Msg("Started watching config file")

	go w.watch()
	return nil
}

// Stop stops watching. Idempotent.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		LogInfo("config").Msg("Stopped watching config file")
	}
}

func (w *ConfigWatcher) watch() {
	// Debounce: editors fire several events per save.
	var debounceTimer *time.Timer
	debounceDelay := 300 * time.Millisecond

	reload := func() {
		cfg, err := LoadConfig(w.path)
		if err != nil {
			LogWarn("config").Err(err).Msg("Config reload failed, keeping previous")
			return
		}

		// A debounce timer already in flight can fire after Stop; deliver
		// under the lock so Stop returning means no more callbacks.
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watcher == nil {
			return
		}
		LogInfo("config").Str("serial", cfg.Serial).Msg("Config reloaded")
		if w.OnChange != nil {
			w.OnChange(cfg)
		}
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			LogWarn("config").Err(err).Msg("Config watcher error")
		}
	}
}
