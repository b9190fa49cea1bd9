// Package config implements C0a's settings layer: compiled-in defaults,
// overlaid by <config-dir>/appsettings.json, overlaid by KB_* environment
// variables, overlaid by an explicit key/value map a collaborator passes
// in. Loading uses viper the way the corpus's own config readers do
// (viper.New + SetConfigFile + ReadInConfig) rather than viper's global
// instance, so multiple engines in one process never share state.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AppSettings is the engine's tunable configuration.
type AppSettings struct {
	DataDir          string        `mapstructure:"dataDir" json:"dataDir"`
	ConfigDir        string        `mapstructure:"configDir" json:"configDir"`
	LANPort          int           `mapstructure:"lanPort" json:"lanPort"`
	LANSharedKey     string        `mapstructure:"lanSharedKey" json:"lanSharedKey"`
	LogLevel         string        `mapstructure:"logLevel" json:"logLevel"`
	RetryBusyDelayMs int           `mapstructure:"retryBusyDelayMs" json:"retryBusyDelayMs"`
	MaxQueryTerms    int           `mapstructure:"maxQueryTerms" json:"maxQueryTerms"`
	MaxHeaderBytes   int           `mapstructure:"maxHeaderBytes" json:"maxHeaderBytes"`
	SocketTimeout    time.Duration `mapstructure:"socketTimeout" json:"socketTimeout"`
}

// RetryBusyDelay is RetryBusyDelayMs as a time.Duration.
func (s AppSettings) RetryBusyDelay() time.Duration {
	return time.Duration(s.RetryBusyDelayMs) * time.Millisecond
}

// Defaults returns the compiled-in baseline, rooted at dataDir/configDir.
func Defaults(dataDir, configDir string) AppSettings {
	return AppSettings{
		DataDir:          dataDir,
		ConfigDir:        configDir,
		LANPort:          5123,
		LogLevel:         "info",
		RetryBusyDelayMs: 250,
		MaxQueryTerms:    8,
		MaxHeaderBytes:   256 * 1024,
		SocketTimeout:    15 * time.Second,
	}
}

// FileName is the settings file name under the config directory.
const FileName = "appsettings.json"

// Load builds AppSettings from defaults, appsettings.json (if present),
// KB_* environment variables, and finally overrides, in ascending
// priority. overrides models the "collaborator-supplied key/value map"
// the spec calls out as the only configuration surface environment
// variables need not cover.
func Load(dataDir, configDir string, overrides map[string]string) (AppSettings, error) {
	defaults := Defaults(dataDir, configDir)

	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("json")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("KB")
	v.AutomaticEnv()

	setViperDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return AppSettings{}, fmt.Errorf("config: read %s: %w", FileName, err)
		}
	}

	var settings AppSettings
	if err := v.Unmarshal(&settings); err != nil {
		return AppSettings{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyOverrides(&settings, overrides)
	return settings, nil
}

func setViperDefaults(v *viper.Viper, d AppSettings) {
	v.SetDefault("dataDir", d.DataDir)
	v.SetDefault("configDir", d.ConfigDir)
	v.SetDefault("lanPort", d.LANPort)
	v.SetDefault("lanSharedKey", d.LANSharedKey)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("retryBusyDelayMs", d.RetryBusyDelayMs)
	v.SetDefault("maxQueryTerms", d.MaxQueryTerms)
	v.SetDefault("maxHeaderBytes", d.MaxHeaderBytes)
	v.SetDefault("socketTimeout", d.SocketTimeout)
}

func applyOverrides(s *AppSettings, overrides map[string]string) {
	for k, val := range overrides {
		switch strings.ToLower(k) {
		case "lanport", "lan_port", "lanport_":
			if n, err := strconv.Atoi(val); err == nil {
				s.LANPort = n
			}
		case "lansharedkey", "lan_shared_key":
			s.LANSharedKey = val
		case "loglevel", "log_level":
			s.LogLevel = val
		case "retrybusydelayms", "retry_busy_delay_ms":
			if n, err := strconv.Atoi(val); err == nil {
				s.RetryBusyDelayMs = n
			}
		case "maxqueryterms", "max_query_terms":
			if n, err := strconv.Atoi(val); err == nil {
				s.MaxQueryTerms = n
			}
		case "maxheaderbytes", "max_header_bytes":
			if n, err := strconv.Atoi(val); err == nil {
				s.MaxHeaderBytes = n
			}
		case "sockettimeout", "socket_timeout":
			if d, err := time.ParseDuration(val); err == nil {
				s.SocketTimeout = d
			}
		}
	}
}

// Persist writes settings to configDir/appsettings.json.
func Persist(configDir string, settings AppSettings) error {
	v := viper.New()
	v.SetConfigType("json")
	setViperDefaults(v, settings)
	path := filepath.Join(configDir, FileName)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", FileName, err)
	}
	return nil
}

// Watcher hot-reloads the mutable subset of AppSettings whenever
// appsettings.json changes on disk, e.g. because an embedding GUI's
// settings screen rewrote it. Immutable fields (DataDir, ConfigDir) are
// logged and ignored if they appear to change live.
type Watcher struct {
	mu       sync.RWMutex
	current  AppSettings
	fsw      *fsnotify.Watcher
	log      *slog.Logger
	onChange func(AppSettings)
}

// NewWatcher starts watching configDir/appsettings.json. onChange, if
// non-nil, is invoked with the reloaded settings after each change.
func NewWatcher(configDir string, initial AppSettings, log *slog.Logger, onChange func(AppSettings)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: create config dir: %w", err)
	}
	if err := fsw.Add(configDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", configDir, err)
	}

	w := &Watcher{current: initial, fsw: fsw, log: log, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := FileName
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	w.mu.RLock()
	prev := w.current
	w.mu.RUnlock()

	next, err := Load(prev.DataDir, prev.ConfigDir, nil)
	if err != nil {
		w.log.Warn("config reload failed", slog.String("error", err.Error()))
		return
	}
	if next.DataDir != prev.DataDir || next.ConfigDir != prev.ConfigDir {
		w.log.Warn("ignoring live change to immutable config field",
			slog.String("dataDir", next.DataDir), slog.String("configDir", next.ConfigDir))
		next.DataDir = prev.DataDir
		next.ConfigDir = prev.ConfigDir
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(next)
	}
}

// Current returns the most recently loaded settings.
func (w *Watcher) Current() AppSettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
