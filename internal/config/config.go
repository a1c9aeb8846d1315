package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/phaseseg/internal/phase"
)

// SessionConfig mirrors phase.SessionPolicy with durations as strings
// ("2h", "3d").
type SessionConfig struct {
	Gap    string `json:"gap" yaml:"gap"`
	Window string `json:"window" yaml:"window"`
	Mode   string `json:"mode" yaml:"mode"`
}

// PhasesConfig is the persisted form of phase.Options.
type PhasesConfig struct {
	ArchivalActor     string        `json:"archival_actor" yaml:"archival_actor"`
	AnalystActors     []string      `json:"analyst_actors" yaml:"analyst_actors"`
	IgnorableActors   []string      `json:"ignorable_actors" yaml:"ignorable_actors"`
	CompletionPattern string        `json:"completion_pattern" yaml:"completion_pattern"`
	GracePeriod       string        `json:"grace_period" yaml:"grace_period"`
	ATail             string        `json:"a_tail" yaml:"a_tail"`
	BLookbackWindow   string        `json:"b_lookback_window" yaml:"b_lookback_window"`
	EnforceSameDay    bool          `json:"enforce_same_day" yaml:"enforce_same_day"`
	C1                SessionConfig `json:"c1" yaml:"c1"`
	C2                SessionConfig `json:"c2" yaml:"c2"`
}

type Config struct {
	DataDir         string       `json:"data_dir" yaml:"data_dir"`
	LogLevel        string       `json:"log_level" yaml:"log_level"`
	Workers         int          `json:"workers" yaml:"workers"`
	IncidentTimeout string       `json:"incident_timeout" yaml:"incident_timeout"`
	Phases          PhasesConfig `json:"phases" yaml:"phases"`
	Store           struct {
		Path string `json:"path" yaml:"path"`
	} `json:"store" yaml:"store"`
	Server struct {
		Addr      string  `json:"addr" yaml:"addr"`
		Token     string  `json:"token" yaml:"token"`
		RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
		RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
	} `json:"server" yaml:"server"`
	Notify struct {
		TelegramToken  string `json:"telegram_token" yaml:"telegram_token"`
		TelegramChatID int64  `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	} `json:"notify" yaml:"notify"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	opts := phase.DefaultOptions()
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".phaseseg"),
		LogLevel: "info",
		Workers:  4,
	}
	cfg.Phases = PhasesConfig{
		ArchivalActor:     opts.ArchivalActor,
		AnalystActors:     []string{},
		IgnorableActors:   []string{},
		CompletionPattern: opts.CompletionPattern,
		GracePeriod:       formatDuration(opts.GracePeriod),
		ATail:             formatDuration(opts.ATail),
		BLookbackWindow:   formatDuration(opts.BLookbackWindow),
		C1:                sessionConfig(opts.C1),
		C2:                sessionConfig(opts.C2),
	}
	cfg.Server.Addr = "127.0.0.1:8470"
	cfg.Server.RateBurst = 10
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("PHASESEG_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("PHASESEG_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if db := os.Getenv("PHASESEG_DB"); db != "" {
		cfg.Store.Path = db
	}
	if token := os.Getenv("PHASESEG_SERVER_TOKEN"); token != "" {
		cfg.Server.Token = token
	}
	if token := os.Getenv("PHASESEG_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.TelegramToken = token
	}

	return cfg, nil
}

// StorePath returns the SQLite database path, defaulting to a file in the
// data directory.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "phaseseg.db")
}

// Timeout returns the per-incident time budget, or zero for none.
func (c *Config) Timeout() (time.Duration, error) {
	if c.IncidentTimeout == "" {
		return 0, nil
	}
	d, err := ParseDuration(c.IncidentTimeout)
	if err != nil {
		return 0, fmt.Errorf("incident_timeout: %w", err)
	}
	return d, nil
}

// PhaseOptions converts the phases section into validated segmentation
// options.
func (c *Config) PhaseOptions() (phase.Options, error) {
	p := c.Phases
	opts := phase.Options{
		ArchivalActor:     p.ArchivalActor,
		AnalystActors:     p.AnalystActors,
		IgnorableActors:   p.IgnorableActors,
		CompletionPattern: p.CompletionPattern,
		EnforceSameDay:    p.EnforceSameDay,
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"phases.grace_period", p.GracePeriod, &opts.GracePeriod},
		{"phases.a_tail", p.ATail, &opts.ATail},
		{"phases.b_lookback_window", p.BLookbackWindow, &opts.BLookbackWindow},
		{"phases.c1.gap", p.C1.Gap, &opts.C1.Gap},
		{"phases.c1.window", p.C1.Window, &opts.C1.Window},
		{"phases.c2.gap", p.C2.Gap, &opts.C2.Gap},
		{"phases.c2.window", p.C2.Window, &opts.C2.Window},
	}
	for _, d := range durations {
		v, err := ParseDuration(d.val)
		if err != nil {
			return phase.Options{}, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	var err error
	if opts.C1.Mode, err = phase.ParseDurationMode(p.C1.Mode); err != nil {
		return phase.Options{}, fmt.Errorf("phases.c1.mode: %w", err)
	}
	if opts.C2.Mode, err = phase.ParseDurationMode(p.C2.Mode); err != nil {
		return phase.Options{}, fmt.Errorf("phases.c2.mode: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return phase.Options{}, err
	}
	return opts, nil
}

// ParseDuration accepts Go durations plus a whole-day suffix ("3d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

func sessionConfig(p phase.SessionPolicy) SessionConfig {
	return SessionConfig{
		Gap:    formatDuration(p.Gap),
		Window: formatDuration(p.Window),
		Mode:   string(p.Mode),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically, as YAML when the extension says so and
// JSON otherwise.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := marshal(path, v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a generic nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value keyed by dot path, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := unmarshal(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue reads a single dot-path key from the config file at path.
func GetValue(path, key string) (any, error) {
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes a single dot-path key into the config file at path. The
// value is parsed as JSON when possible ("16", "true", "[\"A\"]") and kept as
// a string otherwise. Keys that do not name a Config field are rejected.
func SetValue(path, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	m, err := readMap(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(m)
	flat[key] = parsed
	return writeFile(path, Unflatten(flat))
}
