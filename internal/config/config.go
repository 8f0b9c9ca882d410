package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marodse/burrow/internal/logger"
	"github.com/marodse/burrow/internal/tunnel"
	"github.com/spf13/viper"
)

// Env file keys the tunnel facts are published under.
const (
	FactClaimURL      = "PLAYIT_CLAIM_URL"
	FactTunnelAddress = "PLAYIT_TUNNEL_ADDRESS"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	RunDir    string `toml:"run_dir" mapstructure:"run_dir"`
	StateFile string `toml:"state_file" mapstructure:"state_file"`
	// FactsFile is an env-style file the discovered claim URL and
	// tunnel address are written to for other tools to pick up.
	FactsFile string `toml:"facts_file" mapstructure:"facts_file"`

	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Log      LogConfig       `toml:"log" mapstructure:"log"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Tunnel   TunnelConfig    `toml:"tunnel" mapstructure:"tunnel"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type TunnelConfig struct {
	Name                 string        `toml:"name" mapstructure:"name"`
	Command              string        `toml:"command" mapstructure:"command"`
	WorkDir              string        `toml:"workdir" mapstructure:"workdir"`
	Env                  []string      `toml:"env" mapstructure:"env"`
	Domain               string        `toml:"domain" mapstructure:"domain"`
	StartTimeout         time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout          time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	HealthInterval       time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	StaleAfter           time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	FailureThreshold     int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
	AutoReconnect        *bool         `toml:"auto_reconnect" mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
	BackoffCap           time.Duration `toml:"backoff_cap" mapstructure:"backoff_cap"`
}

type ServiceConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Command      string        `toml:"command" mapstructure:"command"`
	WorkDir      string        `toml:"workdir" mapstructure:"workdir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	CheckCommand string        `toml:"check_command" mapstructure:"check_command"`
	StartTimeout time.Duration `toml:"start_timeout" mapstructure:"start_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

// Load parses and validates the TOML config at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults(path)
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults(path string) {
	base := filepath.Dir(path)
	if fc.RunDir == "" {
		fc.RunDir = filepath.Join(base, "run")
	}
	if fc.StateFile == "" {
		fc.StateFile = filepath.Join(fc.RunDir, "tunnel-state.json")
	}
	if fc.Log.Dir == "" {
		fc.Log.Dir = filepath.Join(base, "logs")
	}
	if fc.Server.Listen == "" {
		fc.Server.Listen = "127.0.0.1:8910"
	}
	if fc.Tunnel.Name == "" {
		fc.Tunnel.Name = "playit"
	}
}

func (fc *FileConfig) validate() error {
	seen := map[string]bool{fc.Tunnel.Name: true}
	for _, sc := range fc.Services {
		if sc.Name == "" {
			return fmt.Errorf("service requires name")
		}
		if sc.Command == "" {
			return fmt.Errorf("service %s requires command", sc.Name)
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate service name %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}

// LoggerConfig builds the rotation settings shared by every managed
// process log.
func (fc *FileConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Dir:        fc.Log.Dir,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}

// TunnelManagerConfig assembles the tunnel manager's configuration from
// the tunnel section plus the shared log settings and global env.
func (fc *FileConfig) TunnelManagerConfig() (tunnel.Config, error) {
	env, err := fc.GlobalEnv()
	if err != nil {
		return tunnel.Config{}, err
	}
	auto := true
	if fc.Tunnel.AutoReconnect != nil {
		auto = *fc.Tunnel.AutoReconnect
	}
	return tunnel.Config{
		Name:                 fc.Tunnel.Name,
		Command:              fc.Tunnel.Command,
		WorkDir:              fc.Tunnel.WorkDir,
		Env:                  append(env, fc.Tunnel.Env...),
		Domain:               fc.Tunnel.Domain,
		StateFile:            fc.StateFile,
		StartTimeout:         fc.Tunnel.StartTimeout,
		StopTimeout:          fc.Tunnel.StopTimeout,
		HealthInterval:       fc.Tunnel.HealthInterval,
		StaleAfter:           fc.Tunnel.StaleAfter,
		FailureThreshold:     fc.Tunnel.FailureThreshold,
		AutoReconnect:        auto,
		MaxReconnectAttempts: fc.Tunnel.MaxReconnectAttempts,
		BackoffCap:           fc.Tunnel.BackoffCap,
		Log:                  fc.LoggerConfig(),
	}, nil
}

// GlobalEnv merges env sources for managed processes.
// Precedence: OS env (when enabled) provides base; then env_files in
// order; then the top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// WriteFacts publishes the tunnel facts into the env-style file at
// path, preserving unrelated keys already present. Empty values remove
// the key. The write is atomic.
func WriteFacts(path, claimURL, address string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		m = make(map[string]string)
	}
	set := func(k, v string) {
		if v == "" {
			delete(m, k)
			return
		}
		m[k] = v
	}
	set(FactClaimURL, claimURL)
	set(FactTunnelAddress, address)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadFacts reads back previously published tunnel facts. A missing
// file yields empty facts, not an error.
func ReadFacts(path string) (claimURL, address string, err error) {
	m, err := loadEnvFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", err
	}
	return m[FactClaimURL], m[FactTunnelAddress], nil
}
