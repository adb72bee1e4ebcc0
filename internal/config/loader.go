package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// writeMu serializes read-modify-write edits of the config file.
var writeMu sync.Mutex

// Get returns the current in-memory config (hot-reloaded when the file changes).
// It is nil until Set is called.
func Get() *Config { return current.Load() }

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

// EnabledSources returns the package names the messaging bridge forwards,
// read from the current config on every call.
func EnabledSources() []string {
	cfg := Get()
	if cfg == nil {
		return nil
	}
	return cfg.Messaging.Apps
}

// Store exposes the live config to components that take it as a dependency.
type Store struct{}

func (Store) EnabledSources() []string { return EnabledSources() }

//go:embed config.example.yaml
var exampleConfigBytes []byte

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, filepath.Dir(path))
	return cfg, nil
}

// LoadFromExample unmarshals the embedded config.example.yaml as the default config.
func LoadFromExample(baseDir string) (*Config, error) {
	cfg, err := parse(exampleConfigBytes)
	if err != nil {
		return nil, fmt.Errorf("example config: %w", err)
	}
	resolveRelativePaths(cfg, baseDir)
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyLoadDefaults(&cfg)
	return &cfg, nil
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	// An unexpanded ${VAR} means the variable was not set.
	if envVarPattern.MatchString(cfg.Gateway.Auth.Token) {
		cfg.Gateway.Auth.Token = ""
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Messaging.Apps == nil {
		cfg.Messaging.Apps = def.Messaging.Apps
	}
	defaultInt(&cfg.Messaging.IconSize, def.Messaging.IconSize)
	defaultInt(&cfg.Messaging.SmallImageSize, def.Messaging.SmallImageSize)
	defaultInt(&cfg.Messaging.LargeImageSize, def.Messaging.LargeImageSize)
	defaultInt(&cfg.Messaging.JPEGQuality, def.Messaging.JPEGQuality)
	if cfg.Music.PreferredApp == "" {
		cfg.Music.PreferredApp = def.Music.PreferredApp
	}
	defaultInt(&cfg.Music.SyncIntervalMs, def.Music.SyncIntervalMs)
	defaultInt(&cfg.Music.ArtSmallSize, def.Music.ArtSmallSize)
	defaultInt(&cfg.Music.ArtLargeSize, def.Music.ArtLargeSize)
	defaultInt(&cfg.Music.JPEGQuality, def.Music.JPEGQuality)
	defaultInt(&cfg.Bridge.DrainTimeoutMs, def.Bridge.DrainTimeoutMs)
	if cfg.Sources.Instances == nil {
		cfg.Sources.Instances = []SourceInstanceConfig{}
	}
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func resolveRelativePaths(cfg *Config, baseDir string) {
	for i, inst := range cfg.Sources.Instances {
		if inst.Path != "" && !filepath.IsAbs(inst.Path) {
			cfg.Sources.Instances[i].Path = filepath.Join(baseDir, inst.Path)
		}
	}
}

// ResolveHome returns the ANOTHERGLASS_HOME directory.
// Priority: ANOTHERGLASS_HOME env > ~/.anotherglass/
func ResolveHome() string {
	if home := os.Getenv("ANOTHERGLASS_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".anotherglass"
	}
	return filepath.Join(userHome, ".anotherglass")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > ANOTHERGLASS_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

var pathOverride atomic.Pointer[string]

// SetPath pins the process-wide config path (the --config flag).
func SetPath(p string) {
	pathOverride.Store(&p)
}

// Path returns the process-wide config file path.
func Path() string {
	if p := pathOverride.Load(); p != nil && *p != "" {
		return *p
	}
	return ResolveConfigPath("")
}

// GenerateToken returns a random hex token (32 bytes = 64 chars) for gateway auth.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "fallback-token-please-set-gateway-auth-token-in-config"
	}
	return hex.EncodeToString(b)
}

// CreateFromExample writes the embedded config.example.yaml to targetPath with the
// token placeholder replaced by a generated token.
func CreateFromExample(targetPath string) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	token := GenerateToken()
	content := strings.ReplaceAll(string(exampleConfigBytes), "${ANOTHERGLASS_TOKEN}", token)
	if err := os.WriteFile(targetPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Write marshals cfg to YAML and writes it to path. Creates parent directory if needed.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Update loads the file at path (or the defaults when it does not exist yet),
// applies fn, writes it back and makes the result current.
func Update(path string, fn func(*Config) error) (*Config, error) {
	writeMu.Lock()
	defer writeMu.Unlock()

	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = DefaultConfig()
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := Write(path, cfg); err != nil {
		return nil, err
	}
	Set(cfg)
	return cfg, nil
}

// AddMessagingApp enables forwarding for packageName. It reports whether the
// list changed.
func AddMessagingApp(path, packageName string) (bool, error) {
	packageName = strings.TrimSpace(packageName)
	if packageName == "" {
		return false, fmt.Errorf("package name required")
	}
	changed := false
	_, err := Update(path, func(cfg *Config) error {
		if slices.Contains(cfg.Messaging.Apps, packageName) {
			return nil
		}
		cfg.Messaging.Apps = append(cfg.Messaging.Apps, packageName)
		changed = true
		return nil
	})
	return changed, err
}

// RemoveMessagingApp disables forwarding for packageName. It reports whether the
// list changed.
func RemoveMessagingApp(path, packageName string) (bool, error) {
	changed := false
	_, err := Update(path, func(cfg *Config) error {
		before := len(cfg.Messaging.Apps)
		cfg.Messaging.Apps = slices.DeleteFunc(cfg.Messaging.Apps, func(p string) bool { return p == packageName })
		changed = len(cfg.Messaging.Apps) != before
		if cfg.Messaging.Apps == nil {
			cfg.Messaging.Apps = []string{}
		}
		return nil
	})
	return changed, err
}

// ParseLevel maps log.level to a slog level; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
