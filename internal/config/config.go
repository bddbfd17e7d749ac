package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileName is the base name of the configuration file.
const FileName = "bn-loader"

// DefaultBackupRetention is the number of backups kept per profile.
const DefaultBackupRetention = 5

// DefaultBackupFormat stores backups as plain directories. The backup
// package owns the list of valid formats.
const DefaultBackupFormat = "dir"

// ColorMode controls colored terminal output
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ErrProfileNotFound is wrapped when a named profile is not configured.
var ErrProfileNotFound = errors.New("profile not found")

// ConfigError reports an unusable configuration value or profile reference.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Config represents the complete bn-loader configuration
type Config struct {
	Global   GlobalConfig        `toml:"global" yaml:"global"`
	Profiles map[string]*Profile `toml:"profiles" yaml:"profiles"`
	Sync     SyncConfig          `toml:"sync" yaml:"sync"`

	path string
}

// GlobalConfig holds settings that apply to every profile
type GlobalConfig struct {
	DefaultProfile  string    `toml:"default_profile" yaml:"default_profile"`
	Color           ColorMode `toml:"color" yaml:"color"`
	BackupRetention int       `toml:"backup_retention" yaml:"backup_retention"`
	BackupDir       string    `toml:"backup_dir" yaml:"backup_dir"`
	BackupFormat    string    `toml:"backup_format" yaml:"backup_format"`
	StateDir        string    `toml:"state_dir" yaml:"state_dir"`
	Debug           bool      `toml:"debug" yaml:"debug"`
}

// Profile is one installation of the application with its own data directory
type Profile struct {
	Name       string `toml:"-" yaml:"-"`
	InstallDir string `toml:"install_dir" yaml:"install_dir"`
	ConfigDir  string `toml:"config_dir" yaml:"config_dir"`
	Executable string `toml:"executable,omitempty" yaml:"executable,omitempty"`
	Debug      bool   `toml:"debug,omitempty" yaml:"debug,omitempty"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Exclusions []string `toml:"exclusions" yaml:"exclusions"`
	Mirror     bool     `toml:"mirror" yaml:"mirror"`
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML.
func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Pre-populated so keys missing from the file keep their defaults.
	cfg := Config{
		Global: GlobalConfig{BackupRetention: DefaultBackupRetention},
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		_, err = toml.Decode(string(data), &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.path = path

	cfg.expandEnv()

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// expandPath expands environment variables and a leading ~.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Global.BackupDir = expandPath(c.Global.BackupDir)
	c.Global.StateDir = expandPath(c.Global.StateDir)
	for _, p := range c.Profiles {
		if p == nil {
			continue
		}
		p.InstallDir = expandPath(p.InstallDir)
		p.ConfigDir = expandPath(p.ConfigDir)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() error {
	if c.Global.Color == "" {
		c.Global.Color = ColorAuto
	}
	if c.Global.BackupFormat == "" {
		c.Global.BackupFormat = DefaultBackupFormat
	}
	if c.Global.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return err
		}
		c.Global.StateDir = dir
	}
	if c.Global.BackupDir == "" {
		c.Global.BackupDir = filepath.Join(c.Global.StateDir, "backups")
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	for name, p := range c.Profiles {
		if p == nil {
			p = &Profile{}
			c.Profiles[name] = p
		}
		p.Name = name
		if p.Executable == "" {
			p.Executable = DefaultExecutable()
		}
	}
	return nil
}

// DefaultExecutable returns the platform's default application binary name.
func DefaultExecutable() string {
	if runtime.GOOS == "windows" {
		return "binaryninja.exe"
	}
	return "binaryninja"
}

func defaultStateDir() (string, error) {
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "bn-loader"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "bn-loader"), nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Global.Color {
	case ColorAuto, ColorAlways, ColorNever:
		// valid
	default:
		return invalid("global.color", "invalid color mode %q (must be auto, always, or never)", c.Global.Color)
	}

	if c.Global.BackupRetention < 0 {
		return invalid("global.backup_retention", "must not be negative: %d", c.Global.BackupRetention)
	}
	if !filepath.IsAbs(c.Global.StateDir) {
		return invalid("global.state_dir", "must be an absolute path: %s", c.Global.StateDir)
	}
	if !filepath.IsAbs(c.Global.BackupDir) {
		return invalid("global.backup_dir", "must be an absolute path: %s", c.Global.BackupDir)
	}

	seen := make(map[string]string)
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		field := "profiles." + name
		if !ValidProfileName(name) {
			return invalid(field, "invalid profile name: must contain only letters, digits, '-' and '_'")
		}
		if p == nil {
			return invalid(field, "is empty")
		}
		if p.InstallDir == "" {
			return invalid(field+".install_dir", "is required")
		}
		if p.ConfigDir == "" {
			return invalid(field+".config_dir", "is required")
		}
		if !filepath.IsAbs(p.ConfigDir) {
			return invalid(field+".config_dir", "must be an absolute path: %s", p.ConfigDir)
		}
		key := filepath.Clean(p.ConfigDir)
		if other, dup := seen[key]; dup {
			return invalid(field+".config_dir", "same directory as profile %s: %s", other, p.ConfigDir)
		}
		seen[key] = name
	}

	if c.Global.DefaultProfile != "" {
		if _, ok := c.Profiles[c.Global.DefaultProfile]; !ok {
			return invalid("global.default_profile", "%w: %s", ErrProfileNotFound, c.Global.DefaultProfile)
		}
	}

	return nil
}

// Path returns the file the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// ProfileNames returns all configured profile names in sorted order
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (*Profile, error) {
	p, ok := c.Profiles[name]
	if !ok || p == nil {
		return nil, &ConfigError{Field: "profiles", Err: fmt.Errorf("%w: %s", ErrProfileNotFound, name)}
	}
	return p, nil
}

// OtherProfiles returns every profile except the named one, sorted by name
func (c *Config) OtherProfiles(except string) []*Profile {
	var out []*Profile
	for _, name := range c.ProfileNames() {
		if name != except {
			out = append(out, c.Profiles[name])
		}
	}
	return out
}

// ValidProfileName reports whether name is usable as a profile (and TOML table) name
func ValidProfileName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Candidates returns the locations searched for a configuration file, in order.
func Candidates() []string {
	var out []string
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".config")
		out = append(out,
			filepath.Join(dir, FileName+".toml"),
			filepath.Join(dir, FileName+".yaml"),
			filepath.Join(dir, FileName+".yml"),
		)
	}
	if exe, err := os.Executable(); err == nil {
		out = append(out, filepath.Join(filepath.Dir(exe), FileName+".toml"))
	}
	return out
}

// FindConfigFile resolves the configuration file to use. An explicit path
// must exist; otherwise the first existing candidate wins.
func FindConfigFile(custom string) (string, error) {
	if custom != "" {
		custom = expandPath(custom)
		if _, err := os.Stat(custom); err != nil {
			return "", fmt.Errorf("config file not found: %w", err)
		}
		return custom, nil
	}

	candidates := Candidates()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (looked in %s)", strings.Join(candidates, ", "))
}

// AppendProfile adds a profile to the configuration file at path. TOML files
// get a new [profiles.<name>] table appended; YAML files are re-encoded.
func AppendProfile(path, name string, p Profile) error {
	if !ValidProfileName(name) {
		return invalid("profiles."+name, "invalid profile name: must contain only letters, digits, '-' and '_'")
	}

	if isYAML(path) {
		return appendProfileYAML(path, name, p)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "\n[profiles.%s]\n%s", name, buf.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

func appendProfileYAML(path, name string, p Profile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	doc := make(map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	profiles, _ := doc["profiles"].(map[string]any)
	if profiles == nil {
		profiles = make(map[string]any)
	}
	profiles[name] = p
	doc["profiles"] = profiles

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config file: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
