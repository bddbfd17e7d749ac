// Package scaffold creates new profiles from an existing one.
package scaffold

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/bnloader/internal/config"
)

// LicenseFiles are copied from the template into a new profile.
var LicenseFiles = []string{"license.dat", "license.txt"}

// Options describes the profile to create
type Options struct {
	Name      string
	Template  string
	ConfigDir string
}

// Result reports what Init did
type Result struct {
	Profile config.Profile
	Copied  []string
}

// Init creates the data directory of a new profile, copies the template's
// license files into it and appends the profile to the configuration file.
// Nothing is written when validation fails.
func Init(cfg *config.Config, opts Options, logger *slog.Logger) (*Result, error) {
	if !config.ValidProfileName(opts.Name) {
		return nil, &config.ConfigError{
			Field: "profiles." + opts.Name,
			Err:   errors.New("invalid profile name: must contain only letters, digits, '-' and '_'"),
		}
	}

	tmpl, err := cfg.Profile(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}

	if _, exists := cfg.Profiles[opts.Name]; exists {
		return nil, &config.ConfigError{Field: "profiles." + opts.Name, Err: errors.New("profile already exists")}
	}

	if opts.ConfigDir == "" {
		return nil, &config.ConfigError{Field: "config_dir", Err: errors.New("is required")}
	}
	dir, err := filepath.Abs(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, &config.ConfigError{Field: "config_dir", Err: fmt.Errorf("directory already exists: %s", dir)}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to check config directory: %w", err)
	}

	logger.Info("initializing profile", "name", opts.Name, "template", tmpl.Name, "config_dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	res := &Result{Profile: config.Profile{
		Name:       opts.Name,
		InstallDir: tmpl.InstallDir,
		ConfigDir:  dir,
	}}
	if tmpl.Executable != config.DefaultExecutable() {
		res.Profile.Executable = tmpl.Executable
	}

	for _, name := range LicenseFiles {
		src := filepath.Join(tmpl.ConfigDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		res.Copied = append(res.Copied, name)
	}
	if len(res.Copied) == 0 {
		logger.Warn("no license files found in template profile", "config_dir", tmpl.ConfigDir)
	}

	if err := config.AppendProfile(cfg.Path(), opts.Name, res.Profile); err != nil {
		return nil, err
	}
	logger.Info("profile added to configuration", "path", cfg.Path())

	return res, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	// license material stays private to the user
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm()&0o700)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
