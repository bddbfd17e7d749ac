//go:build integration

package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/bnloader/internal/testutil"
)

const commandTimeout = 2 * time.Minute

// Harness runs a freshly built bn-loader binary against a sandbox of
// profiles below one temp directory.
type Harness struct {
	binary  string
	root    string
	cfgPath string
	dirs    map[string]string
}

// BuildBinary compiles cmd/bn-loader into dir and returns the binary path.
func BuildBinary(ctx context.Context, dir string) (string, error) {
	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return "", fmt.Errorf("get project root: %w", err)
	}

	binary := filepath.Join(dir, "bn-loader")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", binary, "./cmd/bn-loader")
	cmd.Dir = projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build: %w\n%s", err, stderr.String())
	}
	return binary, nil
}

// NewHarness writes a TOML config with the given profiles, each with an
// empty data directory. The first profile is the default.
func NewHarness(binary, root string, profiles ...string) (*Harness, error) {
	h := &Harness{
		binary:  binary,
		root:    root,
		cfgPath: filepath.Join(root, "bn-loader.toml"),
		dirs:    make(map[string]string),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[global]\ndefault_profile = %q\ncolor = \"never\"\nbackup_retention = 3\n", profiles[0])
	fmt.Fprintf(&b, "backup_dir = %q\nstate_dir = %q\n", h.BackupDir(), filepath.Join(root, "state"))
	for _, name := range profiles {
		dir := filepath.Join(root, "data", name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		h.dirs[name] = dir
		fmt.Fprintf(&b, "\n[profiles.%s]\ninstall_dir = %q\nconfig_dir = %q\n", name, filepath.Join(root, "install", name), dir)
	}

	if err := os.WriteFile(h.cfgPath, []byte(b.String()), 0o600); err != nil {
		return nil, err
	}
	return h, nil
}

// DataDir returns the data directory of a profile.
func (h *Harness) DataDir(profile string) string {
	return h.dirs[profile]
}

// BackupDir returns the directory holding all backups.
func (h *Harness) BackupDir() string {
	return filepath.Join(h.root, "backups")
}

// ConfigPath returns the config file passed to every command.
func (h *Harness) ConfigPath() string {
	return h.cfgPath
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes bn-loader with the sandbox config. Stdin is empty and not a
// terminal.
func (h *Harness) Run(args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.binary, append([]string{"--config", h.cfgPath}, args...)...)
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}
