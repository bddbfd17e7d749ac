package scaffold

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/bnloader/internal/config"
	"github.com/schaermu/bnloader/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T) (*config.Config, string) {
	t.Helper()
	tmp := t.TempDir()
	stable := filepath.Join(tmp, "stable")
	testutil.WriteTree(t, stable, map[string]string{
		"license.dat":   "LICENSE",
		"settings.json": "{}",
	})

	path := filepath.Join(tmp, "bn-loader.toml")
	content := fmt.Sprintf("[global]\nstate_dir = %q\n\n[profiles.stable]\ninstall_dir = %q\nconfig_dir = %q\n",
		filepath.Join(tmp, "state"), filepath.Join(tmp, "opt"), stable)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, tmp
}

func TestInit(t *testing.T) {
	cfg, tmp := setup(t)
	dir := filepath.Join(tmp, "research")

	res, err := Init(cfg, Options{Name: "research", Template: "stable", ConfigDir: dir}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"license.dat"}, res.Copied)
	assert.Equal(t, "LICENSE", testutil.ReadFile(t, dir, "license.dat"))
	_, err = os.Stat(filepath.Join(dir, "settings.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "only license files are copied")

	reloaded, err := config.Load(cfg.Path())
	require.NoError(t, err)
	p, err := reloaded.Profile("research")
	require.NoError(t, err)
	assert.Equal(t, dir, p.ConfigDir)
	assert.Equal(t, filepath.Join(tmp, "opt"), p.InstallDir)
}

func TestInitWithoutLicense(t *testing.T) {
	cfg, tmp := setup(t)
	require.NoError(t, os.Remove(filepath.Join(tmp, "stable", "license.dat")))

	res, err := Init(cfg, Options{Name: "dev", Template: "stable", ConfigDir: filepath.Join(tmp, "dev")}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, res.Copied)
}

func TestInitRejects(t *testing.T) {
	cfg, tmp := setup(t)
	existing := filepath.Join(tmp, "existing")
	require.NoError(t, os.Mkdir(existing, 0o755))

	before, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
		is   error
	}{
		{name: "invalid name", opts: Options{Name: "bad name", Template: "stable", ConfigDir: filepath.Join(tmp, "x")}},
		{name: "unknown template", opts: Options{Name: "new", Template: "nope", ConfigDir: filepath.Join(tmp, "x")}, is: config.ErrProfileNotFound},
		{name: "existing profile", opts: Options{Name: "stable", Template: "stable", ConfigDir: filepath.Join(tmp, "x")}},
		{name: "existing directory", opts: Options{Name: "new", Template: "stable", ConfigDir: existing}},
		{name: "missing directory", opts: Options{Name: "new", Template: "stable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(cfg, tt.opts, testLogger())
			require.Error(t, err)
			var cerr *config.ConfigError
			assert.ErrorAs(t, err, &cerr)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	after, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "config must not change on rejected init")
	_, err = os.Stat(filepath.Join(tmp, "x"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
