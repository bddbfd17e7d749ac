// Package backup snapshots destination content before a sync mutates it and
// rotates old snapshots.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
)

// nameLayout is fixed-width so lexical order equals chronological order.
const nameLayout = "20060102T150405.000000000Z"

// ErrNoBackups is returned when a profile has no backups.
var ErrNoBackups = errors.New("no backups found")

// BackupError reports a snapshot that could not be created or verified.
// The destination has not been modified when it is returned.
type BackupError struct {
	Profile string
	Op      string
	Err     error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup of profile %s failed (%s): %v", e.Profile, e.Op, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// Backup is one stored snapshot.
type Backup struct {
	Profile  string
	Name     string
	Path     string
	Created  time.Time
	Manifest *Manifest
}

// Manager owns the backups below root, one directory per profile.
type Manager struct {
	root   string
	format Format
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager storing new backups in the given format.
func NewManager(root string, format Format, logger *slog.Logger) *Manager {
	if format == "" {
		format = FormatDir
	}
	return &Manager{
		root:   root,
		format: format,
		logger: logger,
		now:    time.Now,
	}
}

// Root returns the directory holding all profile backups.
func (m *Manager) Root() string {
	return m.root
}

func (m *Manager) profileDir(profile string) string {
	return filepath.Join(m.root, profile)
}

// Snapshot copies the current content of relPaths (relative to dataDir) into a
// new backup and verifies it. Paths that do not exist are recorded so a
// restore can remove what the sync created.
func (m *Manager) Snapshot(profile, dataDir string, relPaths []string) (*Backup, error) {
	fail := func(op string, err error) (*Backup, error) {
		return nil, &BackupError{Profile: profile, Op: op, Err: err}
	}

	if err := os.MkdirAll(m.profileDir(profile), 0o755); err != nil {
		return fail("create backup directory", err)
	}

	targets, sources, err := collect(dataDir, relPaths)
	if err != nil {
		return fail("collect", err)
	}

	name, dir, created, err := m.reserve(profile)
	if err != nil {
		return fail("reserve", err)
	}

	manifest := &Manifest{
		Version: manifestVersion,
		Profile: profile,
		DataDir: dataDir,
		Created: created,
		Format:  m.format,
		Targets: targets,
	}

	if err := m.store(dir, sources, manifest); err != nil {
		_ = os.RemoveAll(dir)
		return fail("copy", err)
	}
	if err := writeManifest(dir, manifest); err != nil {
		_ = os.RemoveAll(dir)
		return fail("write manifest", err)
	}
	if err := verify(dir, manifest); err != nil {
		_ = os.RemoveAll(dir)
		return fail("verify", err)
	}

	m.logger.Info("backup created",
		"profile", profile,
		"path", dir,
		"files", len(manifest.Files),
		"format", m.format)

	return &Backup{Profile: profile, Name: name, Path: dir, Created: created, Manifest: manifest}, nil
}

type source struct {
	rel  string
	abs  string
	mode fs.FileMode
	size int64
}

// collect resolves relPaths to targets and the regular files below them.
func collect(dataDir string, relPaths []string) ([]Target, []source, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, rel := range relPaths {
		rel = filepath.ToSlash(filepath.Clean(rel))
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	var targets []Target
	var sources []source
	captured := make(map[string]struct{})

	for _, rel := range paths {
		abs := filepath.Join(dataDir, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				targets = append(targets, Target{Path: rel})
				continue
			}
			return nil, nil, err
		}

		if !info.IsDir() {
			targets = append(targets, Target{Path: rel, Existed: true})
			if _, ok := captured[rel]; !ok {
				captured[rel] = struct{}{}
				sources = append(sources, source{rel: rel, abs: abs, mode: info.Mode().Perm(), size: info.Size()})
			}
			continue
		}

		targets = append(targets, Target{Path: rel, Existed: true, Dir: true})
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			sub, err := filepath.Rel(dataDir, p)
			if err != nil {
				return err
			}
			sub = filepath.ToSlash(sub)
			if _, ok := captured[sub]; ok {
				return nil
			}
			captured[sub] = struct{}{}
			sources = append(sources, source{rel: sub, abs: p, mode: fi.Mode().Perm(), size: fi.Size()})
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return targets, sources, nil
}

// reserve creates a backup directory whose name sorts after every existing
// backup of the profile.
func (m *Manager) reserve(profile string) (string, string, time.Time, error) {
	created := m.now().UTC()

	existing, err := m.List(profile)
	if err != nil {
		return "", "", time.Time{}, err
	}
	if n := len(existing); n > 0 && !created.After(existing[n-1].Created) {
		created = existing[n-1].Created.Add(time.Nanosecond)
	}

	for attempt := 0; attempt < 100; attempt++ {
		name := created.Format(nameLayout)
		dir := filepath.Join(m.profileDir(profile), name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return name, dir, created, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", time.Time{}, err
		}
		created = created.Add(time.Nanosecond)
	}
	return "", "", time.Time{}, fmt.Errorf("could not allocate a unique backup name")
}

func (m *Manager) store(dir string, sources []source, manifest *Manifest) (err error) {
	s, err := newSink(dir, m.format)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); err == nil {
			err = cerr
		}
	}()

	for _, src := range sources {
		f, err := os.Open(src.abs)
		if err != nil {
			return err
		}
		h := xxhash.New()
		err = s.add(src.rel, src.mode, src.size, io.TeeReader(f, h))
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", src.rel, err)
		}
		manifest.Files = append(manifest.Files, File{
			Path: src.rel,
			Size: src.size,
			Mode: src.mode,
			Hash: fmt.Sprintf("%016x", h.Sum64()),
		})
	}
	return nil
}

// verify checks that every file listed in the manifest is stored with the
// recorded content hash.
func verify(dir string, manifest *Manifest) error {
	want := make(map[string]string, len(manifest.Files))
	for _, f := range manifest.Files {
		want[f.Path] = f.Hash
	}

	found := 0
	err := readStored(dir, manifest.Format, func(rel string, _ fs.FileMode, r io.Reader) error {
		expected, ok := want[rel]
		if !ok {
			return fmt.Errorf("unexpected file %s in backup", rel)
		}
		got, err := hashReader(r)
		if err != nil {
			return err
		}
		if got != expected {
			return fmt.Errorf("hash mismatch for %s: expected %s, got %s", rel, expected, got)
		}
		found++
		return nil
	})
	if err != nil {
		return err
	}
	if found != len(want) {
		return fmt.Errorf("backup holds %d of %d files", found, len(want))
	}
	return nil
}

// List returns the profile's backups, oldest first. Directories whose name is
// not a backup timestamp are ignored.
func (m *Manager) List(profile string) ([]Backup, error) {
	entries, err := os.ReadDir(m.profileDir(profile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		created, err := time.Parse(nameLayout, e.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(m.profileDir(profile), e.Name())
		b := Backup{Profile: profile, Name: e.Name(), Path: dir, Created: created}
		if manifest, err := readManifest(dir); err == nil {
			b.Manifest = manifest
		} else {
			m.logger.Debug("backup without readable manifest", "path", dir, "error", err)
		}
		backups = append(backups, b)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name < backups[j].Name
	})
	return backups, nil
}

// Get returns the named backup of a profile.
func (m *Manager) Get(profile, name string) (*Backup, error) {
	backups, err := m.List(profile)
	if err != nil {
		return nil, err
	}
	for i := range backups {
		if backups[i].Name == name {
			return &backups[i], nil
		}
	}
	return nil, fmt.Errorf("backup %s of profile %s: %w", name, profile, ErrNoBackups)
}

// Latest returns the newest backup of a profile.
func (m *Manager) Latest(profile string) (*Backup, error) {
	backups, err := m.List(profile)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, fmt.Errorf("profile %s: %w", profile, ErrNoBackups)
	}
	return &backups[len(backups)-1], nil
}

// Prune deletes the oldest backups so that at most limit remain. A limit of
// zero keeps everything.
func (m *Manager) Prune(profile string, limit int) ([]Backup, error) {
	if limit <= 0 {
		return nil, nil
	}

	backups, err := m.List(profile)
	if err != nil {
		return nil, err
	}
	if len(backups) <= limit {
		return nil, nil
	}

	var removed []Backup
	var errs error
	for _, b := range backups[:len(backups)-limit] {
		if err := os.RemoveAll(b.Path); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to remove backup %s: %w", b.Name, err))
			continue
		}
		m.logger.Info("pruned backup", "profile", profile, "backup", b.Name)
		removed = append(removed, b)
	}
	return removed, errs
}

// RestoreOp is one step of a restore.
type RestoreOp struct {
	Path   string
	Remove bool // the sync created Path, so restoring removes it
}

// Restore puts the backed-up content back into dataDir and removes paths the
// sync created. With dryRun set it only reports the operations.
func (m *Manager) Restore(b *Backup, dataDir string, dryRun bool) ([]RestoreOp, error) {
	if b.Manifest == nil {
		return nil, fmt.Errorf("backup %s has no manifest", b.Name)
	}

	var ops []RestoreOp
	for _, t := range b.Manifest.Targets {
		ops = append(ops, RestoreOp{Path: t.Path, Remove: !t.Existed})
	}
	if dryRun {
		return ops, nil
	}

	for _, t := range b.Manifest.Targets {
		if err := removeInside(dataDir, t.Path); err != nil {
			return nil, err
		}
	}

	err := readStored(b.Path, b.Manifest.Format, func(rel string, mode fs.FileMode, r io.Reader) error {
		dst, err := inside(dataDir, rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chmod(dst, mode)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore backup %s: %w", b.Name, err)
	}

	m.logger.Info("backup restored", "profile", b.Profile, "backup", b.Name, "targets", len(ops))
	return ops, nil
}

func inside(dataDir, rel string) (string, error) {
	dst := filepath.Join(dataDir, filepath.FromSlash(rel))
	r, err := filepath.Rel(dataDir, dst)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", rel, dataDir)
	}
	return dst, nil
}

func removeInside(dataDir, rel string) error {
	dst, err := inside(dataDir, rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}
