// Package scan reads the current state of a profile's data directory.
// Scanning never modifies the filesystem.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/bnloader/internal/catalog"
)

// State is what was found at a catalog item's path.
type State int

const (
	Absent State = iota
	File
	Tree
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case File:
		return "file"
	case Tree:
		return "tree"
	default:
		return "unknown"
	}
}

// FileInfo describes one regular file.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	Hash    uint64 // xxhash64 of the content
}

// Fingerprint returns the content hash as hex.
func (f FileInfo) Fingerprint() string {
	return fmt.Sprintf("%016x", f.Hash)
}

// SameContent reports whether both files have identical size and hash.
func (f FileInfo) SameContent(o FileInfo) bool {
	return f.Size == o.Size && f.Hash == o.Hash
}

// ScanError records an entry that could not be read. The scan continues.
type ScanError struct {
	Item string
	Path string // relative to the data directory
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Item is the scanned state of a single catalog entry.
type Item struct {
	Name  string
	Kind  catalog.Kind
	State State

	// File is set when State == File.
	File FileInfo

	// Files and Dirs are set when State == Tree. Keys are slash-separated
	// paths relative to the data directory, e.g. "plugins/foo/__init__.py".
	Files map[string]FileInfo
	Dirs  map[string]struct{}

	// Circular lists directories that were skipped because their real
	// path had already been visited.
	Circular []string
	Errors   []*ScanError
}

// Paths returns the item's file paths in lexical order.
func (it *Item) Paths() []string {
	if it.State == File {
		return []string{it.Name}
	}
	paths := make([]string, 0, len(it.Files))
	for p := range it.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup returns the file at rel, for both file and tree items.
func (it *Item) Lookup(rel string) (FileInfo, bool) {
	switch it.State {
	case File:
		if rel == it.Name {
			return it.File, true
		}
	case Tree:
		fi, ok := it.Files[rel]
		return fi, ok
	}
	return FileInfo{}, false
}

// HasDir reports whether rel is a directory inside a tree item.
func (it *Item) HasDir(rel string) bool {
	if it.State != Tree {
		return false
	}
	_, ok := it.Dirs[rel]
	return ok
}

// Result is a snapshot of one data directory.
type Result struct {
	Root    string
	Missing bool
	Items   []*Item // catalog order

	// Extras are top-level entry names that are not catalog items.
	Extras []string
}

// Item returns the scanned item with the given catalog name, or nil.
func (r *Result) Item(name string) *Item {
	for _, it := range r.Items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

// Errors returns every ScanError in catalog order.
func (r *Result) Errors() []*ScanError {
	var errs []*ScanError
	for _, it := range r.Items {
		errs = append(errs, it.Errors...)
	}
	return errs
}

// Scan inspects every catalog item below dataDir. A dataDir that does not
// exist yields an all-absent result with Missing set.
func Scan(dataDir string) (*Result, error) {
	res := &Result{Root: dataDir}
	for _, ci := range catalog.Items() {
		res.Items = append(res.Items, &Item{Name: ci.Name, Kind: ci.Kind})
	}

	info, err := os.Stat(dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Missing = true
			return res, nil
		}
		return nil, fmt.Errorf("failed to stat data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", dataDir)
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, e := range entries {
		if catalog.Index(e.Name()) < 0 {
			res.Extras = append(res.Extras, e.Name())
		}
	}

	for _, it := range res.Items {
		scanItem(dataDir, it)
	}
	return res, nil
}

// ScanAll scans several data directories concurrently. Results are returned
// in the order of dirs.
func ScanAll(ctx context.Context, dirs []string) ([]*Result, error) {
	results := make([]*Result, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Scan(dir)
			if err != nil {
				return fmt.Errorf("scan %s: %w", dir, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanItem(dataDir string, it *Item) {
	abs := filepath.Join(dataDir, it.Name)

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, lerr := os.Lstat(abs); lerr == nil {
				it.Errors = append(it.Errors, &ScanError{Item: it.Name, Path: it.Name, Err: fmt.Errorf("dangling symlink: %w", err)})
			}
			return
		}
		it.Errors = append(it.Errors, &ScanError{Item: it.Name, Path: it.Name, Err: err})
		return
	}

	switch {
	case info.IsDir():
		it.State = Tree
		it.Files = make(map[string]FileInfo)
		it.Dirs = make(map[string]struct{})
		w := &walker{item: it, visited: make(map[string]struct{})}
		w.walk(abs, it.Name)
	case info.Mode().IsRegular():
		fi, err := statFile(abs, info)
		if err != nil {
			it.Errors = append(it.Errors, &ScanError{Item: it.Name, Path: it.Name, Err: err})
			return
		}
		it.State = File
		it.File = fi
	default:
		it.Errors = append(it.Errors, &ScanError{Item: it.Name, Path: it.Name, Err: fmt.Errorf("unsupported file type %s", info.Mode().Type())})
	}
}

type walker struct {
	item    *Item
	visited map[string]struct{}
}

func (w *walker) fail(rel string, err error) {
	w.item.Errors = append(w.item.Errors, &ScanError{Item: w.item.Name, Path: rel, Err: err})
}

func (w *walker) walk(abs, rel string) {
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		w.fail(rel, err)
		return
	}
	if _, seen := w.visited[real]; seen {
		w.item.Circular = append(w.item.Circular, rel)
		return
	}
	w.visited[real] = struct{}{}
	w.item.Dirs[rel] = struct{}{}

	entries, err := os.ReadDir(abs)
	if err != nil {
		w.fail(rel, err)
		return
	}

	for _, e := range entries {
		childAbs := filepath.Join(abs, e.Name())
		childRel := rel + "/" + e.Name()

		// Stat follows symlinks.
		info, err := os.Stat(childAbs)
		if err != nil {
			w.fail(childRel, err)
			continue
		}

		switch {
		case info.IsDir():
			w.walk(childAbs, childRel)
		case info.Mode().IsRegular():
			fi, err := statFile(childAbs, info)
			if err != nil {
				w.fail(childRel, err)
				continue
			}
			w.item.Files[childRel] = fi
		default:
			w.fail(childRel, fmt.Errorf("unsupported file type %s", info.Mode().Type()))
		}
	}
}

func statFile(path string, info fs.FileInfo) (FileInfo, error) {
	sum, err := HashFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
		Hash:    sum,
	}, nil
}

// HashFile computes the xxhash64 of a file's content.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
