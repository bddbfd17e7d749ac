package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

const dataDirName = "data"

// Format selects how captured files are stored.
type Format string

const (
	FormatDir    Format = "dir"
	FormatTarZst Format = "tar.zst"
	FormatTarGz  Format = "tar.gz"
)

// ParseFormat validates a configured format name. Empty selects FormatDir.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatDir:
		return FormatDir, nil
	case FormatTarZst, FormatTarGz:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown backup format %q (must be dir, tar.zst or tar.gz)", s)
	}
}

func (f Format) archiveName() string {
	return "data." + string(f)
}

// sink receives the captured files of one backup.
type sink interface {
	add(rel string, mode fs.FileMode, size int64, r io.Reader) error
	close() error
}

func newSink(dir string, format Format) (sink, error) {
	if format == FormatDir {
		return &dirSink{root: filepath.Join(dir, dataDirName)}, nil
	}

	f, err := os.Create(filepath.Join(dir, format.archiveName()))
	if err != nil {
		return nil, err
	}

	var comp io.WriteCloser
	switch format {
	case FormatTarZst:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		comp = enc
	case FormatTarGz:
		comp = pgzip.NewWriter(f)
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unsupported backup format %q", format)
	}

	return &archiveSink{file: f, comp: comp, tw: tar.NewWriter(comp)}, nil
}

type dirSink struct {
	root string
}

func (s *dirSink) add(rel string, mode fs.FileMode, _ int64, r io.Reader) error {
	dst := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *dirSink) close() error {
	return nil
}

type archiveSink struct {
	file *os.File
	comp io.WriteCloser
	tw   *tar.Writer
}

func (s *archiveSink) add(rel string, mode fs.FileMode, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:     rel,
		Mode:     int64(mode.Perm()),
		Size:     size,
		Typeflag: tar.TypeReg,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(s.tw, r)
	return err
}

func (s *archiveSink) close() error {
	err := s.tw.Close()
	if cerr := s.comp.Close(); err == nil {
		err = cerr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// readStored calls fn for every file stored in the backup at dir.
func readStored(dir string, format Format, fn func(rel string, mode fs.FileMode, r io.Reader) error) error {
	if format == FormatDir {
		root := filepath.Join(dir, dataDirName)
		return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == root {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			return fn(filepath.ToSlash(rel), info.Mode().Perm(), f)
		})
	}

	f, err := os.Open(filepath.Join(dir, format.archiveName()))
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader
	switch format {
	case FormatTarZst:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer dec.Close()
		r = dec
	case FormatTarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer func() {
			_ = gz.Close()
		}()
		r = gz
	default:
		return fmt.Errorf("unsupported backup format %q", format)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("archive entry %q escapes the backup", hdr.Name)
		}
		if err := fn(name, fs.FileMode(hdr.Mode).Perm(), tr); err != nil {
			return err
		}
	}
}

func hashReader(r io.Reader) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
