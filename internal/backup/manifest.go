package backup

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	manifestName    = "manifest.json"
	manifestVersion = 1
)

// Manifest describes the content of one backup.
type Manifest struct {
	Version int       `json:"version"`
	Profile string    `json:"profile"`
	DataDir string    `json:"data_dir"`
	Created time.Time `json:"created"`
	Format  Format    `json:"format"`

	// Targets are the paths the sync was about to mutate.
	Targets []Target `json:"targets"`

	// Files are the regular files captured for the existing targets.
	Files []File `json:"files"`
}

// Target is a data-directory path covered by the backup.
type Target struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`
	Dir     bool   `json:"dir,omitempty"`
}

// File is a captured regular file.
type File struct {
	Path string      `json:"path"`
	Size int64       `json:"size"`
	Mode fs.FileMode `json:"mode"`
	Hash string      `json:"hash"`
}

func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0o644)
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
