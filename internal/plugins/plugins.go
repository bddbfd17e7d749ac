// Package plugins lists the plugins installed in a profile's data directory.
package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	pluginsDir      = "plugins"
	repositoriesDir = "repositories"
	statusFile      = "plugin_status.json"
	metadataFile    = "plugin.json"

	// installedBit is set in pluginStatus for installed repository plugins
	installedBit = 2
)

// Source tells where a plugin came from
type Source int

const (
	Manual Source = iota
	Official
	Community
)

func (s Source) String() string {
	switch s {
	case Manual:
		return "manual"
	case Official:
		return "official"
	case Community:
		return "community"
	default:
		return "unknown"
	}
}

// Plugin describes one installed plugin. Name, Version and Author are empty
// when the metadata does not provide them.
type Plugin struct {
	DirName string
	Name    string
	Version string
	Author  string
	Source  Source
}

// DisplayName returns Name, falling back to DirName.
func (p Plugin) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.DirName
}

type metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author"`
}

type repository struct {
	Plugins []struct {
		metadata
		Path   string `json:"path"`
		Status uint32 `json:"pluginStatus"`
	} `json:"plugins"`
}

// List returns manual plugins below plugins/ and installed repository
// plugins, sorted case-insensitively by display name.
func List(dataDir string) ([]Plugin, error) {
	manual, err := readManual(filepath.Join(dataDir, pluginsDir))
	if err != nil {
		return nil, err
	}
	repo, err := readRepositories(filepath.Join(dataDir, repositoriesDir, statusFile))
	if err != nil {
		return nil, err
	}

	out := append(manual, repo...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName()) < strings.ToLower(out[j].DisplayName())
	})
	return out, nil
}

func readManual(dir string) ([]Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var out []Plugin
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		p := Plugin{DirName: e.Name(), Source: Manual}

		// metadata is optional; unreadable or invalid files are ignored
		if data, err := os.ReadFile(filepath.Join(dir, e.Name(), metadataFile)); err == nil {
			var meta metadata
			if json.Unmarshal(data, &meta) == nil {
				p.Name, p.Version, p.Author = meta.Name, meta.Version, meta.Author
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func readRepositories(path string) ([]Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", statusFile, err)
	}

	var repos []repository
	if err := json.Unmarshal(data, &repos); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", statusFile, err)
	}

	var out []Plugin
	for i, repo := range repos {
		// first repository is the official one
		source := Community
		if i == 0 {
			source = Official
		}
		for _, rp := range repo.Plugins {
			if rp.Status&installedBit == 0 {
				continue
			}
			out = append(out, Plugin{
				DirName: rp.Path,
				Name:    rp.Name,
				Version: rp.Version,
				Author:  rp.Author,
				Source:  source,
			})
		}
	}
	return out, nil
}

// VersionChange is a plugin present on both sides with different versions
type VersionChange struct {
	Left  Plugin
	Right Plugin
}

// Comparison is the plugin-level difference between two profiles
type Comparison struct {
	LeftCount  int
	RightCount int
	OnlyLeft   []Plugin
	OnlyRight  []Plugin
	Versions   []VersionChange
}

// Empty reports whether both sides have the same plugins and versions.
func (c *Comparison) Empty() bool {
	return len(c.OnlyLeft) == 0 && len(c.OnlyRight) == 0 && len(c.Versions) == 0
}

// Compare matches plugins by directory name. The input order is kept.
func Compare(left, right []Plugin) *Comparison {
	c := &Comparison{LeftCount: len(left), RightCount: len(right)}

	rightByDir := make(map[string]Plugin, len(right))
	for _, p := range right {
		rightByDir[p.DirName] = p
	}
	leftDirs := make(map[string]struct{}, len(left))
	for _, p := range left {
		leftDirs[p.DirName] = struct{}{}
		r, ok := rightByDir[p.DirName]
		switch {
		case !ok:
			c.OnlyLeft = append(c.OnlyLeft, p)
		case r.Version != p.Version:
			c.Versions = append(c.Versions, VersionChange{Left: p, Right: r})
		}
	}
	for _, p := range right {
		if _, ok := leftDirs[p.DirName]; !ok {
			c.OnlyRight = append(c.OnlyRight, p)
		}
	}
	return c
}
