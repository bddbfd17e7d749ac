// Package diff compares the scanned data directories of two profiles.
package diff

import (
	"fmt"
	"sort"

	"github.com/schaermu/bnloader/internal/scan"
)

// Change classifies a single difference.
type Change int

const (
	OnlyLeft Change = iota
	OnlyRight
	Modified
	TypeMismatch
)

func (c Change) String() string {
	switch c {
	case OnlyLeft:
		return "only-left"
	case OnlyRight:
		return "only-right"
	case Modified:
		return "modified"
	case TypeMismatch:
		return "type-mismatch"
	default:
		return "unknown"
	}
}

// Entry is one differing path inside an item.
type Entry struct {
	Path   string
	Change Change
	Reason string
}

// ItemDiff lists the differences found for a catalog item present on both sides.
type ItemDiff struct {
	Item    string
	Entries []Entry
}

// Report is the structural comparison of two data directories.
type Report struct {
	Left  string
	Right string

	OnlyLeft  []string // item names
	OnlyRight []string
	Identical []string
	Differing []ItemDiff

	LeftErrors  []*scan.ScanError
	RightErrors []*scan.ScanError
}

// Empty reports whether both sides hold the same synchronizable content.
func (r *Report) Empty() bool {
	return len(r.OnlyLeft) == 0 && len(r.OnlyRight) == 0 && len(r.Differing) == 0
}

// Diff compares left and right item by item in catalog order. Paths inside an
// item are reported in lexical order.
func Diff(left, right *scan.Result) *Report {
	r := &Report{
		Left:        left.Root,
		Right:       right.Root,
		LeftErrors:  left.Errors(),
		RightErrors: right.Errors(),
	}

	for _, l := range left.Items {
		rt := right.Item(l.Name)
		if rt == nil {
			continue
		}

		switch {
		case l.State == scan.Absent && rt.State == scan.Absent:
			continue
		case rt.State == scan.Absent:
			r.OnlyLeft = append(r.OnlyLeft, l.Name)
			continue
		case l.State == scan.Absent:
			r.OnlyRight = append(r.OnlyRight, l.Name)
			continue
		}

		entries := compareItem(l, rt)
		if len(entries) == 0 {
			r.Identical = append(r.Identical, l.Name)
			continue
		}
		r.Differing = append(r.Differing, ItemDiff{Item: l.Name, Entries: entries})
	}
	return r
}

func compareItem(l, r *scan.Item) []Entry {
	if l.State != r.State {
		return []Entry{{
			Path:   l.Name,
			Change: TypeMismatch,
			Reason: fmt.Sprintf("%s on left, %s on right", l.State, r.State),
		}}
	}

	if l.State == scan.File {
		if l.File.SameContent(r.File) {
			return nil
		}
		return []Entry{{Path: l.Name, Change: Modified, Reason: reason(l.File, r.File)}}
	}

	paths := make(map[string]struct{}, len(l.Files)+len(r.Files))
	for p := range l.Files {
		paths[p] = struct{}{}
	}
	for p := range r.Files {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var entries []Entry
	for _, p := range sorted {
		lf, inLeft := l.Files[p]
		rf, inRight := r.Files[p]
		switch {
		case inLeft && inRight:
			if !lf.SameContent(rf) {
				entries = append(entries, Entry{Path: p, Change: Modified, Reason: reason(lf, rf)})
			}
		case inLeft && r.HasDir(p):
			entries = append(entries, Entry{Path: p, Change: TypeMismatch, Reason: "file on left, directory on right"})
		case inRight && l.HasDir(p):
			entries = append(entries, Entry{Path: p, Change: TypeMismatch, Reason: "directory on left, file on right"})
		case inLeft:
			entries = append(entries, Entry{Path: p, Change: OnlyLeft, Reason: "only on left"})
		default:
			entries = append(entries, Entry{Path: p, Change: OnlyRight, Reason: "only on right"})
		}
	}
	return entries
}

func reason(l, r scan.FileInfo) string {
	if l.Size != r.Size {
		return fmt.Sprintf("size differs (%d vs %d bytes)", l.Size, r.Size)
	}
	return fmt.Sprintf("content differs (%s vs %s)", l.Fingerprint(), r.Fingerprint())
}
