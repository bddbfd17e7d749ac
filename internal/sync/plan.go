package sync

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/schaermu/bnloader/internal/exclude"
	"github.com/schaermu/bnloader/internal/scan"
)

// ActionKind classifies a planned action
type ActionKind int

const (
	Copy ActionKind = iota
	Overwrite
	Delete
	Skip
)

func (k ActionKind) String() string {
	switch k {
	case Copy:
		return "copy"
	case Overwrite:
		return "overwrite"
	case Delete:
		return "delete"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Reason qualifies Overwrite and Skip actions
type Reason string

const (
	ReasonExcluded       Reason = "excluded"
	ReasonIdentical      Reason = "identical"
	ReasonAbsentInSource Reason = "absent-in-source"
	ReasonUnreadable     Reason = "unreadable"
	ReasonContentDiffers Reason = "content-differs"
	ReasonTypeMismatch   Reason = "type-mismatch"
)

// Action is one step of a sync plan. Path is slash separated and relative to
// both data directories.
type Action struct {
	Kind    ActionKind
	Item    string
	Path    string
	Reason  Reason
	Pattern string // exclusion pattern for Skip(excluded)
	Dir     bool   // Path is created as a directory
	Detail  string
}

// Mutating reports whether applying the action changes the destination.
func (a Action) Mutating() bool {
	return a.Kind == Copy || a.Kind == Overwrite || a.Kind == Delete
}

// Plan is the ordered list of actions for one source/destination pair. The
// same value drives dry-run reporting and real execution.
type Plan struct {
	Source    string
	Dest      string
	SourceDir string
	DestDir   string
	Mirror    bool
	Actions   []Action
}

// PlanOptions configures BuildPlan
type PlanOptions struct {
	Source string
	Dest   string
	Mirror bool
}

// Counts summarizes a plan or an execution log.
type Counts struct {
	Copied      int
	Overwritten int
	Deleted     int
	Skipped     int
	Failed      int
}

// Total returns the number of counted actions.
func (c Counts) Total() int {
	return c.Copied + c.Overwritten + c.Deleted + c.Skipped + c.Failed
}

// Counts tallies the plan by action kind. Unreadable skips count as failed.
func (p *Plan) Counts() Counts {
	var c Counts
	for _, a := range p.Actions {
		switch {
		case a.Kind == Skip && a.Reason == ReasonUnreadable:
			c.Failed++
		case a.Kind == Copy:
			c.Copied++
		case a.Kind == Overwrite:
			c.Overwritten++
		case a.Kind == Delete:
			c.Deleted++
		default:
			c.Skipped++
		}
	}
	return c
}

// Mutating reports whether any action changes the destination.
func (p *Plan) Mutating() bool {
	for _, a := range p.Actions {
		if a.Mutating() {
			return true
		}
	}
	return false
}

// MutatedPaths returns the destination paths the plan will change, in plan order.
func (p *Plan) MutatedPaths() []string {
	var paths []string
	for _, a := range p.Actions {
		if a.Mutating() {
			paths = append(paths, a.Path)
		}
	}
	return paths
}

// SourcePath returns the absolute source path of an action.
func (p *Plan) SourcePath(a Action) string {
	return filepath.Join(p.SourceDir, filepath.FromSlash(a.Path))
}

// DestPath returns the absolute destination path of an action.
func (p *Plan) DestPath(a Action) string {
	return filepath.Join(p.DestDir, filepath.FromSlash(a.Path))
}

// BuildPlan classifies every catalog item of src against dst. Items are
// visited in catalog order, paths within an item lexically, and excluded
// top-level extras come last. The result depends only on its inputs.
func BuildPlan(src, dst *scan.Result, set *exclude.Set, opts PlanOptions) *Plan {
	plan := &Plan{
		Source:    opts.Source,
		Dest:      opts.Dest,
		SourceDir: src.Root,
		DestDir:   dst.Root,
		Mirror:    opts.Mirror,
	}

	for _, s := range src.Items {
		d := dst.Item(s.Name)
		if d == nil {
			d = &scan.Item{Name: s.Name, Kind: s.Kind}
		}
		plan.Actions = append(plan.Actions, planItem(s, d, set, opts.Mirror)...)
	}

	for _, name := range src.Extras {
		if p, ok := set.Match(name); ok {
			plan.Actions = append(plan.Actions, Action{
				Kind:    Skip,
				Path:    name,
				Reason:  ReasonExcluded,
				Pattern: p.String(),
			})
		}
	}

	return plan
}

func planItem(s, d *scan.Item, set *exclude.Set, mirror bool) []Action {
	if s.State == scan.Absent {
		if len(s.Errors) > 0 {
			return []Action{unreadable(s.Name, s.Errors[0])}
		}
		if d.State != scan.Absent {
			return []Action{{Kind: Skip, Item: s.Name, Path: s.Name, Reason: ReasonAbsentInSource}}
		}
		return nil
	}

	if p, ok := set.Match(s.Name); ok {
		return []Action{{Kind: Skip, Item: s.Name, Path: s.Name, Reason: ReasonExcluded, Pattern: p.String()}}
	}

	if s.State == scan.File {
		return []Action{planFile(s.Name, s.Name, s.File, d)}
	}

	if pattern, ok := fullyExcluded(s, set); ok {
		return []Action{{Kind: Skip, Item: s.Name, Path: s.Name, Reason: ReasonExcluded, Pattern: pattern}}
	}

	return planTree(s, d, set, mirror)
}

func planFile(item, rel string, fi scan.FileInfo, d *scan.Item) Action {
	a := Action{Item: item, Path: rel}
	switch {
	case d.State == scan.Absent:
		a.Kind = Copy
	case d.State == scan.Tree && rel == item:
		a.Kind = Overwrite
		a.Reason = ReasonTypeMismatch
		a.Detail = "destination is a directory"
	default:
		dfi, ok := d.Lookup(rel)
		switch {
		case !ok && d.HasDir(rel):
			a.Kind = Overwrite
			a.Reason = ReasonTypeMismatch
			a.Detail = "destination is a directory"
		case !ok:
			a.Kind = Copy
		case fi.SameContent(dfi):
			a.Kind = Skip
			a.Reason = ReasonIdentical
		default:
			a.Kind = Overwrite
			a.Reason = ReasonContentDiffers
			a.Detail = contentDetail(fi, dfi)
		}
	}
	return a
}

func contentDetail(src, dst scan.FileInfo) string {
	if src.Size != dst.Size {
		return "size differs"
	}
	return "hash differs (" + src.Fingerprint() + " vs " + dst.Fingerprint() + ")"
}

func unreadable(item string, err *scan.ScanError) Action {
	return Action{Kind: Skip, Item: item, Path: err.Path, Reason: ReasonUnreadable, Detail: err.Err.Error()}
}

// fullyExcluded reports whether every file of a non-empty tree is excluded,
// returning the pattern when a single one covers all of them.
func fullyExcluded(s *scan.Item, set *exclude.Set) (string, bool) {
	if len(s.Files) == 0 || len(s.Errors) > 0 {
		return "", false
	}
	pattern := ""
	for i, rel := range s.Paths() {
		p, ok := set.Match(rel)
		if !ok {
			return "", false
		}
		if i == 0 {
			pattern = p.String()
		} else if pattern != p.String() {
			pattern = ""
		}
	}
	return pattern, true
}

func planTree(s, d *scan.Item, set *exclude.Set, mirror bool) []Action {
	// the item directory itself could not be listed
	for _, serr := range s.Errors {
		if serr.Path == s.Name {
			return []Action{unreadable(s.Name, serr)}
		}
	}

	var actions []Action

	// dest file where the source has a directory: replace the node first
	replaced := make(map[string]struct{})
	dest := d
	switch d.State {
	case scan.File:
		actions = append(actions, Action{
			Kind: Overwrite, Item: s.Name, Path: s.Name, Reason: ReasonTypeMismatch,
			Dir: true, Detail: "destination is a file",
		})
		dest = &scan.Item{Name: d.Name, Kind: d.Kind}
	case scan.Absent:
		if len(s.Files) == 0 {
			actions = append(actions, Action{Kind: Copy, Item: s.Name, Path: s.Name, Dir: true})
		}
	}

	for rel, fi := range s.Files {
		if p, ok := set.Match(rel); ok {
			actions = append(actions, Action{Kind: Skip, Item: s.Name, Path: rel, Reason: ReasonExcluded, Pattern: p.String()})
			continue
		}
		if anc, ok := fileAncestor(dest, rel); ok {
			if _, done := replaced[anc]; !done {
				replaced[anc] = struct{}{}
				actions = append(actions, Action{
					Kind: Overwrite, Item: s.Name, Path: anc, Reason: ReasonTypeMismatch,
					Dir: true, Detail: "destination is a file",
				})
			}
			actions = append(actions, Action{Kind: Copy, Item: s.Name, Path: rel})
			continue
		}
		a := planFile(s.Name, rel, fi, dest)
		if a.Reason == ReasonTypeMismatch {
			replaced[rel] = struct{}{}
		}
		actions = append(actions, a)
	}

	for _, serr := range s.Errors {
		if p, ok := set.Match(serr.Path); ok {
			actions = append(actions, Action{Kind: Skip, Item: s.Name, Path: serr.Path, Reason: ReasonExcluded, Pattern: p.String()})
			continue
		}
		actions = append(actions, unreadable(s.Name, serr))
	}

	if dest.State == scan.Tree {
		for rel := range dest.Files {
			if _, ok := s.Files[rel]; ok || under(rel, replaced) || failedBelow(rel, s.Errors) {
				continue
			}
			if p, ok := set.Match(rel); ok {
				actions = append(actions, Action{Kind: Skip, Item: s.Name, Path: rel, Reason: ReasonExcluded, Pattern: p.String()})
				continue
			}
			if mirror {
				actions = append(actions, Action{Kind: Delete, Item: s.Name, Path: rel, Reason: ReasonAbsentInSource})
			} else {
				actions = append(actions, Action{Kind: Skip, Item: s.Name, Path: rel, Reason: ReasonAbsentInSource})
			}
		}
	}

	// type-mismatch replacements sort before the paths below them
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Path < actions[j].Path
	})
	return actions
}

// fileAncestor returns the nearest proper ancestor of rel that is a file in d.
func fileAncestor(d *scan.Item, rel string) (string, bool) {
	if d.State != scan.Tree {
		return "", false
	}
	for i := strings.LastIndex(rel, "/"); i > 0; i = strings.LastIndex(rel[:i], "/") {
		if _, ok := d.Files[rel[:i]]; ok {
			return rel[:i], true
		}
	}
	return "", false
}

func under(rel string, roots map[string]struct{}) bool {
	for root := range roots {
		if rel == root || strings.HasPrefix(rel, root+"/") {
			return true
		}
	}
	return false
}

// failedBelow keeps unreadable source subtrees from being mirrored away.
func failedBelow(rel string, errs []*scan.ScanError) bool {
	for _, e := range errs {
		if rel == e.Path || strings.HasPrefix(rel, e.Path+"/") {
			return true
		}
	}
	return false
}
