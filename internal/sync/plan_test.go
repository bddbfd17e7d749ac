package sync

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/bnloader/internal/catalog"
	"github.com/schaermu/bnloader/internal/exclude"
	"github.com/schaermu/bnloader/internal/scan"
	"github.com/schaermu/bnloader/internal/testutil"
)

func scanDir(t *testing.T, root string) *scan.Result {
	t.Helper()
	res, err := scan.Scan(root)
	if err != nil {
		t.Fatalf("scan %s failed: %v", root, err)
	}
	return res
}

func newTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, files)
	return root
}

// step is a compact view of an action for comparisons.
type step struct {
	Kind   string
	Path   string
	Reason Reason
}

func steps(p *Plan) []step {
	out := make([]step, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, step{Kind: a.Kind.String(), Path: a.Path, Reason: a.Reason})
	}
	return out
}

func planFor(t *testing.T, src, dst string, set *exclude.Set, mirror bool) *Plan {
	t.Helper()
	if set == nil {
		set = exclude.NewSet()
	}
	return BuildPlan(scanDir(t, src), scanDir(t, dst), set, PlanOptions{Source: "src", Dest: "dst", Mirror: mirror})
}

func TestBuildPlanScenario(t *testing.T) {
	src := newTree(t, map[string]string{
		"plugins/a.py": "X",
		"license.dat":  "secret",
	})
	dst := newTree(t, map[string]string{
		"plugins/a.py": "Y",
	})

	plan := planFor(t, src, dst, nil, false)

	want := []step{
		{Kind: "overwrite", Path: "plugins/a.py", Reason: ReasonContentDiffers},
		{Kind: "skip", Path: "license.dat", Reason: ReasonExcluded},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Actions[1].Pattern != "license.dat" {
		t.Errorf("expected license.dat pattern, got %q", plan.Actions[1].Pattern)
	}
}

func TestBuildPlanClassification(t *testing.T) {
	src := newTree(t, map[string]string{
		"plugins/new.py":         "new",
		"plugins/same.py":        "same",
		"plugins/changed.py":     "v2",
		"plugins/cache/x.pyc":    "bytecode",
		"plugins/keychain/k.dat": "k",
		"themes/dark.json":       "{}",
		"settings.json":          `{"a": 1}`,
		"startup.py":             "print(1)",
		"user.id":                "me",
	})
	dst := newTree(t, map[string]string{
		"plugins/same.py":    "same",
		"plugins/changed.py": "v1",
		"plugins/old.py":     "old",
		"settings.json":      `{"a": 1}`,
		"keybindings.json":   "{}",
	})

	plan := planFor(t, src, dst, nil, false)

	want := []step{
		{Kind: "skip", Path: "plugins/cache/x.pyc", Reason: ReasonExcluded},
		{Kind: "overwrite", Path: "plugins/changed.py", Reason: ReasonContentDiffers},
		{Kind: "skip", Path: "plugins/keychain/k.dat", Reason: ReasonExcluded},
		{Kind: "copy", Path: "plugins/new.py"},
		{Kind: "skip", Path: "plugins/old.py", Reason: ReasonAbsentInSource},
		{Kind: "skip", Path: "plugins/same.py", Reason: ReasonIdentical},
		{Kind: "copy", Path: "themes/dark.json"},
		{Kind: "skip", Path: "settings.json", Reason: ReasonIdentical},
		{Kind: "copy", Path: "startup.py"},
		{Kind: "skip", Path: "keybindings.json", Reason: ReasonAbsentInSource},
		{Kind: "skip", Path: "user.id", Reason: ReasonExcluded},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	c := plan.Counts()
	if c.Copied != 3 || c.Overwritten != 1 || c.Skipped != 7 || c.Deleted != 0 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestBuildPlanMirrorDeletes(t *testing.T) {
	src := newTree(t, map[string]string{"plugins/a.py": "a"})
	dst := newTree(t, map[string]string{
		"plugins/a.py":          "a",
		"plugins/stale.py":      "stale",
		"plugins/license.txt":   "keep",
		"themes/only-here.json": "{}",
	})

	plan := planFor(t, src, dst, nil, true)

	want := []step{
		{Kind: "skip", Path: "plugins/a.py", Reason: ReasonIdentical},
		{Kind: "skip", Path: "plugins/license.txt", Reason: ReasonExcluded},
		{Kind: "delete", Path: "plugins/stale.py", Reason: ReasonAbsentInSource},
		{Kind: "skip", Path: "themes", Reason: ReasonAbsentInSource},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPlanFullyExcludedItem(t *testing.T) {
	src := newTree(t, map[string]string{
		"snippets/a.pyc":     "1",
		"snippets/sub/b.pyc": "2",
		"types/t.bntl":       "t",
	})
	dst := newTree(t, nil)

	set := exclude.NewSet([]string{"types/"})
	plan := planFor(t, src, dst, set, false)

	want := []step{
		{Kind: "skip", Path: "snippets", Reason: ReasonExcluded},
		{Kind: "skip", Path: "types", Reason: ReasonExcluded},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Actions[0].Pattern != "*.pyc" {
		t.Errorf("expected shared pattern *.pyc, got %q", plan.Actions[0].Pattern)
	}
	if plan.Actions[1].Pattern != "types/" {
		t.Errorf("expected item pattern types/, got %q", plan.Actions[1].Pattern)
	}
}

func TestBuildPlanTypeMismatch(t *testing.T) {
	src := newTree(t, map[string]string{
		"plugins/x/a.py": "a",
		"plugins/y":      "file",
		"themes/t.json":  "{}",
		"settings.json":  "{}",
	})
	dst := newTree(t, map[string]string{
		"plugins/x":                "file",
		"plugins/y/inner.py":       "dir",
		"themes":                   "a file where a dir belongs",
		"settings.json/nested.txt": "dir where a file belongs",
	})

	plan := planFor(t, src, dst, nil, false)

	want := []step{
		{Kind: "overwrite", Path: "plugins/x", Reason: ReasonTypeMismatch},
		{Kind: "copy", Path: "plugins/x/a.py"},
		{Kind: "overwrite", Path: "plugins/y", Reason: ReasonTypeMismatch},
		{Kind: "overwrite", Path: "themes", Reason: ReasonTypeMismatch},
		{Kind: "copy", Path: "themes/t.json"},
		{Kind: "overwrite", Path: "settings.json", Reason: ReasonTypeMismatch},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if !plan.Actions[0].Dir || plan.Actions[2].Dir || !plan.Actions[3].Dir {
		t.Error("unexpected Dir flags on type-mismatch actions")
	}
}

func TestBuildPlanEmptySourceTree(t *testing.T) {
	src := newTree(t, map[string]string{"signatures/": ""})
	dst := newTree(t, nil)

	plan := planFor(t, src, dst, nil, false)
	if len(plan.Actions) != 1 {
		t.Fatalf("expected 1 action, got %+v", plan.Actions)
	}
	a := plan.Actions[0]
	if a.Kind != Copy || a.Path != "signatures" || !a.Dir {
		t.Errorf("expected directory copy of signatures, got %+v", a)
	}
}

func TestBuildPlanMissingDestination(t *testing.T) {
	src := newTree(t, map[string]string{"settings.json": "{}"})
	dst := filepath.Join(t.TempDir(), "does-not-exist")

	plan := planFor(t, src, dst, nil, false)
	want := []step{{Kind: "copy", Path: "settings.json"}}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPlanUnreadableSource(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	src := newTree(t, map[string]string{
		"plugins/ok.py":       "ok",
		"plugins/locked/x.py": "x",
	})
	dst := newTree(t, map[string]string{"plugins/locked/y.py": "y"})

	locked := filepath.Join(src, "plugins", "locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	plan := planFor(t, src, dst, nil, true)

	want := []step{
		{Kind: "skip", Path: "plugins/locked", Reason: ReasonUnreadable},
		{Kind: "copy", Path: "plugins/ok.py"},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Counts().Failed != 1 {
		t.Errorf("expected unreadable entry to count as failed, got %+v", plan.Counts())
	}
}

func TestBuildPlanDanglingSourceSymlink(t *testing.T) {
	src := newTree(t, map[string]string{"plugins/ok.py": "ok"})
	if err := os.Symlink(filepath.Join(src, "gone"), filepath.Join(src, "plugins", "broken")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	dst := newTree(t, nil)

	plan := planFor(t, src, dst, nil, false)

	want := []step{
		{Kind: "skip", Path: "plugins/broken", Reason: ReasonUnreadable},
		{Kind: "copy", Path: "plugins/ok.py"},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Counts().Failed != 1 {
		t.Errorf("expected the dangling link to count as failed, got %+v", plan.Counts())
	}
}

// treeResult builds a scan result holding a single tree item, so failure
// cases do not depend on file permissions.
func treeResult(root string, files []string, errs ...*scan.ScanError) *scan.Result {
	it := &scan.Item{
		Name:   "plugins",
		Kind:   catalog.Tree,
		State:  scan.Tree,
		Files:  make(map[string]scan.FileInfo),
		Dirs:   map[string]struct{}{"plugins": {}},
		Errors: errs,
	}
	for i, rel := range files {
		it.Files[rel] = scan.FileInfo{Size: 1, Hash: uint64(i + 1)}
	}
	return &scan.Result{Root: root, Items: []*scan.Item{it}}
}

func TestBuildPlanUnreadableTreeRoot(t *testing.T) {
	src := treeResult("/src", nil, &scan.ScanError{Item: "plugins", Path: "plugins", Err: fs.ErrPermission})

	for _, tc := range []struct {
		name string
		dst  *scan.Result
	}{
		{name: "absent destination", dst: &scan.Result{Root: "/dst"}},
		{name: "populated destination", dst: treeResult("/dst", []string{"plugins/old.py"})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plan := BuildPlan(src, tc.dst, exclude.NewSet(), PlanOptions{Source: "src", Dest: "dst", Mirror: true})

			want := []step{{Kind: "skip", Path: "plugins", Reason: ReasonUnreadable}}
			if diff := cmp.Diff(want, steps(plan)); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
			if plan.Mutating() {
				t.Error("an unlistable source tree must not mutate the destination")
			}
			if c := plan.Counts(); c.Failed != 1 || c.Copied != 0 {
				t.Errorf("expected one failure and no copies, got %+v", c)
			}
		})
	}
}

func TestBuildPlanUnreadableEntries(t *testing.T) {
	src := treeResult("/src", []string{"plugins/ok.py"},
		&scan.ScanError{Item: "plugins", Path: "plugins/locked", Err: fs.ErrPermission},
		&scan.ScanError{Item: "plugins", Path: "plugins/__pycache__", Err: errors.New("boom")},
	)
	dst := treeResult("/dst", []string{"plugins/locked/y.py", "plugins/stale.py"})

	plan := BuildPlan(src, dst, exclude.NewSet(), PlanOptions{Source: "src", Dest: "dst", Mirror: true})

	want := []step{
		{Kind: "skip", Path: "plugins/__pycache__", Reason: ReasonExcluded},
		{Kind: "skip", Path: "plugins/locked", Reason: ReasonUnreadable},
		{Kind: "copy", Path: "plugins/ok.py"},
		{Kind: "delete", Path: "plugins/stale.py", Reason: ReasonAbsentInSource},
	}
	if diff := cmp.Diff(want, steps(plan)); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	if plan.Counts().Failed != 1 {
		t.Errorf("expected one failure, got %+v", plan.Counts())
	}
}

func TestBuildPlanDeterministic(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"z", "a", "m", "b/c", "b/a", "q/r/s"} {
		files["plugins/"+name+".py"] = name
	}
	src := newTree(t, files)
	dst := newTree(t, nil)

	first := planFor(t, src, dst, nil, false)
	for i := 0; i < 5; i++ {
		again := planFor(t, src, dst, nil, false)
		if diff := cmp.Diff(first.Actions, again.Actions); diff != "" {
			t.Fatalf("plan not deterministic (-first +again):\n%s", diff)
		}
	}

	var paths []string
	for _, a := range first.Actions {
		paths = append(paths, a.Path)
	}
	want := []string{"plugins/a.py", "plugins/b/a.py", "plugins/b/c.py", "plugins/m.py", "plugins/q/r/s.py", "plugins/z.py"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("ordering mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanHelpers(t *testing.T) {
	plan := &Plan{
		SourceDir: "/src",
		DestDir:   "/dst",
		Actions: []Action{
			{Kind: Skip, Path: "plugins/a.py", Reason: ReasonIdentical},
			{Kind: Copy, Path: "plugins/b.py"},
			{Kind: Delete, Path: "plugins/c.py"},
		},
	}
	if !plan.Mutating() {
		t.Error("expected plan to be mutating")
	}
	if diff := cmp.Diff([]string{"plugins/b.py", "plugins/c.py"}, plan.MutatedPaths()); diff != "" {
		t.Errorf("mutated paths mismatch:\n%s", diff)
	}
	if got := plan.DestPath(plan.Actions[1]); got != filepath.Join("/dst", "plugins", "b.py") {
		t.Errorf("unexpected dest path %s", got)
	}
	if got := plan.SourcePath(plan.Actions[1]); got != filepath.Join("/src", "plugins", "b.py") {
		t.Errorf("unexpected source path %s", got)
	}
}
