// Package procscan finds running processes by executable name.
package procscan

import (
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// lister returns pid -> process name for every visible process
type lister func() (map[int32]string, error)

// Finder implements process lookup using gopsutil.
type Finder struct {
	list lister
}

// New creates a Finder for the running system.
func New() *Finder {
	return &Finder{list: systemProcesses}
}

func systemProcesses() (map[int32]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make(map[int32]string, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // process may have exited
		}
		out[p.Pid] = name
	}
	return out, nil
}

// FindByName returns the PIDs of processes whose name equals executable,
// ignoring case and a ".exe" suffix on either side.
func (f *Finder) FindByName(executable string) ([]int32, error) {
	want := normalize(executable)
	if want == "" {
		return nil, nil
	}

	procs, err := f.list()
	if err != nil {
		return nil, err
	}

	var found []int32
	for pid, name := range procs {
		if normalize(name) == want {
			found = append(found, pid)
		}
	}
	slices.Sort(found)
	return found, nil
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}
