// Package catalog defines the fixed set of user-data items that are
// synchronized between profiles.
package catalog

// Kind distinguishes single files from directory trees.
type Kind int

const (
	// File is a single regular file directly below the data directory.
	File Kind = iota
	// Tree is a directory synchronized recursively.
	Tree
)

// String returns the lowercase kind name
func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Tree:
		return "tree"
	default:
		return "unknown"
	}
}

// Item is a named top-level entry of a profile's data directory.
type Item struct {
	Name string
	Kind Kind
}

// items is ordered; scan, diff and plan output all follow this order.
var items = [...]Item{
	{Name: "plugins", Kind: Tree},
	{Name: "repositories", Kind: Tree},
	{Name: "signatures", Kind: Tree},
	{Name: "themes", Kind: Tree},
	{Name: "snippets", Kind: Tree},
	{Name: "types", Kind: Tree},
	{Name: "settings.json", Kind: File},
	{Name: "startup.py", Kind: File},
	{Name: "keybindings.json", Kind: File},
}

// Items returns a copy of the catalog in canonical order.
func Items() []Item {
	out := items
	return out[:]
}

// Lookup returns the catalog entry with the given name.
func Lookup(name string) (Item, bool) {
	for _, it := range items {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Index returns the catalog position of name, or -1 if it is not a catalog item.
func Index(name string) int {
	for i, it := range items {
		if it.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the item names in canonical order.
func Names() []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}
