// Package linkage inspects finished binaries and sorts the dynamic libraries
// they load by where those libraries come from.
package linkage

import "sort"

// Package managers that can own a library.
const (
	ManagerHomebrew = "homebrew"
	ManagerApt      = "apt"
)

// Library is one dynamic dependency of a binary.
type Library struct {
	Path           string `json:"path"`
	Source         string `json:"source,omitempty"`
	PackageManager string `json:"package_manager,omitempty"`
}

// Linkage is the classified dependency set of one binary. Every library
// appears in exactly one bucket.
type Linkage struct {
	System          []Library `json:"system,omitempty"`
	Vendored        []Library `json:"vendored,omitempty"`
	PublicUnmanaged []Library `json:"public_unmanaged,omitempty"`
	Frameworks      []Library `json:"frameworks,omitempty"`
	Other           []Library `json:"other,omitempty"`
}

// IsEmpty reports whether no library was recorded.
func (l Linkage) IsEmpty() bool {
	return l.Count() == 0
}

// Count returns the number of libraries across all buckets.
func (l Linkage) Count() int {
	return len(l.System) + len(l.Vendored) + len(l.PublicUnmanaged) + len(l.Frameworks) + len(l.Other)
}

func (l *Linkage) sort() {
	for _, bucket := range []*[]Library{&l.System, &l.Vendored, &l.PublicUnmanaged, &l.Frameworks, &l.Other} {
		libs := *bucket
		sort.Slice(libs, func(i, j int) bool { return libs[i].Path < libs[j].Path })
	}
}

// Clone returns a deep copy.
func (l Linkage) Clone() Linkage {
	return Linkage{
		System:          append([]Library(nil), l.System...),
		Vendored:        append([]Library(nil), l.Vendored...),
		PublicUnmanaged: append([]Library(nil), l.PublicUnmanaged...),
		Frameworks:      append([]Library(nil), l.Frameworks...),
		Other:           append([]Library(nil), l.Other...),
	}
}
