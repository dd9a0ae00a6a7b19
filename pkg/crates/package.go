package crates

import (
	"cmp"
	"slices"
)

// Package identifies one locked dependency by name and version. Both fields
// are opaque strings: names follow whatever format the registry enforces,
// and versions are compared only for exact equality since the registry
// contains entries that are not valid semver.
type Package struct {
	Name    string
	Version string
}

func (p Package) String() string {
	return p.Name + "@" + p.Version
}

// Compare orders packages by name, then version, giving deduplication a
// deterministic result.
func (p Package) Compare(other Package) int {
	if c := cmp.Compare(p.Name, other.Name); c != 0 {
		return c
	}

	return cmp.Compare(p.Version, other.Version)
}

// dedup returns the packages sorted and with exact duplicates removed,
// without modifying the input.
func dedup(pkgs []Package) []Package {
	sorted := slices.Clone(pkgs)
	slices.SortFunc(sorted, Package.Compare)

	return slices.Compact(sorted)
}

// distinctNames returns the unique names within a deduplicated, sorted
// package slice, preserving order.
func distinctNames(pkgs []Package) []string {
	names := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		if len(names) == 0 || names[len(names)-1] != pkg.Name {
			names = append(names, pkg.Name)
		}
	}

	return names
}
