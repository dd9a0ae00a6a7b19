// Package cargolock extracts package identities from Cargo.lock files.
package cargolock

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/yankcheck/yankcheck/pkg/crates"
)

type lockfile struct {
	Version  int           `toml:"version"`
	Packages []lockPackage `toml:"package"`
}

type lockPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Source  string `toml:"source"`
}

// Packages reads the registry packages recorded in a Cargo.lock. Entries
// without a source are local path dependencies that no registry knows
// about, so they are skipped.
func Packages(path string) ([]crates.Package, error) {
	var parsed lockfile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}

	pkgs := make([]crates.Package, 0, len(parsed.Packages))
	for _, pkg := range parsed.Packages {
		if pkg.Source == "" {
			continue
		}
		if pkg.Name == "" || pkg.Version == "" {
			return nil, fmt.Errorf("could not parse %s: package entry missing name or version", path)
		}

		pkgs = append(pkgs, crates.Package{Name: pkg.Name, Version: pkg.Version})
	}

	return pkgs, nil
}

// RegistryURL returns the index location shared by the lockfile's packages,
// or the empty string when none of them record one. Cargo writes sources as
// "registry+<url>" or "sparse+<url>"; the latter is already a usable index
// location, the former needs its prefix stripped.
func RegistryURL(path string) (string, error) {
	var parsed lockfile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return "", fmt.Errorf("could not parse %s: %w", path, err)
	}

	for _, pkg := range parsed.Packages {
		if loc, ok := strings.CutPrefix(pkg.Source, "registry+"); ok {
			return loc, nil
		}
		if strings.HasPrefix(pkg.Source, "sparse+") {
			return pkg.Source, nil
		}
	}

	return "", nil
}
