package index

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// cratePath returns the path of a crate's metadata file relative to the
// index root. The index shards crates by name length and prefix:
//
//	a        -> 1/a
//	ab       -> 2/ab
//	abc      -> 3/a/abc
//	abcd...  -> ab/cd/abcd...
//
// Paths are always lowercase; crate names are case-insensitive.
func cratePath(name string) string {
	name = strings.ToLower(name)

	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + name[:1] + "/" + name
	default:
		return name[:2] + "/" + name[2:4] + "/" + name
	}
}

// parseCrate decodes a crate metadata file. The file holds one JSON object
// per line, one line per published version. Version strings are kept as
// opaque keys: the registry contains entries that are not valid semver, so
// they are never parsed further.
func parseCrate(name string, body []byte) (*Crate, error) {
	crate := &Crate{Name: name}

	for line := range strings.Lines(string(body)) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return nil, fmt.Errorf("%w: malformed index entry for crate %q", ErrRegistry, name)
		}

		vers := gjson.Get(line, "vers")
		if !vers.Exists() {
			return nil, fmt.Errorf("%w: index entry for crate %q has no version", ErrRegistry, name)
		}

		crate.Versions = append(crate.Versions, Version{
			Num:    vers.String(),
			Yanked: gjson.Get(line, "yanked").Bool(),
		})
	}

	if len(crate.Versions) == 0 {
		return nil, fmt.Errorf("%w: index entry for crate %q is empty", ErrRegistry, name)
	}

	return crate, nil
}
