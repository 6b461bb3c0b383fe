// Package profiles keeps the registry of engine profiles the broker accepts.
// Profiles are pre-registered bundles of engine configuration; the broker
// only validates names against the registry and never interprets the profile
// contents.
package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// Default is the name of the profile that always exists.
const Default = "default"

// namePat matches a well-formed profile name after lowercasing.
var namePat = regexp.MustCompile(`^[a-z0-9]([a-z0-9_\-]{0,29}[a-z0-9])?$`)

// ValidName reports whether s is a well-formed profile name.  Matching is
// case-insensitive; use [Normalize] before registry lookups.
func ValidName(s string) (ok bool) {
	return namePat.MatchString(strings.ToLower(s))
}

// Normalize lowercases a profile name.
func Normalize(s string) (name string) {
	return strings.ToLower(s)
}

// Registry is the set of profiles configured for this broker instance.
type Registry struct {
	// public maps public profile names to their file paths.
	public map[string]string

	// private maps private profile names to their file paths.
	private map[string]string
}

// New builds a registry from the configured name-to-path maps and checks that
// every referenced profile file exists and parses as a JSON object.  The
// default profile is always present, with or without a file behind it.
func New(public, private map[string]string) (r *Registry, err error) {
	r = &Registry{
		public:  map[string]string{Default: ""},
		private: map[string]string{},
	}

	for name, path := range public {
		err = r.add(r.public, name, path)
		if err != nil {
			return nil, fmt.Errorf("public profile %q: %w", name, err)
		}
	}

	for name, path := range private {
		err = r.add(r.private, name, path)
		if err != nil {
			return nil, fmt.Errorf("private profile %q: %w", name, err)
		}
	}

	return r, nil
}

// add validates one profile entry and records it in dst.
func (r *Registry) add(dst map[string]string, name, path string) (err error) {
	name = Normalize(name)
	if !ValidName(name) {
		return fmt.Errorf("bad name")
	}

	if _, ok := r.public[name]; ok && name != Default {
		return fmt.Errorf("duplicate name")
	} else if _, ok = r.private[name]; ok {
		return fmt.Errorf("duplicate name")
	}

	if path != "" {
		err = checkFile(path)
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return err
		}
	}

	dst[name] = path

	return nil
}

// checkFile makes sure the profile file exists and holds a JSON object.
func checkFile(path string) (err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	var obj map[string]json.RawMessage
	err = json.Unmarshal(b, &obj)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", path, err)
	}

	return nil
}

// Has reports whether name, normalized, is a registered profile, public or
// private.
func (r *Registry) Has(name string) (ok bool) {
	name = Normalize(name)
	if _, ok = r.public[name]; ok {
		return true
	}

	_, ok = r.private[name]

	return ok
}

// Names returns the public profile names in sorted order.  The list always
// contains [Default].
func (r *Registry) Names() (names []string) {
	for name := range r.public {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
