package planner

import (
	"slices"
	"sort"
)

// Unmanaged marks an installed package that this installer must not touch.
const Unmanaged = "UNMANAGED"

// Index maps package names to their ordered version lines.
type Index map[string][]string

// Installed maps package names to their installed version or Unmanaged.
type Installed map[string]string

// Desired maps package names to their target version.
type Desired map[string]string

// ValidateIndex checks that every package name and version is non-empty and
// that no version appears twice in a line.
func ValidateIndex(index Index) error {
	for _, name := range sortedKeys(index) {
		if err := validateLine(name, index[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateLine(name string, versions []string) error {
	if name == "" {
		return &ValidationError{Reason: "empty package name in index"}
	}
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		if v == "" {
			return &ValidationError{Package: name, Reason: "empty version in index"}
		}
		if _, dup := seen[v]; dup {
			return &ValidationError{Package: name, Version: v, Reason: "listed more than once in index"}
		}
		seen[v] = struct{}{}
	}
	return nil
}

// DeterminePreactions returns the actions that move installed to desired.
// For every desired package, in ascending name order, it emits one Migrate
// per step along the version line from the installed version to the target,
// followed by an Install of the target. Packages with no installed version
// get only the Install.
//
// It fails without a partial plan on the first problem found: an
// IntegrityError when a managed installed package is missing from the index,
// a ValidationError for anything the caller asked for that the index cannot
// satisfy.
func DeterminePreactions(index Index, installed Installed, desired Desired) ([]Action, error) {
	for _, name := range sortedKeys(installed) {
		if installed[name] == Unmanaged {
			continue
		}
		if _, ok := index[name]; !ok {
			return nil, &IntegrityError{Package: name}
		}
	}

	var actions []Action
	for _, name := range sortedKeys(desired) {
		target := desired[name]

		current, isInstalled := installed[name]
		if current == Unmanaged {
			return nil, &ValidationError{Package: name, Reason: "not managed by this installer"}
		}

		versions, ok := index[name]
		if !ok {
			return nil, &ValidationError{Package: name, Reason: "not a supported package"}
		}
		if err := validateLine(name, versions); err != nil {
			return nil, err
		}

		to := slices.Index(versions, target)
		if to < 0 {
			return nil, &ValidationError{Package: name, Version: target, Reason: "target version is not in the package index"}
		}

		if isInstalled {
			from := slices.Index(versions, current)
			if from < 0 {
				return nil, &ValidationError{Package: name, Version: current, Reason: "installed version is not in the package index"}
			}

			prev := current
			for _, v := range versionsBetween(versions, from, to) {
				actions = append(actions, Migrate{Name: name, From: prev, To: v})
				prev = v
			}
		}

		actions = append(actions, Install{Name: name, Version: target})
	}
	return actions, nil
}

// versionsBetween returns the versions walked going from position from to
// position to, excluding from and including to.
func versionsBetween(versions []string, from, to int) []string {
	switch {
	case from < to:
		return versions[from+1 : to+1]
	case from > to:
		path := slices.Clone(versions[to:from])
		slices.Reverse(path)
		return path
	default:
		return nil
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
