package planner

import "fmt"

// IntegrityError reports an installed package that the package index does
// not list. The index is missing data the installed state depends on, so no
// plan can be trusted.
type IntegrityError struct {
	Package string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("installed package %q is not listed in the package index", e.Package)
}

// ValidationError reports a request the caller can correct: an unknown
// package or version, or an unmanaged package in the desired state.
type ValidationError struct {
	Package string
	Version string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("package %q version %q: %s", e.Package, e.Version, e.Reason)
	}
	return fmt.Sprintf("package %q: %s", e.Package, e.Reason)
}
