// Package planner computes the ordered actions that take installed packages
// to a desired state.
//
// Each package's versions form a single ordered line in the package index.
// Moving between two versions walks that line one step at a time, emitting a
// Migrate for each step, and ends with an Install of the target version. The
// planner never searches a graph and never skips a step.
//
// Output is ordered by package name, then by walk order within a package,
// whatever order the caller's maps iterate in.
package planner
