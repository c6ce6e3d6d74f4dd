package planner

import "fmt"

// Action is an unresolved step of a plan: either Install or Migrate.
// Actions are values and compare with ==.
type Action interface {
	// Package returns the name of the package the action applies to.
	Package() string

	fmt.Stringer

	isAction()
}

// Install installs Version of package Name.
type Install struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Migrate moves package Name from version From to the adjacent version To.
type Migrate struct {
	Name string `json:"name" yaml:"name"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

func (a Install) Package() string { return a.Name }
func (a Migrate) Package() string { return a.Name }

func (Install) isAction() {}
func (Migrate) isAction() {}

func (a Install) String() string {
	return fmt.Sprintf("install %s %s", a.Name, a.Version)
}

func (a Migrate) String() string {
	return fmt.Sprintf("migrate %s %s -> %s", a.Name, a.From, a.To)
}
