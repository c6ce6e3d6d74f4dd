// Package artifact maps planned actions to the files the update server
// publishes for them and keeps a verified local cache of those files.
package artifact

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/galah-group/galah-installer/internal/planner"
)

// Kind distinguishes installer archives from migration archives.
type Kind string

const (
	KindInstaller Kind = "installer"
	KindMigration Kind = "migration"
)

// Artifact is a server file needed to carry out one action.
type Artifact struct {
	Action  planner.Action
	Package string
	Kind    Kind

	// Path is the request path on the update server.
	Path string

	// cacheRel is the artifact's path below the package's cache directory.
	cacheRel string
}

// InstallerPath returns the server path of a package version's installer.
// Pattern: /packages/{name}/{version}/installer.tar.gz
func InstallerPath(name, version string) string {
	return "/packages/" + escape(name) + "/" + escape(version) + "/installer.tar.gz"
}

// MigrationPath returns the server path of the archive that migrates a
// package between two adjacent versions.
// Pattern: /packages/{name}/migrations/{from}/{to}.tar.gz
func MigrationPath(name, from, to string) string {
	return "/packages/" + escape(name) + "/migrations/" + escape(from) + "/" + escape(to) + ".tar.gz"
}

// escape makes s safe as a single path component, including the names
// "." and "..".
func escape(s string) string {
	e := url.PathEscape(s)
	if e == "." || e == ".." {
		e = strings.ReplaceAll(e, ".", "%2E")
	}
	return e
}

// Resolve returns the artifact for every action, in order.
func Resolve(actions []planner.Action) []Artifact {
	out := make([]Artifact, 0, len(actions))
	for _, a := range actions {
		switch a := a.(type) {
		case planner.Install:
			out = append(out, Artifact{
				Action:   a,
				Package:  a.Name,
				Kind:     KindInstaller,
				Path:     InstallerPath(a.Name, a.Version),
				cacheRel: filepath.Join("installer", escape(a.Version)+".tar.gz"),
			})
		case planner.Migrate:
			out = append(out, Artifact{
				Action:   a,
				Package:  a.Name,
				Kind:     KindMigration,
				Path:     MigrationPath(a.Name, a.From, a.To),
				cacheRel: filepath.Join("migrate", escape(a.From), escape(a.To)+".tar.gz"),
			})
		}
	}
	return out
}

// CachePath returns where the artifact is stored under cacheDir.
// Installers live at {name}/installer/{version}.tar.gz and migrations at
// {name}/migrate/{from}/{to}.tar.gz, so no two actions share a file.
func (a Artifact) CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, escape(a.Package), a.cacheRel)
}
