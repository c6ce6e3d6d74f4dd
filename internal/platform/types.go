// Package platform detects the host the installer runs on and exposes it to
// galah.lua as a read-only table, so desired versions can differ per host.
package platform

import "context"

// Canonical Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info describes the host.
type Info struct {
	OS      string // runtime.GOOS
	Arch    string // normalized: amd64, arm64, 386, arm, or the raw GOARCH
	Distro  string // Linux distribution ID, empty when unknown
	Family  string // canonical family, empty when Distro is empty
	Release string // distribution release, e.g. "22.04"
}

// IsLinux reports whether the host runs Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS reports whether the host runs macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows reports whether the host runs Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// InFamily reports whether the host is a Linux distribution of family f.
func (i *Info) InFamily(f string) bool {
	return i.IsLinux() && i.Distro != "" && i.Family == f
}

// Detector returns information about the current host.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// Static is a Detector that always reports the same Info.
type Static Info

// Detect returns a copy of s.
func (s Static) Detect(ctx context.Context) (*Info, error) {
	info := Info(s)
	return &info, nil
}
