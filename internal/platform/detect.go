package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// HostDetector detects the running host with runtime and gopsutil.
type HostDetector struct {
	// platformInformation is swapped in tests.
	platformInformation func(ctx context.Context) (platform, family, version string, err error)
}

// NewDetector returns a Detector for the running host.
func NewDetector() *HostDetector {
	return &HostDetector{platformInformation: host.PlatformInformationWithContext}
}

// Detect reports OS and architecture from the Go runtime. On Linux the
// distribution is looked up as well; if that lookup fails the distribution
// fields are left empty, since most configs never consult them.
func (d *HostDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: normalizeArch(runtime.GOARCH),
	}
	if !info.IsLinux() {
		return info, nil
	}

	lookup := d.platformInformation
	if lookup == nil {
		lookup = host.PlatformInformationWithContext
	}
	distro, family, release, err := lookup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	if distro = normalize(distro); distro != "" {
		info.Distro = distro
		info.Family = mapFamily(family, distro)
		info.Release = normalize(release)
	}
	return info, nil
}
