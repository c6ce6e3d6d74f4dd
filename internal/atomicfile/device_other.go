//go:build !unix

package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sameDevice compares volume names where no device number is available.
func sameDevice(a, b string) (bool, error) {
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); err != nil {
			return false, fmt.Errorf("stat %s: %w", p, err)
		}
	}
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(filepath.VolumeName(absA), filepath.VolumeName(absB)), nil
}
