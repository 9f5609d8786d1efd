// Package build carries version metadata stamped in at link time via
// -ldflags.
package build

import "github.com/prometheus/common/version"

// Info returns the version fields registered by main's init.
func Info() string {
	return version.Print("ipfilter")
}
