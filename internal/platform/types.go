// Package platform detects the host OS and architecture and exposes them to
// distribution manifests as a read-only Lua table, so one manifest can pick
// the right archive for the machine it runs on.
package platform

import "context"

// Info describes the host a distribution is being provisioned for.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // normalized: "amd64", "arm64", "386", "arm"
	ArchRaw  string // GOARCH as reported by the runtime
	Platform string // distro ID (Linux only, e.g. "ubuntu")
	Family   string // canonical distro family (Linux only)
	Version  string // distro version (Linux only)
}

// Distro contains Linux distribution information.
type Distro struct {
	ID      string
	Family  string
	Version string
}

// GetDistro returns distro information, or nil off Linux or when detection
// came back empty.
func (i *Info) GetDistro() *Distro {
	if i.OS != "linux" || i.Platform == "" {
		return nil
	}
	return &Distro{
		ID:      i.Platform,
		Family:  i.Family,
		Version: i.Version,
	}
}

func (i *Info) IsLinux() bool   { return i.OS == "linux" }
func (i *Info) IsMacOS() bool   { return i.OS == "darwin" }
func (i *Info) IsWindows() bool { return i.OS == "windows" }
func (i *Info) IsAMD64() bool   { return i.Arch == "amd64" }
func (i *Info) IsARM64() bool   { return i.Arch == "arm64" }

// Bits returns the pointer width of the architecture as used in release
// asset names ("64" or "32").
func (i *Info) Bits() string {
	switch i.Arch {
	case "386", "arm":
		return "32"
	default:
		return "64"
	}
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Used when the caller already knows the
// target platform (tests, cross-provisioning).
type StaticDetector struct {
	Info *Info
}

// Detect returns a copy of the configured Info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := *s.Info
	return &info, nil
}
