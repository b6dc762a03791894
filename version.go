package mailer

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build metadata, injected with -ldflags "-X github.com/lattiq/multimailer.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Module    string `json:"module,omitempty"`
}

// GetVersionInfo returns build metadata, filling gaps from the embedded
// build info when the ldflags were not set.
func GetVersionInfo() *VersionInfo {
	info := &VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if bi.Main.Path != "" {
		info.Module = bi.Main.Path
		if bi.Main.Version != "" && bi.Main.Version != "(devel)" && info.Version == "dev" {
			info.Version = bi.Main.Version
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
				if len(info.GitCommit) > 12 {
					info.GitCommit = info.GitCommit[:12]
				}
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" && !strings.HasSuffix(info.GitCommit, "-dirty") {
				info.GitCommit += "-dirty"
			}
		}
	}
	return info
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	parts := []string{"Version: " + v.Version}
	if v.GitCommit != "unknown" && v.GitCommit != "" {
		parts = append(parts, "Commit: "+v.GitCommit)
	}
	if v.BuildDate != "unknown" && v.BuildDate != "" {
		parts = append(parts, "Built: "+v.BuildDate)
	}
	parts = append(parts, "Go: "+v.GoVersion, "Platform: "+v.Platform)
	return strings.Join(parts, ", ")
}

// UserAgent returns the User-Agent sent by the HTTP drivers.
func (v *VersionInfo) UserAgent() string {
	return fmt.Sprintf("multimailer/%s (%s)", v.Version, v.Platform)
}

// IsDevBuild reports whether the binary was built without release metadata.
func (v *VersionInfo) IsDevBuild() bool {
	return strings.Contains(v.Version, "dev") ||
		strings.HasSuffix(v.GitCommit, "-dirty") ||
		v.GitCommit == "unknown"
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer) {
	info := GetVersionInfo()
	fmt.Fprintln(w, "multimailer")
	fmt.Fprintln(w, info.String())
	if info.Module != "" {
		fmt.Fprintf(w, "Module: %s\n", info.Module)
	}
}
