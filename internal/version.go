package internal

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
)

// Set with buildflag if built in pipeline and not using go install
var (
	BuildVersion  = ""
	BuildChecksum = ""
)

// Version is the build version, falling back to the module version found in
// the build info.
func Version() string {
	if BuildVersion != "" {
		return BuildVersion
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" {
		return "dev"
	}
	return bi.Main.Version
}

// PrintVersion writes the version followed by the versions of every
// dependency compiled in.
func PrintVersion(w io.Writer) error {
	fmt.Fprintf(w, "version: %v\n", Version())
	if BuildChecksum != "" {
		fmt.Fprintf(w, "checksum: %v\n", BuildChecksum)
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("failed to read build info")
	}
	fmt.Fprintf(w, "go version: %v\n", bi.GoVersion)
	for _, dep := range bi.Deps {
		fmt.Fprintf(w, "%s %s\n", dep.Path, dep.Version)
	}
	return nil
}
