// Package version exposes the version of yankcheck.
package version

// Version is the last-released version of yankcheck, overridable at build
// time with -ldflags.
var Version = "0.3.1"
