// Package buildinfo carries the version and commit of dashconf builds.
// Both are stamped at link time:
//
//	go build -ldflags "-X github.com/octodash/dashconf/internal/buildinfo.Version=v0.4.0"
package buildinfo

// Version is set at link-time with –ldflags.
var Version = "v0.4.0-dev"

// Commit is set at link-time with –ldflags.
// Default is "unknown" so tests and "go run ." still work.
var Commit = "unknown"
