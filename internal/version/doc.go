// Package version exposes build metadata for beta-publisher.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
// UserAgent renders them for outbound HTTP requests.
package version
