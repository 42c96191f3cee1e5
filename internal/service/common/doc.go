// Package common holds helpers shared by several services.
//
// It provides an HTTP client wrapper with connection timeouts and request
// logging, and detects the build agent (hostname/username) the run executes on.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
