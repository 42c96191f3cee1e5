// Package publisher uploads Android packages to the beta distribution backend.
//
// A run provisions the upload tool, locates the artifacts, resolves the release
// notes once and then uploads every artifact in order with one tool process
// each. Any line the tool writes to its error stream fails that artifact; its
// exit code is not trusted. Release links derived from the build record inside
// each package are handed to the host at the end of the run.
package publisher
