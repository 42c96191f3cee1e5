// Package release models what a publishing run produces: the build identity
// embedded in an artifact, the release links derived from it and the
// aggregate outcome of the run.
package release
