// Package notes resolves the release notes text of a run.
//
// Exactly one source is active per run: none, a build parameter, the change
// history of the build, or a file in the workspace. The text is resolved once
// before any artifact is uploaded.
package notes
