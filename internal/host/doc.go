// Package host adapts the CI agent the publisher runs on: its environment,
// its workspace, remote artifact downloads, the git change history of the
// build and the sinks that receive release links for later steps.
package host
