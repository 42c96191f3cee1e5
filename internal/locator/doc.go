// Package locator expands the artifact path setting into an ordered list of
// artifact locations.
//
// In list mode the setting is a comma-separated list of paths, each one
// variable-expanded and resolved against the workspace. In glob mode it is a
// single Ant-style pattern ("**" crosses directories) matched against the
// files of the workspace. Locations given as http(s) URLs are remote and must
// be materialized to a local file before use.
package locator
