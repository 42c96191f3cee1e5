// Package config defines the publisher settings and provides helpers to load,
// validate and save them in YAML format.
//
// Settings come from a YAML file and may be overridden by CLI flags, so Load
// only parses and fills defaults; callers run Validate once overrides are applied.
package config
