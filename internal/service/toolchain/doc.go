// Package toolchain provisions the command-line upload tool.
//
// The tool ships inside a zip archive. Provisioner downloads the archive once,
// optionally checks a detached OpenPGP signature, extracts the single jar the
// publisher needs and installs it atomically into a cache directory. Later
// calls in the same run, and later runs sharing the cache, reuse the installed
// copy. A marker file with the owner's PID keeps two concurrent runs on one
// agent from installing into the same cache at once.
package toolchain
