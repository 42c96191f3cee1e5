// Package integration holds end-to-end tests of the publisher.
package integration
