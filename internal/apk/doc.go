// Package apk reads the build identity record embedded in an Android package.
//
// Only the single record entry is decompressed; the rest of the archive is
// never touched, so reading a large package costs one directory scan.
package apk
