// Package sde keeps a local copy of the bulk static-data export current.
//
// The remote CDN publishes a manifest naming the latest export version,
// its archive location, and a checksum. The manager compares the
// installed version token against the manifest (token equality only, no
// ordering), downloads and verifies a new archive when they differ,
// unpacks it into a staging directory, and atomically repoints the
// current-snapshot reference. Readers always dereference the pointer and
// are never blocked by an in-progress update; on any failure before the
// repoint the previously installed snapshot stays authoritative.
package sde
