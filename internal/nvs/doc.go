// Package nvs emulates the non-volatile key/value storage of the controller.
//
// Entries live in namespaces and are typed (string or u8). Writes are staged
// on a Handle and become durable, as one unit, when Handle.Commit returns nil.
// A failed commit leaves the previously committed image in place both in
// memory and on the medium.
//
// The on-medium format is a single CBOR document replaced by
// write-temp, fsync, rename, fsync-dir.
package nvs
