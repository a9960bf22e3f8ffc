// Package ota receives firmware images into the inactive slot of a two-slot
// table and switches the boot selection once an image is complete.
//
// A Transfer allows one session at a time. Begin invalidates and erases the
// update slot, WriteChunk appends to it, and Finish flushes the image,
// records it in otadata as the next boot slot and requests a restart. A
// session that fails or is abandoned leaves the boot selection as it was.
//
// Images are not checked for integrity or authenticity. The blake3 digest
// kept in the slot metadata is informational only.
package ota
