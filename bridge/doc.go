// Package bridge connects the mass storage class driver to the filesystem.
//
// When the driver reports a mounted device, the bridge maps its address to
// the lowest free physical drive, plugs and initializes the drive and
// makes it the current FAT drive. When the device goes away, the drive is
// unmapped, which releases any transfer still waiting on it, and its
// volume is forgotten.
package bridge
