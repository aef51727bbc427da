// Package msc implements the host side of the USB Mass Storage Class
// Bulk-Only Transport with the SCSI transparent command set.
//
// A [Driver] watches the host for devices exposing a class 0x08, subclass
// 0x06, protocol 0x50 interface. On connection it claims the interface,
// reads the maximum LUN, INQUIRY data, readiness and capacity, then reports
// the mount through the callback set with [Driver.SetOnMount]. Disconnection
// is reported through [Driver.SetOnUnmount].
//
// # Commands
//
// READ (10), WRITE (10), INQUIRY, READ CAPACITY (10), TEST UNIT READY,
// REQUEST SENSE and SYNCHRONIZE CACHE (10) are queued on the device's
// scheduler lane and complete through a [CompleteFunc]. Each device runs one
// command at a time; submitting while one is in flight returns pkg.ErrBusy.
//
// A transport failure or a phase error triggers reset recovery: a
// bulk-only mass storage reset followed by clearing the halt on both bulk
// endpoints.
//
// # Wire formats
//
// [CommandBlockWrapper] and [CommandStatusWrapper] encode the 31-byte CBW
// and 13-byte CSW. INQUIRY, READ CAPACITY (10), sense and MODE SENSE (6)
// responses have parse and marshal helpers so the same types serve a
// simulated device.
package msc
