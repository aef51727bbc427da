// Package hal defines the Hardware Abstraction Layer interface for the USB
// host stack.
//
// The HAL sits between the host stack and a host controller. The host stack
// implements enumeration and class protocols; a HAL only performs control,
// bulk and interrupt transfers and reports root hub port events.
//
// # Implementing a HAL
//
// To implement a HAL for a new platform:
//  1. Create a type that implements all [HostHAL] methods
//  2. Handle controller initialization in Init()
//  3. Report connections and disconnections per port
//  4. Implement control and bulk transfers
//
// Bulk IN transfers end on a short packet, so a HAL must return fewer bytes
// than requested when the device has no more data for the current phase.
// The mass storage driver relies on this to separate the data phase from the
// command status wrapper.
//
// # Example
//
//	type MyHostHAL struct {
//	    // Platform-specific fields
//	}
//
//	func (h *MyHostHAL) Init(ctx context.Context) error {
//	    // Initialize USB host controller hardware
//	    return nil
//	}
//
//	// ... implement remaining HostHAL methods
//
// A simulated root hub with attachable thumb drives is available in
// [github.com/ardnew/mscfs/host/hal/sim].
package hal
