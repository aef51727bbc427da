// Package host implements a pure-Go USB 2.0 host stack sized for mass
// storage.
//
// It is platform-agnostic and interacts with hardware via the [hal.HostHAL]
// interface defined in the github.com/ardnew/mscfs/host/hal package.
//
// # Architecture
//
//   - Host watches root hub ports, enumerates devices and reports attach
//     and detach through callbacks
//   - Device holds descriptors and performs control and bulk transfers
//   - Scheduler runs requests asynchronously, one lane per device address,
//     and reports completion through callbacks
//   - BulkPipe pairs the bulk endpoints a class driver talks through
//
// Callbacks registered with [Host.SetOnDeviceConnect] and [Transfer.Callback]
// run on goroutines owned by the host. Together they form the USB
// processing context; application code should hand results back through
// channels rather than block in them.
//
// # Example
//
//	h := host.New(controller)
//	h.SetOnDeviceConnect(func(dev *host.Device) {
//	    log.Printf("attached %04x:%04x", dev.VendorID(), dev.ProductID())
//	})
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
//
//	dev, err := h.WaitDevice(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = dev.Submit(&host.Transfer{
//	    Type:     hal.TransferBulk,
//	    Endpoint: 0x81,
//	    Data:     make([]byte, 512),
//	    Callback: func(t *host.Transfer, n int, err error) { /* ... */ },
//	})
//
// A simulated root hub is available in
// [github.com/ardnew/mscfs/host/hal/sim].
package host
