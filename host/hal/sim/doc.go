// Package sim provides a simulated USB host controller for running the host
// stack without hardware.
//
// A [Controller] implements hal.HostHAL as a root hub with a fixed number of
// ports. Each port can hold a [Target], a bulk-only mass storage device
// answering the standard enumeration requests and a small SCSI command set
// (TEST UNIT READY, REQUEST SENSE, INQUIRY, MODE SENSE (6), READ CAPACITY
// (10), READ (10), WRITE (10) and SYNCHRONIZE CACHE (10)).
//
// The medium behind a target is any [Storage]; [MemoryStorage] and
// [FileStorage] are provided.
//
// # Fault injection
//
// Targets can fail commands ([Target.FailNext]), report a phase error
// ([Target.PhaseErrorNext]) or stop answering bulk IN transfers
// ([Target.Hold]) to exercise timeout and recovery paths.
//
// # Example
//
//	ctrl := sim.New(4)
//	disk := sim.NewTarget(sim.NewMemoryStorage(16<<20, 512))
//	h := host.New(ctrl)
//	h.Start(ctx)
//	ctrl.Attach(0, disk)
package sim
