// Package diskio adapts synchronous sector I/O to the asynchronous mass
// storage command interface.
//
// A filesystem asks for sectors on a physical drive number. [Disks] maps
// drive numbers to USB device addresses, submits READ (10) or WRITE (10)
// through a [Transport] and blocks until the completion callback, running
// on the USB scheduler goroutine, signals the drive.
//
// Each drive has its own lock, transfer state and completion signal, so a
// slow device never delays another. A wait ends early when the caller's
// context is done, the timeout set with [Disks.SetTimeout] elapses, or the
// drive is unplugged; a completion that arrives afterwards is ignored.
//
// Drive status follows the FatFs convention: a drive is usable once it is
// mapped ([Disks.Map]), has a medium ([Disks.Plug]) and has been
// initialized ([Disks.Initialize]).
//
// [Disks.Drive] returns an io.ReaderAt, io.WriterAt and io.Seeker view in
// bytes for filesystem libraries that expect a file.
package diskio
