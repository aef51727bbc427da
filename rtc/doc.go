// Package rtc keeps the wall clock used for file timestamps.
//
// A [Clock] validates date and time changes and applies them to a
// [Peripheral], the running clock hardware. [SoftPeripheral] runs the clock
// from the host's monotonic time. At startup the clock reads the build
// time, taken from [BuildStamp] when it is set by the linker.
//
// [PackFAT] and [UnpackFAT] convert between [DateTime] and the 32-bit
// timestamp stored in FAT directory entries.
package rtc
