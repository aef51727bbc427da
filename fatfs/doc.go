// Package fatfs presents the diskio drives as FAT volumes.
//
// Paths take an optional "N:" drive prefix selecting physical drive N, as
// in "1:/logs/today.txt". Without a prefix a path refers to the current
// drive, set with [Volumes.ChangeDrive]. Each drive keeps its own working
// directory, and relative paths resolve against it.
//
// The FAT32 implementation is github.com/diskfs/go-diskfs, reading and
// writing through a [diskio.Drive]. A volume is mounted the first time it
// is used and forgotten by [Volumes.Unmount] when its device goes away.
//
// Failures are *[Error] values carrying a [Result] numbered like FatFs
// FRESULT; [Code] extracts the number from any error.
package fatfs
