package bridge

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/mscfs/diskio"
	"github.com/ardnew/mscfs/fatfs"
	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/pkg"
)

// Bridge turns mass storage mount and unmount events into drive slots and
// FAT volumes, and announces them on the console.
type Bridge struct {
	disks *diskio.Disks
	vols  *fatfs.Volumes

	mu    sync.Mutex // serializes console notices
	out   io.Writer
	ready func(pdrv uint8)
}

// New creates a bridge and registers it for driver's mount and unmount
// notifications. Notices are written to out.
func New(driver *msc.Driver, vols *fatfs.Volumes, out io.Writer) *Bridge {
	b := &Bridge{disks: vols.Disks(), vols: vols, out: out}
	driver.SetOnMount(b.Mount)
	driver.SetOnUnmount(b.Unmount)
	return b
}

// SetOnReady sets a callback invoked after a drive has been mounted and
// announced. It runs on the USB side and must not block on drive I/O.
func (b *Bridge) SetOnReady(cb func(pdrv uint8)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = cb
}

// Mount assigns the lowest free drive number to dev, readies the drive and
// makes it current.
func (b *Bridge) Mount(dev *msc.Device) {
	addr := dev.Address()
	inq := dev.Inquiry()
	pkg.LogInfo(pkg.ComponentDisk, "mass storage device",
		"addr", addr,
		"vendor", inq.Vendor,
		"product", inq.Product,
		"revision", inq.Revision,
		"capacity", humanize.IBytes(dev.Capacity()),
		"blocks", dev.BlockCount(),
		"block_size", dev.BlockSize(),
		"write_protected", dev.WriteProtected())

	pdrv, err := b.disks.Map(addr)
	if err != nil {
		pkg.LogError(pkg.ComponentDisk, "cannot map device", "addr", addr, "error", err)
		b.notice("no drive for device %d: %v\r\n", addr, err)
		return
	}
	if err := b.disks.Plug(pdrv); err != nil {
		pkg.LogError(pkg.ComponentDisk, "cannot plug drive", "pdrv", pdrv, "error", err)
		return
	}
	if status := b.disks.Initialize(pdrv); !status.Ready() {
		pkg.LogWarn(pkg.ComponentDisk, "drive not ready", "pdrv", pdrv, "status", status)
	}
	b.vols.Unmount(pdrv)
	if err := b.vols.ChangeDrive(pdrv); err != nil {
		pkg.LogWarn(pkg.ComponentFS, "cannot change drive", "pdrv", pdrv, "error", err)
	}

	b.notice("%.8s %.16s rev %.4s\r\n", inq.Vendor, inq.Product, inq.Revision)
	b.notice("Disk Size: %d MB\r\n", diskSizeMB(dev.BlockCount(), dev.BlockSize()))
	b.notice("Block Count = %d, Block Size: %d\r\n", dev.BlockCount(), dev.BlockSize())
	b.notice("\r\nMass Storage drive %d is mounted\r\n", pdrv)
	b.notice("Run the set-date and set-time commands so file timestamps are correct\r\n\r\n")

	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()
	if ready != nil {
		ready(pdrv)
	}
}

// diskSizeMB returns the capacity in whole MiB.
func diskSizeMB(count, size uint32) uint64 {
	return uint64(count) * uint64(size) >> 20
}

// Unmount releases the drive of dev.
func (b *Bridge) Unmount(dev *msc.Device) {
	pdrv := b.disks.Unmap(dev.Address())
	if pdrv == diskio.NoDrive {
		return
	}
	b.vols.Unmount(pdrv)
	b.notice("Mass Storage drive %d is unmounted\r\n", pdrv)
}

func (b *Bridge) notice(format string, args ...any) {
	if b.out == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.out, format, args...)
}
