package sim

import (
	"context"
	"sync"

	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/pkg"
)

// DirectTransport answers block commands from Storage without a USB bus.
// It has the method set of *msc.Driver used by diskio, so filesystem code
// can be tested without enumerating devices. Completions run on their own
// goroutine, as they would on the USB scheduler.
type DirectTransport struct {
	mu      sync.Mutex
	devices map[uint8]Storage
	tag     uint32
}

// NewDirectTransport creates a transport with no devices.
func NewDirectTransport() *DirectTransport {
	return &DirectTransport{devices: make(map[uint8]Storage)}
}

// Add makes s answer at addr.
func (d *DirectTransport) Add(addr uint8, s Storage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[addr] = s
}

// Remove drops the device at addr.
func (d *DirectTransport) Remove(addr uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, addr)
}

func (d *DirectTransport) storage(addr uint8) Storage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[addr]
}

func (d *DirectTransport) run(addr uint8, cdb []byte, dataIn bool, length int, op func(Storage) error, cb msc.CompleteFunc) error {
	d.mu.Lock()
	s, ok := d.devices[addr]
	d.tag++
	tag := d.tag
	d.mu.Unlock()
	if !ok {
		return pkg.ErrNoDevice
	}

	cbw := msc.NewCBW(tag, 0, dataIn, uint32(length), cdb)
	go func() {
		var status uint8 = msc.CSWStatusGood
		var residue uint32
		if err := op(s); err != nil {
			status, residue = msc.CSWStatusFailed, uint32(length)
		}
		cb(addr, cbw, msc.NewCSW(tag, residue, status), nil)
	}()
	return nil
}

// Read10 reads count blocks at lba into buf.
func (d *DirectTransport) Read10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error {
	return d.run(addr, msc.Read10CDB(lba, count), true, len(buf), func(s Storage) error {
		return s.ReadBlocks(lba, buf[:int(count)*int(s.BlockSize())])
	}, cb)
}

// Write10 writes count blocks from buf at lba.
func (d *DirectTransport) Write10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error {
	return d.run(addr, msc.Write10CDB(lba, count), false, len(buf), func(s Storage) error {
		return s.WriteBlocks(lba, buf[:int(count)*int(s.BlockSize())])
	}, cb)
}

// SynchronizeCache flushes the storage.
func (d *DirectTransport) SynchronizeCache(ctx context.Context, addr, lun uint8, cb msc.CompleteFunc) error {
	return d.run(addr, msc.SynchronizeCache10CDB(), false, 0, func(s Storage) error {
		return s.Sync()
	}, cb)
}

// BlockCount returns the block count of the device at addr, or 0.
func (d *DirectTransport) BlockCount(addr, lun uint8) uint32 {
	if s := d.storage(addr); s != nil {
		return s.BlockCount()
	}
	return 0
}

// BlockSize returns the block size of the device at addr, or 0.
func (d *DirectTransport) BlockSize(addr, lun uint8) uint32 {
	if s := d.storage(addr); s != nil {
		return s.BlockSize()
	}
	return 0
}

// WriteProtected reports whether the device at addr rejects writes.
func (d *DirectTransport) WriteProtected(addr, lun uint8) bool {
	if s := d.storage(addr); s != nil {
		return s.ReadOnly()
	}
	return false
}
