package diskio

import (
	"fmt"

	"github.com/ardnew/mscfs/pkg"
)

// Map assigns the lowest free drive number to addr. The drive starts
// without a disk and uninitialized.
func (d *Disks) Map(addr uint8) (uint8, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	free := -1
	for i, s := range d.slots {
		s.mu.Lock()
		mapped, a := s.mapped, s.addr
		s.mu.Unlock()

		if mapped && a == addr {
			return uint8(i), fmt.Errorf("address %d: %w", addr, ErrAlreadyMapped)
		}
		if !mapped && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return NoDrive, fmt.Errorf("address %d: %w", addr, ErrNoFreeDrive)
	}

	s := d.slots[free]
	s.mu.Lock()
	s.mapped = true
	s.addr = addr
	s.status = StatusNoInit | StatusNoDisk
	s.state = TransferComplete
	s.mu.Unlock()

	pkg.LogDebug(pkg.ComponentDisk, "drive mapped", "drive", free, "address", addr)
	return uint8(free), nil
}

// Unmap unplugs and frees the drive mapped to addr. It returns the freed
// drive number, or NoDrive if addr was not mapped.
func (d *Disks) Unmap(addr uint8) uint8 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for i, s := range d.slots {
		s.mu.Lock()
		if s.mapped && s.addr == addr {
			s.unplugLocked()
			s.mapped = false
			s.addr = 0
			s.mu.Unlock()
			pkg.LogDebug(pkg.ComponentDisk, "drive unmapped", "drive", i, "address", addr)
			return uint8(i)
		}
		s.mu.Unlock()
	}
	return NoDrive
}

// Lookup returns the drive number mapped to addr, or NoDrive.
func (d *Disks) Lookup(addr uint8) uint8 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for i, s := range d.slots {
		s.mu.Lock()
		found := s.mapped && s.addr == addr
		s.mu.Unlock()
		if found {
			return uint8(i)
		}
	}
	return NoDrive
}

// Address returns the device address of drive pdrv.
func (d *Disks) Address(pdrv uint8) (uint8, bool) {
	s := d.slot(pdrv)
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, s.mapped
}

// Plug marks the medium of a mapped drive present. The write protect flag
// follows the device.
func (d *Disks) Plug(pdrv uint8) error {
	s := d.slot(pdrv)
	if s == nil {
		return ErrParameter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mapped {
		return fmt.Errorf("drive %d: %w", pdrv, ErrNotMapped)
	}
	s.status &^= StatusNoDisk
	if d.transport.WriteProtected(s.addr, d.lun) {
		s.status |= StatusProtect
	} else {
		s.status &^= StatusProtect
	}
	return nil
}

// Unplug marks drive pdrv uninitialized with no medium and releases a
// caller waiting on its transfer.
func (d *Disks) Unplug(pdrv uint8) {
	s := d.slot(pdrv)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugLocked()
}

func (s *slot) unplugLocked() {
	s.status |= StatusNoInit | StatusNoDisk
	s.status &^= StatusProtect
	if s.state == TransferInProgress {
		s.state = TransferError
	}
	close(s.unplug)
	s.unplug = make(chan struct{})
}

// Initialize readies drive pdrv if a medium is present and returns its
// status.
func (d *Disks) Initialize(pdrv uint8) Status {
	s := d.slot(pdrv)
	if s == nil {
		return StatusNoInit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status&StatusNoDisk == 0 {
		s.status &^= StatusNoInit
		s.state = TransferComplete
	}
	return s.status
}

// Status returns the status of drive pdrv.
func (d *Disks) Status(pdrv uint8) Status {
	s := d.slot(pdrv)
	if s == nil {
		return StatusNoInit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transfer returns the state of the most recent transfer on drive pdrv.
func (d *Disks) Transfer(pdrv uint8) TransferState {
	s := d.slot(pdrv)
	if s == nil {
		return TransferError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
