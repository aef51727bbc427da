package diskio

import (
	"context"

	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/pkg"
)

// submitFunc queues one command and arranges for cb to run on completion.
type submitFunc func(ctx context.Context, addr uint8, cb msc.CompleteFunc) error

// Read reads count sectors starting at sector into buf. It blocks until the
// transfer completes, ctx is done, the timeout elapses or the drive is
// unplugged.
func (d *Disks) Read(ctx context.Context, pdrv uint8, buf []byte, sector uint32, count uint) Result {
	return d.blockIO(ctx, pdrv, buf, sector, count, false)
}

// Write writes count sectors from buf starting at sector. It blocks like
// Read.
func (d *Disks) Write(ctx context.Context, pdrv uint8, buf []byte, sector uint32, count uint) Result {
	return d.blockIO(ctx, pdrv, buf, sector, count, true)
}

func (d *Disks) blockIO(ctx context.Context, pdrv uint8, buf []byte, sector uint32, count uint, write bool) Result {
	s := d.slot(pdrv)
	if s == nil || buf == nil || count == 0 || count > 0xFFFF {
		return ParameterError
	}

	s.mu.Lock()
	status, addr := s.status, s.addr
	s.mu.Unlock()

	if !status.Ready() {
		return NotReady
	}
	size := d.transport.BlockSize(addr, d.lun)
	if size == 0 {
		return NotReady
	}
	if uint64(len(buf)) < uint64(count)*uint64(size) {
		return ParameterError
	}
	if write && status&StatusProtect != 0 {
		return WriteProtected
	}

	blocks := uint16(count)
	submit := func(ctx context.Context, addr uint8, cb msc.CompleteFunc) error {
		if write {
			return d.transport.Write10(ctx, addr, d.lun, buf, sector, blocks, cb)
		}
		return d.transport.Read10(ctx, addr, d.lun, buf, sector, blocks, cb)
	}

	res := d.wait(ctx, pdrv, s, submit, false)
	if res != OK {
		pkg.LogDebug(pkg.ComponentDisk, "block transfer failed",
			"drive", pdrv,
			"write", write,
			"sector", sector,
			"count", count,
			"result", res)
	}
	return res
}

// Sync flushes the device's write cache. A device that rejects
// SYNCHRONIZE CACHE is treated as having nothing to flush.
func (d *Disks) Sync(ctx context.Context, pdrv uint8) Result {
	s := d.slot(pdrv)
	if s == nil {
		return ParameterError
	}
	if !d.Status(pdrv).Ready() {
		return NotReady
	}
	submit := func(ctx context.Context, addr uint8, cb msc.CompleteFunc) error {
		return d.transport.SynchronizeCache(ctx, addr, d.lun, cb)
	}
	return d.wait(ctx, pdrv, s, submit, true)
}

// SectorCount returns the number of sectors on drive pdrv.
func (d *Disks) SectorCount(pdrv uint8) (uint32, Result) {
	addr, res := d.ready(pdrv)
	if res != OK {
		return 0, res
	}
	return d.transport.BlockCount(addr, d.lun), OK
}

// SectorSize returns the sector size of drive pdrv in bytes.
func (d *Disks) SectorSize(pdrv uint8) (uint32, Result) {
	addr, res := d.ready(pdrv)
	if res != OK {
		return 0, res
	}
	return d.transport.BlockSize(addr, d.lun), OK
}

// BlockSize returns the erase block size of drive pdrv in sectors. Flash
// drives hide their erase geometry, so it is always 1.
func (d *Disks) BlockSize(pdrv uint8) (uint32, Result) {
	if _, res := d.ready(pdrv); res != OK {
		return 0, res
	}
	return 1, OK
}

// ready returns the address of a fully ready drive.
func (d *Disks) ready(pdrv uint8) (uint8, Result) {
	s := d.slot(pdrv)
	if s == nil {
		return 0, ParameterError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Ready() {
		return 0, Error
	}
	return s.addr, OK
}

// wait runs one transfer on slot s: it marks the slot in progress, submits,
// and blocks until the completion callback signals. Callers on the same
// drive queue for their turn. When tolerateFailed is set, a command that
// completes with a failed status still yields OK.
func (d *Disks) wait(ctx context.Context, pdrv uint8, s *slot, submit submitFunc, tolerateFailed bool) Result {
	timeout := d.Timeout()

	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		pkg.LogDebug(pkg.ComponentDisk, "gave up waiting for drive", "drive", pdrv, "error", ctx.Err())
		return Error
	}
	defer func() { <-s.turn }()

	s.mu.Lock()
	if !s.status.Ready() {
		s.mu.Unlock()
		return NotReady
	}
	if s.state == TransferInProgress {
		s.mu.Unlock()
		pkg.LogError(pkg.ComponentDisk, "transfer already in progress", "drive", pdrv)
		return Error
	}
	s.seq++
	seq := s.seq
	done := make(chan struct{})
	s.state = TransferInProgress
	addr, unplug := s.addr, s.unplug
	s.mu.Unlock()

	wctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	complete := func(_ uint8, _ *msc.CommandBlockWrapper, csw *msc.CommandStatusWrapper, err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq != seq || s.state != TransferInProgress {
			pkg.LogDebug(pkg.ComponentDisk, "late completion ignored", "drive", pdrv)
			return
		}
		if err == nil && (csw.Passed() || tolerateFailed && csw.Status == msc.CSWStatusFailed) {
			s.state = TransferComplete
		} else {
			s.state = TransferError
		}
		close(done)
	}

	if err := submit(wctx, addr, complete); err != nil {
		pkg.LogDebug(pkg.ComponentDisk, "submit failed", "drive", pdrv, "error", err)
		s.finish(seq, TransferError)
		return Error
	}

	select {
	case <-done:
	case <-unplug:
		pkg.LogWarn(pkg.ComponentDisk, "drive unplugged during transfer", "drive", pdrv)
	case <-wctx.Done():
		pkg.LogWarn(pkg.ComponentDisk, "transfer abandoned",
			"drive", pdrv,
			"error", context.Cause(wctx))
	}

	if s.finish(seq, TransferError) == TransferComplete {
		return OK
	}
	return Error
}

// finish moves transfer seq to state if it is still in progress and
// returns the slot's resulting state for that transfer.
func (s *slot) finish(seq uint64, state TransferState) TransferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return TransferError
	}
	if s.state == TransferInProgress {
		s.state = state
	}
	return s.state
}
