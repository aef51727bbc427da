package msc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/mscfs/host"
	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// Timeouts for transactions the driver issues on its own.
const (
	AttachTimeout = 5 * time.Second
	ResetTimeout  = time.Second
)

// unitReadyAttempts bounds TEST UNIT READY retries while a device spins up
// or reports a unit attention after power-on.
const unitReadyAttempts = 3

// CompleteFunc is called when an asynchronous command finishes. It runs on
// the scheduler goroutine of the device.
//
// csw is never nil. When the transaction failed before a status was read,
// err is set and csw is a synthesized failure with the full data residue.
type CompleteFunc func(addr uint8, cbw *CommandBlockWrapper, csw *CommandStatusWrapper, err error)

// Device is a mounted bulk-only mass storage device.
type Device struct {
	dev     *host.Device
	pipe    *host.BulkPipe
	iface   uint8
	maxLUN  uint8
	inquiry InquiryResponse

	capacity  ReadCapacity10Response
	protected bool

	tag  atomic.Uint32
	busy atomic.Bool
}

// Address returns the bus address of the device.
func (m *Device) Address() uint8 {
	return m.dev.Address()
}

// USB returns the underlying USB device.
func (m *Device) USB() *host.Device {
	return m.dev
}

// MaxLUN returns the highest logical unit number.
func (m *Device) MaxLUN() uint8 {
	return m.maxLUN
}

// Inquiry returns the INQUIRY data read at mount.
func (m *Device) Inquiry() InquiryResponse {
	return m.inquiry
}

// BlockCount returns the number of logical blocks.
func (m *Device) BlockCount() uint32 {
	return m.capacity.BlockCount()
}

// BlockSize returns the logical block size in bytes.
func (m *Device) BlockSize() uint32 {
	return m.capacity.BlockLength
}

// Capacity returns the medium size in bytes.
func (m *Device) Capacity() uint64 {
	return uint64(m.BlockCount()) * uint64(m.BlockSize())
}

// WriteProtected reports whether MODE SENSE found the medium write protected.
func (m *Device) WriteProtected() bool {
	return m.protected
}

// Busy reports whether an asynchronous command is in flight.
func (m *Device) Busy() bool {
	return m.busy.Load()
}

func (m *Device) nextTag() uint32 {
	return m.tag.Add(1)
}

// Driver mounts bulk-only mass storage devices as they are enumerated and
// issues SCSI commands to them.
type Driver struct {
	host *host.Host

	mu        sync.RWMutex
	devices   map[uint8]*Device
	onMount   func(*Device)
	onUnmount func(*Device)
}

// New creates a driver and installs it as h's connect and disconnect
// handler.
func New(h *host.Host) *Driver {
	d := &Driver{
		host:    h,
		devices: make(map[uint8]*Device),
	}
	h.SetOnDeviceConnect(d.attach)
	h.SetOnDeviceDisconnect(d.detach)
	return d
}

// SetOnMount sets the callback invoked after a device is mounted.
func (d *Driver) SetOnMount(cb func(*Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMount = cb
}

// SetOnUnmount sets the callback invoked after a device is unmounted.
func (d *Driver) SetOnUnmount(cb func(*Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUnmount = cb
}

// Device returns the mounted device at addr, or nil.
func (d *Driver) Device(addr uint8) *Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.devices[addr]
}

// Mounted reports whether a device is mounted at addr.
func (d *Driver) Mounted(addr uint8) bool {
	return d.Device(addr) != nil
}

// BlockCount returns the block count of the device at addr, or 0.
func (d *Driver) BlockCount(addr, lun uint8) uint32 {
	if m := d.Device(addr); m != nil {
		return m.BlockCount()
	}
	return 0
}

// BlockSize returns the block size of the device at addr, or 0.
func (d *Driver) BlockSize(addr, lun uint8) uint32 {
	if m := d.Device(addr); m != nil {
		return m.BlockSize()
	}
	return 0
}

// WriteProtected reports whether the device at addr is write protected.
func (d *Driver) WriteProtected(addr, lun uint8) bool {
	if m := d.Device(addr); m != nil {
		return m.WriteProtected()
	}
	return false
}

// ===== Asynchronous commands =====

// TestUnitReady queues TEST UNIT READY.
func (d *Driver) TestUnitReady(ctx context.Context, addr, lun uint8, cb CompleteFunc) error {
	return d.submit(ctx, addr, lun, TestUnitReadyCDB(), false, nil, cb)
}

// RequestSense queues REQUEST SENSE into buf.
func (d *Driver) RequestSense(ctx context.Context, addr, lun uint8, buf []byte, cb CompleteFunc) error {
	if len(buf) < RequestSenseSize {
		return pkg.ErrBufferTooSmall
	}
	return d.submit(ctx, addr, lun, RequestSenseCDB(RequestSenseSize), true, buf[:RequestSenseSize], cb)
}

// Inquiry queues INQUIRY into buf.
func (d *Driver) Inquiry(ctx context.Context, addr, lun uint8, buf []byte, cb CompleteFunc) error {
	if len(buf) < InquiryStandardSize {
		return pkg.ErrBufferTooSmall
	}
	return d.submit(ctx, addr, lun, InquiryCDB(InquiryStandardSize), true, buf[:InquiryStandardSize], cb)
}

// ReadCapacity queues READ CAPACITY (10) into buf.
func (d *Driver) ReadCapacity(ctx context.Context, addr, lun uint8, buf []byte, cb CompleteFunc) error {
	if len(buf) < ReadCapacity10Size {
		return pkg.ErrBufferTooSmall
	}
	return d.submit(ctx, addr, lun, ReadCapacity10CDB(), true, buf[:ReadCapacity10Size], cb)
}

// Read10 queues a read of count blocks starting at lba into buf.
func (d *Driver) Read10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb CompleteFunc) error {
	data, err := d.blockBuffer(addr, buf, count)
	if err != nil {
		return err
	}
	return d.submit(ctx, addr, lun, Read10CDB(lba, count), true, data, cb)
}

// Write10 queues a write of count blocks from buf starting at lba.
func (d *Driver) Write10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb CompleteFunc) error {
	data, err := d.blockBuffer(addr, buf, count)
	if err != nil {
		return err
	}
	return d.submit(ctx, addr, lun, Write10CDB(lba, count), false, data, cb)
}

// SynchronizeCache queues SYNCHRONIZE CACHE (10) for the whole medium.
func (d *Driver) SynchronizeCache(ctx context.Context, addr, lun uint8, cb CompleteFunc) error {
	return d.submit(ctx, addr, lun, SynchronizeCache10CDB(), false, nil, cb)
}

// blockBuffer returns the prefix of buf holding count blocks.
func (d *Driver) blockBuffer(addr uint8, buf []byte, count uint16) ([]byte, error) {
	m := d.Device(addr)
	if m == nil {
		return nil, pkg.ErrNoDevice
	}
	if count == 0 {
		return nil, pkg.ErrInvalidParameter
	}
	size := int(count) * int(m.BlockSize())
	if len(buf) < size {
		return nil, pkg.ErrBufferTooSmall
	}
	return buf[:size], nil
}

// submit queues one command on the device's scheduler lane. A device runs
// one command at a time; a second submission fails with pkg.ErrBusy.
func (d *Driver) submit(ctx context.Context, addr, lun uint8, cdb []byte, dataIn bool, data []byte, cb CompleteFunc) error {
	m := d.Device(addr)
	if m == nil {
		return pkg.ErrNoDevice
	}
	if lun > m.maxLUN {
		return pkg.ErrInvalidParameter
	}
	if !m.busy.CompareAndSwap(false, true) {
		return pkg.ErrBusy
	}

	cbw := NewCBW(m.nextTag(), lun, dataIn, uint32(len(data)), cdb)

	var csw *CommandStatusWrapper
	t := &host.Transfer{
		Context: ctx,
		Run: func(ctx context.Context) (int, error) {
			var n int
			var err error
			csw, n, err = m.transact(ctx, cbw, data)
			return n, err
		},
		Callback: func(_ *host.Transfer, _ int, err error) {
			if csw == nil {
				csw = NewCSW(cbw.Tag, cbw.DataTransferLength, CSWStatusFailed)
			}
			m.busy.Store(false)
			if cb != nil {
				cb(addr, cbw, csw, err)
			}
		},
	}

	if _, err := m.dev.Submit(t); err != nil {
		m.busy.Store(false)
		return err
	}
	return nil
}

// ===== Bulk-Only Transport =====

// transact runs the command, data and status phases of one command.
func (m *Device) transact(ctx context.Context, cbw *CommandBlockWrapper, data []byte) (*CommandStatusWrapper, int, error) {
	var raw [CBWSize]byte
	cbw.MarshalTo(raw[:])

	if _, err := m.pipe.Write(ctx, raw[:]); err != nil {
		m.resetRecovery(ctx, err)
		return nil, 0, fmt.Errorf("command phase: %w", err)
	}

	n := 0
	if length := int(cbw.DataTransferLength); length > 0 {
		var err error
		ep := m.pipe.Out()
		if cbw.IsDataIn() {
			ep = m.pipe.In()
			n, err = m.pipe.Read(ctx, data[:length])
		} else {
			n, err = m.pipe.Write(ctx, data[:length])
		}

		switch {
		case errors.Is(err, pkg.ErrStall):
			// The device ends a short data phase by halting the pipe
			if err := m.dev.ClearEndpointHalt(ctx, ep); err != nil {
				m.resetRecovery(ctx, err)
				return nil, n, fmt.Errorf("data phase: %w", err)
			}
		case err != nil:
			m.resetRecovery(ctx, err)
			return nil, n, fmt.Errorf("data phase: %w", err)
		}
	}

	var status [CSWSize]byte
	k, err := m.pipe.Read(ctx, status[:])
	if errors.Is(err, pkg.ErrStall) {
		if err = m.dev.ClearEndpointHalt(ctx, m.pipe.In()); err == nil {
			k, err = m.pipe.Read(ctx, status[:])
		}
	}
	if err != nil {
		m.resetRecovery(ctx, err)
		return nil, n, fmt.Errorf("status phase: %w", err)
	}

	csw := &CommandStatusWrapper{}
	if k != CSWSize || !ParseCSW(status[:k], csw) || csw.Tag != cbw.Tag {
		m.resetRecovery(ctx, pkg.ErrInvalidCSW)
		return nil, n, pkg.ErrInvalidCSW
	}
	if csw.Status == CSWStatusPhaseError {
		m.resetRecovery(ctx, pkg.ErrPhaseError)
		return csw, n, pkg.ErrPhaseError
	}

	return csw, n, nil
}

// resetRecovery returns the device to the command phase with a bulk-only
// reset followed by clearing both bulk endpoints. It still runs when ctx
// has been cancelled, since an aborted command leaves the device mid-phase.
func (m *Device) resetRecovery(ctx context.Context, cause error) {
	if errors.Is(cause, pkg.ErrNoDevice) {
		return
	}

	pkg.LogWarn(pkg.ComponentMSC, "reset recovery",
		"address", m.Address(),
		"cause", cause)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ResetTimeout)
	defer cancel()

	setup := hal.SetupPacket{
		RequestType: host.RequestTypeOut | host.RequestTypeClass | host.RequestTypeInterface,
		Request:     RequestBulkOnlyMassStorageReset,
		Index:       uint16(m.iface),
	}
	if _, err := m.dev.ControlTransfer(rctx, &setup, nil); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "bulk-only reset failed",
			"address", m.Address(),
			"error", err)
		return
	}
	if err := m.pipe.ClearHalt(rctx); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "clear halt failed",
			"address", m.Address(),
			"error", err)
	}
}

// command runs a command synchronously and maps the status to an error.
func (m *Device) command(ctx context.Context, lun uint8, cdb []byte, dataIn bool, data []byte) (int, error) {
	cbw := NewCBW(m.nextTag(), lun, dataIn, uint32(len(data)), cdb)
	csw, n, err := m.transact(ctx, cbw, data)
	if err != nil {
		return n, err
	}
	return n, csw.Err()
}

// ===== Mount and unmount =====

// attach mounts dev if it has a bulk-only SCSI interface.
func (d *Driver) attach(dev *host.Device) {
	iface := dev.FindInterface(ClassMSC, SubclassSCSI, ProtocolBulkOnly)
	if iface == nil {
		pkg.LogDebug(pkg.ComponentMSC, "not a mass storage device",
			"address", dev.Address())
		return
	}

	in, out, ok := dev.BulkEndpoints(iface.InterfaceNumber)
	if !ok {
		pkg.LogWarn(pkg.ComponentMSC, "mass storage interface without bulk endpoints",
			"address", dev.Address())
		return
	}

	if err := dev.ClaimInterface(iface.InterfaceNumber); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "claim interface failed",
			"address", dev.Address(),
			"error", err)
		return
	}

	m := &Device{
		dev:   dev,
		pipe:  host.NewBulkPipe(dev, in.EndpointAddress, out.EndpointAddress, int(out.MaxPacketSize)),
		iface: iface.InterfaceNumber,
	}

	ctx, cancel := context.WithTimeout(d.host.Context(), AttachTimeout)
	defer cancel()

	if err := m.configure(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentMSC, "mount failed",
			"address", dev.Address(),
			"error", err)
		dev.ReleaseInterface(iface.InterfaceNumber)
		return
	}

	d.mu.Lock()
	if d.host.GetDevice(dev.Address()) != dev {
		d.mu.Unlock()
		pkg.LogDebug(pkg.ComponentMSC, "device left during mount",
			"address", dev.Address())
		return
	}
	d.devices[dev.Address()] = m
	cb := d.onMount
	d.mu.Unlock()

	pkg.LogInfo(pkg.ComponentMSC, "mounted",
		"address", dev.Address(),
		"vendor", m.inquiry.Vendor,
		"product", m.inquiry.Product,
		"blocks", m.BlockCount(),
		"blockSize", m.BlockSize(),
		"writeProtected", m.protected)

	if cb != nil {
		cb(m)
	}
}

// configure reads the LUN count, identity, readiness and capacity.
func (m *Device) configure(ctx context.Context) error {
	var buf [InquiryStandardSize]byte

	setup := hal.SetupPacket{
		RequestType: host.RequestTypeIn | host.RequestTypeClass | host.RequestTypeInterface,
		Request:     RequestGetMaxLUN,
		Index:       uint16(m.iface),
		Length:      1,
	}
	switch n, err := m.dev.ControlTransfer(ctx, &setup, buf[:1]); {
	case errors.Is(err, pkg.ErrStall):
		// Devices with a single LUN may stall GET_MAX_LUN
		m.maxLUN = 0
	case err != nil:
		return fmt.Errorf("get max LUN: %w", err)
	case n == 1 && buf[0] <= MaxLUN:
		m.maxLUN = buf[0]
	}

	n, err := m.command(ctx, 0, InquiryCDB(InquiryStandardSize), true, buf[:])
	if err != nil {
		return fmt.Errorf("inquiry: %w", err)
	}
	if !ParseInquiry(buf[:n], &m.inquiry) {
		return fmt.Errorf("inquiry: short response of %d bytes: %w", n, pkg.ErrProtocol)
	}

	for attempt := 1; ; attempt++ {
		_, err = m.command(ctx, 0, TestUnitReadyCDB(), false, nil)
		if err == nil {
			break
		}
		if !errors.Is(err, pkg.ErrCommandFailed) || attempt == unitReadyAttempts {
			return fmt.Errorf("test unit ready: %w", err)
		}
		// Reading the sense data clears a pending unit attention
		var sense SenseData
		if n, err := m.command(ctx, 0, RequestSenseCDB(RequestSenseSize), true, buf[:RequestSenseSize]); err == nil && ParseSenseData(buf[:n], &sense) {
			pkg.LogDebug(pkg.ComponentMSC, "unit not ready",
				"key", sense.Key,
				"asc", sense.ASC)
		}
	}

	n, err = m.command(ctx, 0, ReadCapacity10CDB(), true, buf[:ReadCapacity10Size])
	if err != nil {
		return fmt.Errorf("read capacity: %w", err)
	}
	if !ParseReadCapacity10(buf[:n], &m.capacity) || m.capacity.BlockLength == 0 {
		return fmt.Errorf("read capacity: %w", pkg.ErrProtocol)
	}

	var hdr ModeSense6Header
	if n, err := m.command(ctx, 0, ModeSense6CDB(ModeSense6Size), true, buf[:ModeSense6Size]); err == nil && ParseModeSense6(buf[:n], &hdr) {
		m.protected = hdr.WriteProtected()
	}

	return nil
}

// detach unmounts dev if it was mounted.
func (d *Driver) detach(dev *host.Device) {
	d.mu.Lock()
	m, ok := d.devices[dev.Address()]
	if !ok || m.dev != dev {
		d.mu.Unlock()
		return
	}
	delete(d.devices, dev.Address())
	cb := d.onUnmount
	d.mu.Unlock()

	pkg.LogInfo(pkg.ComponentMSC, "unmounted", "address", dev.Address())

	if cb != nil {
		cb(m)
	}
}
