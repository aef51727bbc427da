package sim

import (
	"context"
	"encoding/binary"
	"sync"
	"unicode/utf16"

	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// Endpoint addresses of a simulated target.
const (
	EndpointIn  = 0x81
	EndpointOut = 0x02
)

// Default identity of a simulated target.
const (
	DefaultVendorID  = 0x1209
	DefaultProductID = 0x4D53
)

// botState tracks the Bulk-Only Transport phase of a target.
type botState uint8

const (
	botCommand botState = iota // Waiting for a CBW
	botDataIn                  // Sending data to the host
	botDataOut                 // Receiving data from the host
	botStatus                  // CSW ready
)

// Target is a simulated bulk-only mass storage device with a single LUN.
type Target struct {
	storage Storage
	inquiry msc.InquiryResponse
	strings [4]string // index 0 unused; manufacturer, product, serial
	speed   hal.Speed

	mu      sync.Mutex
	address uint8
	config  uint8
	state   botState
	cbw     msc.CommandBlockWrapper
	in      []byte
	out     []byte
	expect  int
	onOut   func([]byte) uint8
	status  uint8
	residue uint32
	sense   msc.SenseData

	// Fault injection
	failNext   int
	phaseNext  bool
	hold       chan struct{}
	gone       chan struct{}
	commands   uint64
	lastOpcode uint8
}

// NewTarget creates a target presenting storage as LUN 0.
func NewTarget(storage Storage) *Target {
	t := &Target{
		storage: storage,
		inquiry: msc.InquiryResponse{
			DeviceType:     msc.InquiryDeviceTypeDirectAccess,
			Removable:      true,
			Version:        msc.InquiryVersionSPC4,
			ResponseFormat: msc.InquiryResponseFormatSPC,
			Vendor:         "mscfs",
			Product:        "Sim Disk",
			Revision:       "1.0",
		},
		strings: [4]string{"", "mscfs", "Simulated Disk", "000000000001"},
		speed:   hal.SpeedFull,
		sense:   *msc.NewSenseData(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0),
		gone:    make(chan struct{}),
	}
	close(t.gone)
	return t
}

// SetInquiry sets the vendor, product and revision reported by INQUIRY.
func (t *Target) SetInquiry(vendor, product, revision string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inquiry.Vendor = vendor
	t.inquiry.Product = product
	t.inquiry.Revision = revision
}

// SetSerial sets the serial number string descriptor.
func (t *Target) SetSerial(serial string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strings[3] = serial
}

// Storage returns the medium behind the target.
func (t *Target) Storage() Storage {
	return t.storage
}

// Address returns the bus address assigned by the host, or 0.
func (t *Target) Address() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// Commands returns the number of CBWs accepted since creation.
func (t *Target) Commands() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commands
}

// LastOpcode returns the SCSI operation code of the most recent CBW.
func (t *Target) LastOpcode() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastOpcode
}

// FailNext makes the next n SCSI commands, other than REQUEST SENSE,
// complete with a failed status and MEDIUM ERROR sense.
func (t *Target) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = n
}

// PhaseErrorNext makes the next SCSI command complete with a phase error.
func (t *Target) PhaseErrorNext() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phaseNext = true
}

// Hold stalls every bulk IN transfer until Release is called, the
// transfer's context ends, or the target is detached.
func (t *Target) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hold == nil {
		t.hold = make(chan struct{})
	}
}

// Release resumes bulk IN transfers blocked by Hold.
func (t *Target) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hold != nil {
		close(t.hold)
		t.hold = nil
	}
}

// attach prepares the target for a new connection.
func (t *Target) attach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone = make(chan struct{})
	t.resetLocked()
}

// detach fails pending and future transfers.
func (t *Target) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.gone:
	default:
		close(t.gone)
	}
	t.address = 0
	t.config = 0
}

// busReset returns the target to the default state at address 0.
func (t *Target) busReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.address = 0
	t.config = 0
	t.resetLocked()
}

// resetLocked returns the transport to the command phase.
func (t *Target) resetLocked() {
	t.state = botCommand
	t.in = nil
	t.out = t.out[:0]
	t.expect = 0
	t.onOut = nil
}

// ===== Control endpoint =====

func (t *Target) control(setup *hal.SetupPacket, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch setup.RequestType & 0x60 {
	case 0x00:
		return t.standardRequest(setup, data)
	case 0x20:
		return t.classRequest(setup, data)
	default:
		return 0, pkg.ErrStall
	}
}

func (t *Target) standardRequest(setup *hal.SetupPacket, data []byte) (int, error) {
	const (
		getDescriptor    = 0x06
		setAddress       = 0x05
		setConfiguration = 0x09
		getConfiguration = 0x08
		clearFeature     = 0x01
	)

	switch setup.Request {
	case getDescriptor:
		desc := t.descriptor(uint8(setup.Value>>8), uint8(setup.Value))
		if desc == nil {
			return 0, pkg.ErrStall
		}
		n := min(len(data), int(setup.Length), len(desc))
		return copy(data[:n], desc), nil

	case setAddress:
		if setup.Value == 0 || setup.Value > 127 {
			return 0, pkg.ErrStall
		}
		t.address = uint8(setup.Value)
		return 0, nil

	case setConfiguration:
		if setup.Value > 1 {
			return 0, pkg.ErrStall
		}
		t.config = uint8(setup.Value)
		return 0, nil

	case getConfiguration:
		if len(data) == 0 {
			return 0, nil
		}
		data[0] = t.config
		return 1, nil

	case clearFeature:
		return 0, nil

	default:
		return 0, pkg.ErrStall
	}
}

func (t *Target) classRequest(setup *hal.SetupPacket, data []byte) (int, error) {
	switch setup.Request {
	case msc.RequestGetMaxLUN:
		if len(data) == 0 {
			return 0, pkg.ErrStall
		}
		data[0] = 0
		return 1, nil

	case msc.RequestBulkOnlyMassStorageReset:
		pkg.LogDebug(pkg.ComponentHAL, "sim bulk-only reset", "address", t.address)
		t.resetLocked()
		return 0, nil

	default:
		return 0, pkg.ErrStall
	}
}

// descriptor builds the descriptor of the given type and index, or nil.
func (t *Target) descriptor(kind, index uint8) []byte {
	mps := uint16(t.speed.BulkMaxPacketSize())

	switch kind {
	case 0x01:
		d := []byte{
			18, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
			0, 0, 0, 0, 0x00, 0x01, 1, 2, 3, 1,
		}
		binary.LittleEndian.PutUint16(d[8:], DefaultVendorID)
		binary.LittleEndian.PutUint16(d[10:], DefaultProductID)
		return d

	case 0x02:
		d := []byte{
			// Configuration
			9, 0x02, 32, 0, 1, 1, 0, 0x80, 50,
			// Interface: mass storage, SCSI transparent, bulk-only
			9, 0x04, 0, 0, 2, msc.ClassMSC, msc.SubclassSCSI, msc.ProtocolBulkOnly, 0,
			// Bulk IN
			7, 0x05, EndpointIn, 0x02, 0, 0, 0,
			// Bulk OUT
			7, 0x05, EndpointOut, 0x02, 0, 0, 0,
		}
		binary.LittleEndian.PutUint16(d[22:], mps)
		binary.LittleEndian.PutUint16(d[29:], mps)
		return d

	case 0x03:
		if index == 0 {
			return []byte{4, 0x03, 0x09, 0x04}
		}
		if int(index) >= len(t.strings) {
			return nil
		}
		units := utf16.Encode([]rune(t.strings[index]))
		d := make([]byte, 2+2*len(units))
		d[0] = byte(len(d))
		d[1] = 0x03
		for i, u := range units {
			binary.LittleEndian.PutUint16(d[2+2*i:], u)
		}
		return d
	}
	return nil
}

// ===== Bulk endpoints =====

func (t *Target) bulk(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	switch endpoint {
	case EndpointIn:
		return t.bulkIn(ctx, data)
	case EndpointOut:
		return t.bulkOut(data)
	default:
		return 0, pkg.ErrInvalidEndpoint
	}
}

func (t *Target) bulkOut(data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.gone:
		return 0, pkg.ErrNoDevice
	default:
	}

	switch t.state {
	case botCommand:
		if len(data) != msc.CBWSize || !msc.ParseCBW(data, &t.cbw) {
			pkg.LogDebug(pkg.ComponentHAL, "sim invalid CBW", "length", len(data))
			return 0, pkg.ErrStall
		}
		t.commands++
		t.lastOpcode = t.cbw.Opcode()
		t.execute()
		return len(data), nil

	case botDataOut:
		n := min(len(data), t.expect-len(t.out))
		t.out = append(t.out, data[:n]...)
		if len(t.out) == t.expect {
			if t.onOut != nil {
				t.status = t.onOut(t.out)
			}
			t.residue = t.cbw.DataTransferLength - uint32(len(t.out))
			t.onOut = nil
			t.state = botStatus
		}
		return n, nil

	default:
		return 0, pkg.ErrStall
	}
}

func (t *Target) bulkIn(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	hold, gone := t.hold, t.gone
	t.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-gone:
			return 0, pkg.ErrNoDevice
		case <-ctx.Done():
			return 0, context.Cause(ctx)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.gone:
		return 0, pkg.ErrNoDevice
	default:
	}

	switch t.state {
	case botDataIn:
		n := copy(data, t.in)
		t.in = t.in[n:]
		if len(t.in) == 0 {
			t.state = botStatus
		}
		return n, nil

	case botStatus:
		if len(data) < msc.CSWSize {
			return 0, pkg.ErrOverrun
		}
		csw := msc.NewCSW(t.cbw.Tag, t.residue, t.status)
		t.state = botCommand
		return csw.MarshalTo(data), nil

	default:
		return 0, pkg.ErrNAK
	}
}

// execute runs the SCSI command in t.cbw and enters the next phase.
func (t *Target) execute() {
	cbw := &t.cbw
	length := cbw.DataTransferLength

	pkg.LogDebug(pkg.ComponentHAL, "sim SCSI command",
		"address", t.address,
		"opcode", cbw.Opcode(),
		"length", length)

	var reply []byte
	switch {
	case t.phaseNext:
		t.phaseNext = false
		t.status = msc.CSWStatusPhaseError
	case cbw.LUN != 0:
		t.status = t.fail(msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB)
	case t.failNext > 0 && cbw.Opcode() != msc.SCSIRequestSense:
		t.failNext--
		t.status = t.fail(msc.SenseMediumError, msc.ASCNoAdditionalInfo)
	default:
		t.status, reply = t.handleSCSI(cbw)
	}

	switch {
	case length > 0 && cbw.IsDataIn():
		if uint32(len(reply)) > length {
			reply = reply[:length]
		}
		t.in = reply
		t.residue = length - uint32(len(reply))
		t.state = botDataIn
	case length > 0:
		t.out = t.out[:0]
		t.expect = int(length)
		t.residue = length
		t.state = botDataOut
	default:
		t.residue = 0
		t.state = botStatus
	}
}

// fail records sense data and returns a failed status.
func (t *Target) fail(key, asc uint8) uint8 {
	t.sense = *msc.NewSenseData(key, asc, 0)
	return msc.CSWStatusFailed
}

// handleSCSI dispatches a command. Commands with a data-out phase install
// t.onOut to consume the data once it has all arrived.
func (t *Target) handleSCSI(cbw *msc.CommandBlockWrapper) (uint8, []byte) {
	switch cbw.Opcode() {
	case msc.SCSITestUnitReady:
		t.sense = *msc.NewSenseData(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
		return msc.CSWStatusGood, nil

	case msc.SCSIRequestSense:
		buf := make([]byte, msc.RequestSenseSize)
		n := t.sense.MarshalTo(buf)
		t.sense = *msc.NewSenseData(msc.SenseNoSense, msc.ASCNoAdditionalInfo, 0)
		return msc.CSWStatusGood, buf[:min(n, allocLength6(cbw, n))]

	case msc.SCSIInquiry:
		buf := make([]byte, msc.InquiryStandardSize)
		n := t.inquiry.MarshalTo(buf)
		return msc.CSWStatusGood, buf[:min(n, allocLength6(cbw, n))]

	case msc.SCSIModeSense6:
		hdr := msc.ModeSense6Header{ModeDataLength: msc.ModeSense6Size - 1}
		if t.storage.ReadOnly() {
			hdr.DeviceParam = msc.ModeSenseWriteProtect
		}
		buf := make([]byte, msc.ModeSense6Size)
		n := hdr.MarshalTo(buf)
		return msc.CSWStatusGood, buf[:min(n, allocLength6(cbw, n))]

	case msc.SCSIReadCapacity10:
		resp := msc.ReadCapacity10Response{
			LastLBA:     t.storage.BlockCount() - 1,
			BlockLength: t.storage.BlockSize(),
		}
		buf := make([]byte, msc.ReadCapacity10Size)
		return msc.CSWStatusGood, buf[:resp.MarshalTo(buf)]

	case msc.SCSIRead10:
		lba, blocks := msc.ParseRW10(cbw.CB[:])
		if !t.inRange(lba, blocks) {
			return t.fail(msc.SenseIllegalRequest, msc.ASCLBAOutOfRange), nil
		}
		buf := make([]byte, int(blocks)*int(t.storage.BlockSize()))
		if err := t.storage.ReadBlocks(lba, buf); err != nil {
			return t.fail(msc.SenseMediumError, msc.ASCNoAdditionalInfo), nil
		}
		return msc.CSWStatusGood, buf

	case msc.SCSIWrite10:
		lba, blocks := msc.ParseRW10(cbw.CB[:])
		switch {
		case !t.inRange(lba, blocks):
			return t.fail(msc.SenseIllegalRequest, msc.ASCLBAOutOfRange), nil
		case t.storage.ReadOnly():
			return t.fail(msc.SenseDataProtect, msc.ASCWriteProtected), nil
		}
		size := int(blocks) * int(t.storage.BlockSize())
		t.onOut = func(data []byte) uint8 {
			if len(data) < size {
				return t.fail(msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB)
			}
			if err := t.storage.WriteBlocks(lba, data[:size]); err != nil {
				return t.fail(msc.SenseMediumError, msc.ASCNoAdditionalInfo)
			}
			return msc.CSWStatusGood
		}
		return msc.CSWStatusGood, nil

	case msc.SCSISynchronizeCache10:
		if err := t.storage.Sync(); err != nil {
			return t.fail(msc.SenseMediumError, msc.ASCNoAdditionalInfo), nil
		}
		return msc.CSWStatusGood, nil

	default:
		pkg.LogWarn(pkg.ComponentHAL, "sim unsupported SCSI command",
			"opcode", cbw.Opcode())
		return t.fail(msc.SenseIllegalRequest, msc.ASCInvalidCommand), nil
	}
}

func (t *Target) inRange(lba uint32, blocks uint16) bool {
	return uint64(lba)+uint64(blocks) <= uint64(t.storage.BlockCount())
}

// allocLength6 returns the allocation length of a 6-byte CDB, treating the
// 16-bit form used by INQUIRY the same way.
func allocLength6(cbw *msc.CommandBlockWrapper, full int) int {
	if cbw.Opcode() == msc.SCSIInquiry {
		return int(binary.BigEndian.Uint16(cbw.CB[3:5]))
	}
	if n := int(cbw.CB[4]); n > 0 {
		return n
	}
	return full
}
