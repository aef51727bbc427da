package diskio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardnew/mscfs/host/class/msc"
)

// Result is the outcome of a block operation, numbered like FatFs DRESULT.
type Result uint8

// Result values.
const (
	OK             Result = iota // Succeeded
	Error                        // Transfer or device error
	WriteProtected               // Medium is write protected
	NotReady                     // Drive not plugged or not initialized
	ParameterError               // Invalid drive, buffer or count
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Error:
		return "error"
	case WriteProtected:
		return "write protected"
	case NotReady:
		return "not ready"
	case ParameterError:
		return "parameter error"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for r, or nil for OK.
func (r Result) Err() error {
	switch r {
	case OK:
		return nil
	case WriteProtected:
		return ErrWriteProtected
	case NotReady:
		return ErrNotReady
	case ParameterError:
		return ErrParameter
	default:
		return ErrIO
	}
}

// Sentinel errors.
var (
	ErrNoFreeDrive    = errors.New("diskio: no free drive")
	ErrAlreadyMapped  = errors.New("diskio: address already mapped")
	ErrNotMapped      = errors.New("diskio: drive not mapped")
	ErrNotReady       = errors.New("diskio: drive not ready")
	ErrParameter      = errors.New("diskio: invalid parameter")
	ErrWriteProtected = errors.New("diskio: write protected")
	ErrIO             = errors.New("diskio: I/O error")
)

// Status is a drive status bitmask, following FatFs DSTATUS.
type Status uint8

// Status flags.
const (
	StatusNoInit  Status = 0x01 // Drive not initialized
	StatusNoDisk  Status = 0x02 // No medium in the drive
	StatusProtect Status = 0x04 // Medium is write protected
)

// Ready reports whether neither NoInit nor NoDisk is set.
func (s Status) Ready() bool {
	return s&(StatusNoInit|StatusNoDisk) == 0
}

// TransferState is the state of a drive's most recent transfer.
type TransferState uint8

// Transfer states.
const (
	TransferComplete   TransferState = iota // Finished with a passed status
	TransferInProgress                      // Submitted, waiting for completion
	TransferError                           // Failed, abandoned or cancelled
)

// String returns the state name.
func (s TransferState) String() string {
	switch s {
	case TransferComplete:
		return "complete"
	case TransferInProgress:
		return "in progress"
	case TransferError:
		return "error"
	default:
		return "unknown"
	}
}

// NoDrive is returned by lookups of an address with no drive.
const NoDrive = 0xFF

// DefaultDrives is the default number of drive slots.
const DefaultDrives = 4

// DefaultTimeout bounds the wait for one transfer.
const DefaultTimeout = 5 * time.Second

// Transport issues asynchronous SCSI block commands to a device address.
// *msc.Driver implements it.
type Transport interface {
	Read10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error
	Write10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error
	SynchronizeCache(ctx context.Context, addr, lun uint8, cb msc.CompleteFunc) error
	BlockCount(addr, lun uint8) uint32
	BlockSize(addr, lun uint8) uint32
	WriteProtected(addr, lun uint8) bool
}

var _ Transport = (*msc.Driver)(nil)

// slot is one physical drive. Each slot owns its transfer state and
// completion signal, so drives never wait on each other.
type slot struct {
	turn   chan struct{} // held by the one transfer on the drive
	mu     sync.Mutex
	mapped bool
	addr   uint8
	status Status
	state  TransferState
	seq    uint64        // identifies the transfer a callback belongs to
	unplug chan struct{} // closed by Unplug to release a waiter
}

// Disks maps physical drive numbers to mass storage device addresses and
// performs blocking sector I/O on them.
type Disks struct {
	transport Transport
	lun       uint8

	mutex   sync.Mutex // guards slot mapping
	slots   []*slot
	timeout time.Duration
}

// New creates n drive slots over transport. n <= 0 selects DefaultDrives.
func New(transport Transport, n int) *Disks {
	if n <= 0 {
		n = DefaultDrives
	}
	if n > NoDrive {
		n = NoDrive
	}
	d := &Disks{
		transport: transport,
		slots:     make([]*slot, n),
		timeout:   DefaultTimeout,
	}
	for i := range d.slots {
		d.slots[i] = &slot{
			turn:   make(chan struct{}, 1),
			status: StatusNoInit | StatusNoDisk,
			unplug: make(chan struct{}),
		}
	}
	return d
}

// SetTimeout sets the wait bound for one transfer. Zero disables it.
func (d *Disks) SetTimeout(timeout time.Duration) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.timeout = timeout
}

// Timeout returns the wait bound for one transfer.
func (d *Disks) Timeout() time.Duration {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.timeout
}

// NumDrives returns the number of drive slots.
func (d *Disks) NumDrives() int {
	return len(d.slots)
}

func (d *Disks) slot(pdrv uint8) *slot {
	if int(pdrv) >= len(d.slots) {
		return nil
	}
	return d.slots[pdrv]
}
