package host

import (
	"context"
	"sync"

	"github.com/ardnew/mscfs/pkg"
)

// BulkPipe pairs a bulk IN and a bulk OUT endpoint of one interface.
//
// Unlike a byte stream, a read stops at the first short packet so that
// protocol phases carried on the same endpoint stay separate.
type BulkPipe struct {
	device  *Device
	epIn    uint8
	epOut   uint8
	maxSize int

	mu sync.Mutex
}

// NewBulkPipe creates a new pipe for the given endpoints.
func NewBulkPipe(dev *Device, epIn, epOut uint8, maxPacketSize int) *BulkPipe {
	if maxPacketSize <= 0 {
		maxPacketSize = 64
	}
	return &BulkPipe{
		device:  dev,
		epIn:    epIn,
		epOut:   epOut,
		maxSize: maxPacketSize,
	}
}

// Read fills data from the IN endpoint. It returns early, without error,
// when the device ends the phase with a short packet.
func (p *BulkPipe) Read(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for total < len(data) {
		want := len(data) - total
		n, err := p.device.BulkTransfer(ctx, p.epIn, data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n < want {
			break
		}
	}
	return total, nil
}

// Write sends data to the OUT endpoint in packets of at most the
// endpoint's maximum packet size.
func (p *BulkPipe) Write(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for len(data) > 0 {
		n := len(data)
		if n > p.maxSize {
			n = p.maxSize
		}

		written, err := p.device.BulkTransfer(ctx, p.epOut, data[:n])
		total += written
		if err != nil {
			return total, err
		}
		if written == 0 {
			return total, pkg.ErrProtocol
		}

		data = data[written:]
	}

	return total, nil
}

// ClearHalt clears a stall on both endpoints.
func (p *BulkPipe) ClearHalt(ctx context.Context) error {
	if err := p.device.ClearEndpointHalt(ctx, p.epIn); err != nil {
		return err
	}
	return p.device.ClearEndpointHalt(ctx, p.epOut)
}

// In returns the IN endpoint address.
func (p *BulkPipe) In() uint8 {
	return p.epIn
}

// Out returns the OUT endpoint address.
func (p *BulkPipe) Out() uint8 {
	return p.epOut
}

// MaxPacketSize returns the packet size used to split writes.
func (p *BulkPipe) MaxPacketSize() int {
	return p.maxSize
}

// Device returns the device this pipe is connected to.
func (p *BulkPipe) Device() *Device {
	return p.device
}
