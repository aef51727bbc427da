package host

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// Transfer represents a USB request queued on the scheduler.
//
// A plain transfer is described by Type, Endpoint, Data and Setup. A class
// driver that needs several transfers to run back to back as one unit sets
// Run instead; the scheduler then calls Run and ignores the other fields.
type Transfer struct {
	// Device address
	Address uint8

	// Endpoint address (0x00-0x0F for OUT, 0x80-0x8F for IN)
	Endpoint uint8

	// Transfer type
	Type hal.TransferType

	// Data buffer
	Data []byte

	// Setup packet (for control transfers only)
	Setup *hal.SetupPacket

	// Run replaces the single transfer when set.
	Run func(ctx context.Context) (int, error)

	// Callback when transfer completes. It runs on the scheduler goroutine
	// of the transfer's device.
	Callback func(*Transfer, int, error)

	// Context for cancellation
	Context context.Context

	id        uint64
	mu        sync.Mutex
	completed bool
	result    int
	err       error
}

// ID returns the identifier assigned by Submit.
func (t *Transfer) ID() uint64 {
	return t.id
}

// IsComplete returns true if the transfer has completed or was cancelled.
func (t *Transfer) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Result returns the transfer result.
func (t *Transfer) Result() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// finish records the outcome once. It reports false if the transfer was
// already finished.
func (t *Transfer) finish(n int, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return false
	}
	t.completed = true
	t.result = n
	t.err = err
	return true
}

// lane is the queue and worker goroutine of one device address.
type lane struct {
	addr   uint8
	jobs   chan *Transfer
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Scheduler runs transfers asynchronously and reports completion through
// callbacks.
//
// Each device address gets its own lane: requests for one device run in
// submission order, and a stalled request on one device never delays
// another device.
type Scheduler struct {
	hal   hal.HostHAL
	depth int

	lanes   map[uint8]*lane
	pending map[uint64]*Transfer
	nextID  uint64
	mu      sync.Mutex
	wg      sync.WaitGroup

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler whose lanes queue up to depth requests.
func NewScheduler(h hal.HostHAL, depth int) *Scheduler {
	if depth < 1 {
		depth = 1
	}
	return &Scheduler{
		hal:     h,
		depth:   depth,
		lanes:   make(map[uint8]*lane),
		pending: make(map[uint64]*Transfer),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return pkg.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	return nil
}

// Stop cancels every lane, fails queued requests with ErrCancelled and
// waits for the lane goroutines to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	lanes := s.lanes
	s.lanes = make(map[uint8]*lane)
	s.mu.Unlock()

	for _, l := range lanes {
		l.cancel(pkg.ErrCancelled)
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

// Submit queues a transfer for execution on its device's lane. It does not
// block: a full lane returns ErrBusy.
func (s *Scheduler) Submit(t *Transfer) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return 0, pkg.ErrNotRunning
	}

	l, ok := s.lanes[t.Address]
	if !ok {
		l = s.newLane(t.Address)
		s.lanes[t.Address] = l
	}

	s.nextID++
	t.id = s.nextID

	select {
	case l.jobs <- t:
		s.pending[t.id] = t
		return t.id, nil
	default:
		return 0, pkg.ErrBusy
	}
}

// Release cancels the lane of addr. Its running request sees a cancelled
// context and queued requests complete with ErrNoDevice.
func (s *Scheduler) Release(addr uint8) {
	s.mu.Lock()
	l, ok := s.lanes[addr]
	delete(s.lanes, addr)
	s.mu.Unlock()

	if ok {
		l.cancel(pkg.ErrNoDevice)
	}
}

// Cancel cancels a pending transfer. The callback is not invoked for a
// transfer cancelled this way.
func (s *Scheduler) Cancel(id uint64) error {
	s.mu.Lock()
	t, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if ok {
		t.finish(0, pkg.ErrCancelled)
	}
	return nil
}

// PendingCount returns the number of queued or running transfers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// WaitAll waits for all pending transfers to complete.
func (s *Scheduler) WaitAll(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for s.PendingCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// newLane creates and starts the lane for addr. Caller holds s.mu.
func (s *Scheduler) newLane(addr uint8) *lane {
	ctx, cancel := context.WithCancelCause(s.ctx)
	l := &lane{
		addr:   addr,
		jobs:   make(chan *Transfer, s.depth),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.worker(l)
	return l
}

// worker executes the requests of one lane until it is cancelled.
func (s *Scheduler) worker(l *lane) {
	defer s.wg.Done()
	pkg.LogDebug(pkg.ComponentTransfer, "lane started", "address", l.addr)

	for {
		select {
		case <-l.ctx.Done():
			s.drain(l)
			pkg.LogDebug(pkg.ComponentTransfer, "lane stopped", "address", l.addr)
			return
		case t := <-l.jobs:
			s.execute(l, t)
		}
	}
}

// drain fails every request still queued on a cancelled lane.
func (s *Scheduler) drain(l *lane) {
	cause := context.Cause(l.ctx)
	if cause == nil || cause == context.Canceled {
		cause = pkg.ErrCancelled
	}
	for {
		select {
		case t := <-l.jobs:
			s.complete(t, 0, cause)
		default:
			return
		}
	}
}

// execute runs a single request.
func (s *Scheduler) execute(l *lane, t *Transfer) {
	if t.IsComplete() {
		return
	}

	ctx := l.ctx
	if t.Context != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		stop := context.AfterFunc(t.Context, cancel)
		defer func() {
			stop()
			cancel()
		}()
	}

	if ctx.Err() != nil {
		s.complete(t, 0, context.Cause(ctx))
		return
	}

	var n int
	var err error

	switch {
	case t.Run != nil:
		n, err = t.Run(ctx)

	case t.Type == hal.TransferControl:
		if t.Setup == nil {
			err = pkg.ErrInvalidParameter
		} else {
			n, err = s.hal.ControlTransfer(ctx, hal.DeviceAddress(t.Address), t.Setup, t.Data)
		}

	case t.Type == hal.TransferBulk:
		n, err = s.hal.BulkTransfer(ctx, hal.DeviceAddress(t.Address), t.Endpoint, t.Data)

	case t.Type == hal.TransferInterrupt:
		n, err = s.hal.InterruptTransfer(ctx, hal.DeviceAddress(t.Address), t.Endpoint, t.Data)

	default:
		err = pkg.ErrNotSupported
	}

	s.complete(t, n, err)
}

// complete records the outcome, removes the transfer from the pending set
// and invokes its callback.
func (s *Scheduler) complete(t *Transfer, n int, err error) {
	s.mu.Lock()
	delete(s.pending, t.id)
	s.mu.Unlock()

	if !t.finish(n, err) {
		return
	}

	if err != nil {
		pkg.LogDebug(pkg.ComponentTransfer, "transfer failed",
			"address", t.Address, "id", t.id, "error", err)
	}

	if t.Callback != nil {
		t.Callback(t, n, err)
	}
}
