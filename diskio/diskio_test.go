package diskio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/pkg"
)

// ===== Fake transport =====

type fakeDevice struct {
	data      []byte
	protected bool
}

type fakeTransport struct {
	mu        sync.Mutex
	blockSize uint32
	devices   map[uint8]*fakeDevice
	status    uint8           // CSW status reported for the next commands
	submitErr error           // returned by the next submissions
	hold      map[uint8]bool  // addresses whose completions are deferred
	held      []func()        // deferred completions
	submits   int
	tag       uint32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		blockSize: 512,
		devices:   make(map[uint8]*fakeDevice),
		hold:      make(map[uint8]bool),
	}
}

func (f *fakeTransport) addDevice(addr uint8, blocks int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := &fakeDevice{data: make([]byte, blocks*int(f.blockSize))}
	f.devices[addr] = dev
	return dev
}

func (f *fakeTransport) setHold(addr uint8, hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold[addr] = hold
}

// releaseHeld runs deferred completions.
func (f *fakeTransport) releaseHeld() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

func (f *fakeTransport) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeTransport) command(addr uint8, cdb []byte, dataIn bool, length int, op func(*fakeDevice) bool, cb msc.CompleteFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submits++
	if f.submitErr != nil {
		return f.submitErr
	}
	dev, ok := f.devices[addr]
	if !ok {
		return pkg.ErrNoDevice
	}

	f.tag++
	cbw := msc.NewCBW(f.tag, 0, dataIn, uint32(length), cdb)
	status := f.status
	run := func() {
		if status == msc.CSWStatusGood && op != nil && !op(dev) {
			status = msc.CSWStatusFailed
		}
		cb(addr, cbw, msc.NewCSW(cbw.Tag, 0, status), nil)
	}

	if f.hold[addr] {
		f.held = append(f.held, run)
		return nil
	}
	go run()
	return nil
}

func (f *fakeTransport) Read10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error {
	n := int(count) * int(f.blockSize)
	off := int(lba) * int(f.blockSize)
	return f.command(addr, msc.Read10CDB(lba, count), true, n, func(dev *fakeDevice) bool {
		if off+n > len(dev.data) {
			return false
		}
		copy(buf[:n], dev.data[off:])
		return true
	}, cb)
}

func (f *fakeTransport) Write10(ctx context.Context, addr, lun uint8, buf []byte, lba uint32, count uint16, cb msc.CompleteFunc) error {
	n := int(count) * int(f.blockSize)
	off := int(lba) * int(f.blockSize)
	return f.command(addr, msc.Write10CDB(lba, count), false, n, func(dev *fakeDevice) bool {
		if off+n > len(dev.data) {
			return false
		}
		copy(dev.data[off:], buf[:n])
		return true
	}, cb)
}

func (f *fakeTransport) SynchronizeCache(ctx context.Context, addr, lun uint8, cb msc.CompleteFunc) error {
	return f.command(addr, msc.SynchronizeCache10CDB(), false, 0, nil, cb)
}

func (f *fakeTransport) BlockCount(addr, lun uint8) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev, ok := f.devices[addr]; ok {
		return uint32(len(dev.data) / int(f.blockSize))
	}
	return 0
}

func (f *fakeTransport) BlockSize(addr, lun uint8) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[addr]; ok {
		return f.blockSize
	}
	return 0
}

func (f *fakeTransport) WriteProtected(addr, lun uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev, ok := f.devices[addr]; ok {
		return dev.protected
	}
	return false
}

// ready maps, plugs and initializes a drive for addr.
func ready(t *testing.T, d *Disks, addr uint8) uint8 {
	t.Helper()
	pdrv, err := d.Map(addr)
	if err != nil {
		t.Fatalf("Map(%d) error = %v", addr, err)
	}
	if err := d.Plug(pdrv); err != nil {
		t.Fatalf("Plug(%d) error = %v", pdrv, err)
	}
	if st := d.Initialize(pdrv); !st.Ready() {
		t.Fatalf("Initialize(%d) = %#x", pdrv, st)
	}
	return pdrv
}

// waitState polls until drive pdrv reaches state.
func waitState(t *testing.T, d *Disks, pdrv uint8, state TransferState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for d.Transfer(pdrv) != state {
		if time.Now().After(deadline) {
			t.Fatalf("drive %d state = %v, want %v", pdrv, d.Transfer(pdrv), state)
		}
		time.Sleep(time.Millisecond)
	}
}

// ===== Result and Status =====

func TestResult(t *testing.T) {
	tests := []struct {
		res  Result
		name string
		err  error
	}{
		{OK, "ok", nil},
		{Error, "error", ErrIO},
		{WriteProtected, "write protected", ErrWriteProtected},
		{NotReady, "not ready", ErrNotReady},
		{ParameterError, "parameter error", ErrParameter},
		{Result(99), "unknown", ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if err := tt.res.Err(); !errors.Is(err, tt.err) || (tt.err == nil) != (err == nil) {
				t.Errorf("Err() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestStatus_Ready(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{0, true},
		{StatusProtect, true},
		{StatusNoInit, false},
		{StatusNoDisk, false},
		{StatusNoInit | StatusNoDisk, false},
	}
	for _, tt := range tests {
		if got := tt.status.Ready(); got != tt.want {
			t.Errorf("Status(%#x).Ready() = %v, want %v", tt.status, got, tt.want)
		}
	}
	if TransferInProgress.String() != "in progress" || TransferState(9).String() != "unknown" {
		t.Error("TransferState.String() mismatch")
	}
}

// ===== Slot mapping =====

func TestMap_LowestFree(t *testing.T) {
	d := New(newFakeTransport(), 3)

	for i, addr := range []uint8{5, 6, 7} {
		pdrv, err := d.Map(addr)
		if err != nil || pdrv != uint8(i) {
			t.Fatalf("Map(%d) = %d, %v; want %d", addr, pdrv, err, i)
		}
	}

	if _, err := d.Map(8); !errors.Is(err, ErrNoFreeDrive) {
		t.Errorf("Map() when full error = %v, want ErrNoFreeDrive", err)
	}
	if pdrv, err := d.Map(6); !errors.Is(err, ErrAlreadyMapped) || pdrv != 1 {
		t.Errorf("Map() duplicate = %d, %v; want 1, ErrAlreadyMapped", pdrv, err)
	}

	if got := d.Unmap(6); got != 1 {
		t.Errorf("Unmap(6) = %d, want 1", got)
	}
	if got := d.Unmap(6); got != NoDrive {
		t.Errorf("Unmap(6) again = %d, want NoDrive", got)
	}
	if got := d.Lookup(6); got != NoDrive {
		t.Errorf("Lookup(6) = %d, want NoDrive", got)
	}

	pdrv, err := d.Map(9)
	if err != nil || pdrv != 1 {
		t.Errorf("Map(9) = %d, %v; want reclaimed 1", pdrv, err)
	}
	if addr, ok := d.Address(1); !ok || addr != 9 {
		t.Errorf("Address(1) = %d, %v", addr, ok)
	}
	if _, ok := d.Address(200); ok {
		t.Error("Address() out of range reported mapped")
	}
}

func TestMap_NeverReusesActiveIndex(t *testing.T) {
	d := New(newFakeTransport(), 4)

	a, _ := d.Map(1)
	b, _ := d.Map(2)
	if a == b {
		t.Fatalf("two active devices share drive %d", a)
	}

	d.Unmap(1)
	c, _ := d.Map(3)
	if c == b {
		t.Fatalf("new device took drive %d still mapped to address 2", c)
	}
	if c != a {
		t.Errorf("new device got drive %d, want reclaimed %d", c, a)
	}
	if d.Lookup(2) != b || d.Lookup(3) != c {
		t.Error("Lookup() does not match mapping")
	}
}

func TestPlugInitializeStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16).protected = true
	d := New(ft, 2)

	if err := d.Plug(0); !errors.Is(err, ErrNotMapped) {
		t.Errorf("Plug() unmapped error = %v", err)
	}
	if err := d.Plug(9); !errors.Is(err, ErrParameter) {
		t.Errorf("Plug() out of range error = %v", err)
	}

	pdrv, _ := d.Map(1)
	if st := d.Initialize(pdrv); st != StatusNoInit|StatusNoDisk {
		t.Errorf("Initialize() without disk = %#x", st)
	}

	d.Plug(pdrv)
	if st := d.Status(pdrv); st != StatusNoInit|StatusProtect {
		t.Errorf("Status() after Plug = %#x", st)
	}
	if st := d.Initialize(pdrv); st != StatusProtect {
		t.Errorf("Initialize() = %#x, want Protect", st)
	}
	if d.Transfer(pdrv) != TransferComplete {
		t.Errorf("Transfer() = %v, want complete", d.Transfer(pdrv))
	}

	d.Unplug(pdrv)
	if st := d.Status(pdrv); st != StatusNoInit|StatusNoDisk {
		t.Errorf("Status() after Unplug = %#x", st)
	}
	if st := d.Status(9); st != StatusNoInit {
		t.Errorf("Status() out of range = %#x", st)
	}
}

// ===== Read and Write =====

func TestReadWrite_NotReady(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 2)
	buf := make([]byte, 512)

	// Drive 1 has no device; drive 0 is mapped but never plugged
	d.Map(1)
	for pdrv := uint8(0); pdrv < 2; pdrv++ {
		if res := d.Read(context.Background(), pdrv, buf, 0, 1); res != NotReady {
			t.Errorf("Read(%d) = %v, want not ready", pdrv, res)
		}
		if res := d.Write(context.Background(), pdrv, buf, 0, 1); res != NotReady {
			t.Errorf("Write(%d) = %v, want not ready", pdrv, res)
		}
	}
	if ft.submitCount() != 0 {
		t.Errorf("submits = %d, want 0", ft.submitCount())
	}
}

func TestReadWrite_ParameterError(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 2)
	pdrv := ready(t, d, 1)

	tests := []struct {
		name  string
		pdrv  uint8
		buf   []byte
		count uint
	}{
		{"drive out of range", 2, make([]byte, 512), 1},
		{"nil buffer", pdrv, nil, 1},
		{"zero count", pdrv, make([]byte, 512), 0},
		{"short buffer", pdrv, make([]byte, 1000), 2},
		{"count too large", pdrv, make([]byte, 512), 0x10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := d.Read(context.Background(), tt.pdrv, tt.buf, 0, tt.count); res != ParameterError {
				t.Errorf("Read() = %v, want parameter error", res)
			}
		})
	}
	if ft.submitCount() != 0 {
		t.Errorf("submits = %d, want 0", ft.submitCount())
	}
}

func TestReadWrite_RoundTrip(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	pdrv := ready(t, d, 1)
	ctx := context.Background()

	out := bytes.Repeat([]byte{0xC3}, 1024)
	if res := d.Write(ctx, pdrv, out, 3, 2); res != OK {
		t.Fatalf("Write() = %v", res)
	}
	if d.Transfer(pdrv) != TransferComplete {
		t.Errorf("Transfer() after write = %v", d.Transfer(pdrv))
	}

	in := make([]byte, 1024)
	if res := d.Read(ctx, pdrv, in, 3, 2); res != OK {
		t.Fatalf("Read() = %v", res)
	}
	if !bytes.Equal(in, out) {
		t.Error("read data does not match")
	}
}

func TestReadWrite_FailedStatus(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	pdrv := ready(t, d, 1)
	buf := make([]byte, 512)

	ft.status = msc.CSWStatusFailed
	if res := d.Read(context.Background(), pdrv, buf, 0, 1); res != Error {
		t.Errorf("Read() with failed status = %v, want error", res)
	}
	if d.Transfer(pdrv) != TransferError {
		t.Errorf("Transfer() = %v, want error", d.Transfer(pdrv))
	}

	ft.status = msc.CSWStatusGood
	if res := d.Read(context.Background(), pdrv, buf, 0, 1); res != OK {
		t.Errorf("Read() after failure = %v, want ok", res)
	}
	if d.Transfer(pdrv) != TransferComplete {
		t.Errorf("Transfer() = %v, want complete", d.Transfer(pdrv))
	}
}

func TestReadWrite_SubmitError(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	pdrv := ready(t, d, 1)

	ft.submitErr = pkg.ErrBusy
	if res := d.Write(context.Background(), pdrv, make([]byte, 512), 0, 1); res != Error {
		t.Errorf("Write() = %v, want error", res)
	}
	if d.Transfer(pdrv) != TransferError {
		t.Errorf("Transfer() = %v, want error", d.Transfer(pdrv))
	}
}

func TestWrite_Protected(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16).protected = true
	d := New(ft, 1)
	pdrv := ready(t, d, 1)

	if res := d.Write(context.Background(), pdrv, make([]byte, 512), 0, 1); res != WriteProtected {
		t.Errorf("Write() = %v, want write protected", res)
	}
	if res := d.Read(context.Background(), pdrv, make([]byte, 512), 0, 1); res != OK {
		t.Errorf("Read() = %v, want ok", res)
	}
}

// ===== Timeout and cancellation =====

func TestRead_TimeoutIgnoresLateCompletion(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	d.SetTimeout(20 * time.Millisecond)
	pdrv := ready(t, d, 1)
	buf := make([]byte, 512)

	ft.setHold(1, true)
	if res := d.Read(context.Background(), pdrv, buf, 0, 1); res != Error {
		t.Fatalf("Read() = %v, want error on timeout", res)
	}
	if d.Transfer(pdrv) != TransferError {
		t.Errorf("Transfer() = %v, want error", d.Transfer(pdrv))
	}

	// The abandoned transfer finishes late with a passed status
	ft.releaseHeld()
	if d.Transfer(pdrv) != TransferError {
		t.Errorf("Transfer() after late completion = %v, want error", d.Transfer(pdrv))
	}

	ft.setHold(1, false)
	if res := d.Read(context.Background(), pdrv, buf, 0, 1); res != OK {
		t.Errorf("Read() after timeout = %v, want ok", res)
	}
}

func TestRead_ContextCancelled(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	d.SetTimeout(0)
	pdrv := ready(t, d, 1)
	ft.setHold(1, true)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan Result, 1)
	go func() { result <- d.Read(ctx, pdrv, make([]byte, 512), 0, 1) }()

	waitState(t, d, pdrv, TransferInProgress)
	cancel()

	select {
	case res := <-result:
		if res != Error {
			t.Errorf("Read() = %v, want error", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() not released by cancel")
	}
}

func TestRead_UnplugReleasesWaiter(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	d.SetTimeout(0)
	pdrv := ready(t, d, 1)
	ft.setHold(1, true)

	result := make(chan Result, 1)
	go func() { result <- d.Read(context.Background(), pdrv, make([]byte, 512), 0, 1) }()

	waitState(t, d, pdrv, TransferInProgress)
	d.Unmap(1)

	select {
	case res := <-result:
		if res != Error {
			t.Errorf("Read() = %v, want error", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() not released by unplug")
	}
	if d.Transfer(pdrv) != TransferError {
		t.Errorf("Transfer() = %v, want error", d.Transfer(pdrv))
	}
	if res := d.Read(context.Background(), pdrv, make([]byte, 512), 0, 1); res != NotReady {
		t.Errorf("Read() after unplug = %v, want not ready", res)
	}
}

func TestRead_DrivesAreIndependent(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	ft.addDevice(2, 16)
	d := New(ft, 2)
	d.SetTimeout(0)
	slow := ready(t, d, 1)
	fast := ready(t, d, 2)

	ft.setHold(1, true)
	result := make(chan Result, 1)
	go func() { result <- d.Read(context.Background(), slow, make([]byte, 512), 0, 1) }()
	waitState(t, d, slow, TransferInProgress)

	done := make(chan Result, 1)
	go func() { done <- d.Read(context.Background(), fast, make([]byte, 512), 0, 1) }()

	select {
	case res := <-done:
		if res != OK {
			t.Errorf("Read() on free drive = %v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() on free drive blocked by other drive")
	}

	ft.releaseHeld()
	if res := <-result; res != OK {
		t.Errorf("Read() on held drive = %v", res)
	}
}

func TestRead_SameDriveQueues(t *testing.T) {
	ft := newFakeTransport()
	dev := ft.addDevice(1, 16)
	copy(dev.data[512:], bytes.Repeat([]byte{0xA5}, 512))
	d := New(ft, 1)
	d.SetTimeout(0)
	pdrv := ready(t, d, 1)

	ft.setHold(1, true)
	first := make(chan Result, 1)
	go func() { first <- d.Read(context.Background(), pdrv, make([]byte, 512), 0, 1) }()
	waitState(t, d, pdrv, TransferInProgress)
	submitted := ft.submitCount()

	buf := make([]byte, 512)
	second := make(chan Result, 1)
	go func() { second <- d.Read(context.Background(), pdrv, buf, 1, 1) }()

	// The second read waits for the first instead of failing or submitting.
	select {
	case res := <-second:
		t.Fatalf("second Read() = %v while first in progress", res)
	case <-time.After(50 * time.Millisecond):
	}
	if got := ft.submitCount(); got != submitted {
		t.Errorf("submits = %d, want %d while first in progress", got, submitted)
	}

	ft.setHold(1, false)
	ft.releaseHeld()
	for name, ch := range map[string]chan Result{"first": first, "second": second} {
		select {
		case res := <-ch:
			if res != OK {
				t.Errorf("%s Read() = %v, want ok", name, res)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s Read() did not return", name)
		}
	}
	if !bytes.Equal(buf, dev.data[512:1024]) {
		t.Error("second Read() data mismatch")
	}
}

func TestRead_QueuedContextCancelled(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	d.SetTimeout(0)
	pdrv := ready(t, d, 1)

	ft.setHold(1, true)
	first := make(chan Result, 1)
	go func() { first <- d.Read(context.Background(), pdrv, make([]byte, 512), 0, 1) }()
	waitState(t, d, pdrv, TransferInProgress)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan Result, 1)
	go func() { second <- d.Read(ctx, pdrv, make([]byte, 512), 0, 1) }()
	cancel()

	select {
	case res := <-second:
		if res != Error {
			t.Errorf("queued Read() = %v, want error", res)
		}
	case <-time.After(time.Second):
		t.Fatal("queued Read() not released by cancel")
	}

	ft.setHold(1, false)
	ft.releaseHeld()
	if res := <-first; res != OK {
		t.Errorf("first Read() = %v, want ok", res)
	}
}

// ===== ioctl =====

func TestSync(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 16)
	d := New(ft, 1)
	pdrv := ready(t, d, 1)
	ctx := context.Background()

	if res := d.Sync(ctx, pdrv); res != OK {
		t.Errorf("Sync() = %v", res)
	}

	ft.status = msc.CSWStatusFailed
	if res := d.Sync(ctx, pdrv); res != OK {
		t.Errorf("Sync() on unsupported command = %v, want ok", res)
	}

	ft.submitErr = pkg.ErrNoDevice
	if res := d.Sync(ctx, pdrv); res != Error {
		t.Errorf("Sync() submit failure = %v, want error", res)
	}

	if res := d.Sync(ctx, 5); res != ParameterError {
		t.Errorf("Sync() bad drive = %v", res)
	}
}

func TestGeometry(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 2048)
	d := New(ft, 2)
	pdrv := ready(t, d, 1)

	if n, res := d.SectorCount(pdrv); res != OK || n != 2048 {
		t.Errorf("SectorCount() = %d, %v", n, res)
	}
	if n, res := d.SectorSize(pdrv); res != OK || n != 512 {
		t.Errorf("SectorSize() = %d, %v", n, res)
	}
	if n, res := d.BlockSize(pdrv); res != OK || n != 1 {
		t.Errorf("BlockSize() = %d, %v", n, res)
	}

	if _, res := d.SectorCount(1); res != Error {
		t.Errorf("SectorCount() on unready drive = %v, want error", res)
	}
	if _, res := d.SectorSize(7); res != ParameterError {
		t.Errorf("SectorSize() out of range = %v", res)
	}
}

// ===== Drive adapter =====

func TestDrive_ReadModifyWrite(t *testing.T) {
	ft := newFakeTransport()
	dev := ft.addDevice(1, 8)
	for i := range dev.data {
		dev.data[i] = byte(i)
	}
	d := New(ft, 1)
	drive := d.Drive(ready(t, d, 1))

	// Straddle the boundary between sectors 0 and 1
	patch := bytes.Repeat([]byte{0xEE}, 100)
	if n, err := drive.WriteAt(patch, 500); err != nil || n != 100 {
		t.Fatalf("WriteAt() = %d, %v", n, err)
	}

	for i, b := range dev.data[:1024] {
		want := byte(i)
		if i >= 500 && i < 600 {
			want = 0xEE
		}
		if b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}

	got := make([]byte, 120)
	if n, err := drive.ReadAt(got, 490); err != nil || n != 120 {
		t.Fatalf("ReadAt() = %d, %v", n, err)
	}
	if got[9] != byte(499&0xFF) || got[10] != 0xEE || got[109] != 0xEE || got[110] != byte(600&0xFF) {
		t.Errorf("ReadAt() = % x", got)
	}
}

func TestDrive_AlignedAndBounds(t *testing.T) {
	ft := newFakeTransport()
	ft.addDevice(1, 4)
	d := New(ft, 1)
	drive := d.Drive(ready(t, d, 1))

	if drive.Size() != 2048 || drive.SectorSize() != 512 {
		t.Errorf("Size()=%d SectorSize()=%d", drive.Size(), drive.SectorSize())
	}
	if end, err := drive.Seek(0, io.SeekEnd); err != nil || end != 2048 {
		t.Errorf("Seek(0, End) = %d, %v", end, err)
	}
	if _, err := drive.Seek(-1, io.SeekStart); !errors.Is(err, ErrParameter) {
		t.Errorf("Seek(-1) error = %v", err)
	}

	block := bytes.Repeat([]byte{7}, 1024)
	if n, err := drive.WriteAt(block, 1024); err != nil || n != 1024 {
		t.Fatalf("WriteAt() aligned = %d, %v", n, err)
	}

	buf := make([]byte, 100)
	if n, err := drive.ReadAt(buf, 2000); err != io.EOF || n != 48 {
		t.Errorf("ReadAt() past end = %d, %v; want 48, EOF", n, err)
	}
	if _, err := drive.ReadAt(buf, 4096); err != io.EOF {
		t.Errorf("ReadAt() beyond end error = %v, want EOF", err)
	}
	if err := drive.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}

func TestDrive_NotReady(t *testing.T) {
	d := New(newFakeTransport(), 1)
	drive := d.Drive(0).WithContext(context.Background())

	if _, err := drive.ReadAt(make([]byte, 10), 0); !IsNotReady(err) {
		t.Errorf("ReadAt() error = %v, want not ready", err)
	}
	if drive.Number() != 0 {
		t.Errorf("Number() = %d", drive.Number())
	}
	if _, err := drive.Stat(); !IsNotReady(err) {
		t.Errorf("Stat() error = %v, want not ready", err)
	}
}

func TestDrive_File(t *testing.T) {
	ft := newFakeTransport()
	dev := ft.addDevice(1, 4)
	for i := range dev.data {
		dev.data[i] = byte(i / 512)
	}
	d := New(ft, 1)
	drive := d.Drive(ready(t, d, 1))

	info, err := drive.Stat()
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Name() != "0:" || info.Size() != 2048 || info.IsDir() {
		t.Errorf("Stat() = %q size %d dir %v", info.Name(), info.Size(), info.IsDir())
	}

	if _, err := drive.Seek(1000, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	buf := make([]byte, 100)
	for _, want := range []byte{2, 3} {
		if n, err := drive.Read(buf); err != nil || n != 100 {
			t.Fatalf("Read() = %d, %v", n, err)
		}
		if buf[99] != want {
			t.Errorf("Read() last byte = %d, want %d", buf[99], want)
		}
		if _, err := drive.Seek(436, io.SeekCurrent); err != nil {
			t.Fatalf("Seek() error = %v", err)
		}
	}
	if pos, _ := drive.Seek(0, io.SeekCurrent); pos != 2072 {
		t.Errorf("position = %d, want 2072", pos)
	}
	if _, err := drive.Read(buf); err != io.EOF {
		t.Errorf("Read() past end error = %v, want EOF", err)
	}
	if err := drive.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
