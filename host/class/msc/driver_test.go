package msc_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/mscfs/host"
	"github.com/ardnew/mscfs/host/class/msc"
	"github.com/ardnew/mscfs/host/hal/sim"
	"github.com/ardnew/mscfs/pkg"
)

const waitTimeout = 2 * time.Second

// ===== Helpers =====

type fixture struct {
	ctrl      *sim.Controller
	host      *host.Host
	driver    *msc.Driver
	mounted   chan *msc.Device
	unmounted chan *msc.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctrl:      sim.New(2),
		mounted:   make(chan *msc.Device, 4),
		unmounted: make(chan *msc.Device, 4),
	}
	f.host = host.New(f.ctrl)
	f.driver = msc.New(f.host)
	f.driver.SetOnMount(func(m *msc.Device) { f.mounted <- m })
	f.driver.SetOnUnmount(func(m *msc.Device) { f.unmounted <- m })

	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { f.host.Stop() })
	return f
}

func (f *fixture) attach(t *testing.T, port int, target *sim.Target) *msc.Device {
	t.Helper()
	if err := f.ctrl.Attach(port, target); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	select {
	case m := <-f.mounted:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("device not mounted")
		return nil
	}
}

type result struct {
	cbw *msc.CommandBlockWrapper
	csw *msc.CommandStatusWrapper
	err error
}

func collector() (msc.CompleteFunc, chan result) {
	ch := make(chan result, 1)
	return func(addr uint8, cbw *msc.CommandBlockWrapper, csw *msc.CommandStatusWrapper, err error) {
		ch <- result{cbw, csw, err}
	}, ch
}

func wait(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("command did not complete")
		return result{}
	}
}

func newDisk(blocks int) (*sim.Target, *sim.MemoryStorage) {
	storage := sim.NewMemoryStorage(int64(blocks)*512, 512)
	return sim.NewTarget(storage), storage
}

// ===== Mount Tests =====

func TestDriver_MountUnmount(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(2048)
	target.SetInquiry("ACME", "Flash", "0.9")

	m := f.attach(t, 1, target)

	if inq := m.Inquiry(); inq.Vendor != "ACME" || inq.Product != "Flash" || inq.Revision != "0.9" {
		t.Errorf("Inquiry() = %+v", inq)
	}
	if m.BlockCount() != 2048 || m.BlockSize() != 512 || m.Capacity() != 2048*512 {
		t.Errorf("geometry = %d x %d", m.BlockCount(), m.BlockSize())
	}
	if m.MaxLUN() != 0 || m.WriteProtected() {
		t.Errorf("MaxLUN()=%d WriteProtected()=%v", m.MaxLUN(), m.WriteProtected())
	}
	if !f.driver.Mounted(m.Address()) || f.driver.BlockCount(m.Address(), 0) != 2048 {
		t.Error("driver does not report the device as mounted")
	}
	if m.USB().VendorID() != sim.DefaultVendorID {
		t.Errorf("VendorID() = %#x", m.USB().VendorID())
	}

	f.ctrl.Detach(1)
	select {
	case got := <-f.unmounted:
		if got != m {
			t.Error("unmount callback received a different device")
		}
	case <-time.After(waitTimeout):
		t.Fatal("device not unmounted")
	}
	if f.driver.Mounted(m.Address()) || f.driver.BlockSize(m.Address(), 0) != 0 {
		t.Error("device still mounted after detach")
	}
}

func TestDriver_MountWriteProtected(t *testing.T) {
	f := newFixture(t)
	target, storage := newDisk(64)
	storage.SetReadOnly(true)

	m := f.attach(t, 0, target)
	if !m.WriteProtected() || !f.driver.WriteProtected(m.Address(), 0) {
		t.Error("WriteProtected() = false for read-only medium")
	}
}

func TestDriver_TwoDevices(t *testing.T) {
	f := newFixture(t)
	a, _ := newDisk(64)
	b, _ := newDisk(128)

	ma := f.attach(t, 0, a)
	mb := f.attach(t, 1, b)

	if ma.Address() == mb.Address() {
		t.Fatalf("both devices at address %d", ma.Address())
	}
	if ma.BlockCount() != 64 || mb.BlockCount() != 128 {
		t.Errorf("block counts = %d, %d", ma.BlockCount(), mb.BlockCount())
	}
}

// ===== Command Tests =====

func TestDriver_WriteRead(t *testing.T) {
	f := newFixture(t)
	target, storage := newDisk(256)
	m := f.attach(t, 0, target)
	addr := m.Address()
	ctx := context.Background()

	payload := bytes.Repeat([]byte("mscfs!"), 1024)[:4*512]
	cb, ch := collector()
	if err := f.driver.Write10(ctx, addr, 0, payload, 100, 4, cb); err != nil {
		t.Fatalf("Write10() error = %v", err)
	}
	r := wait(t, ch)
	if r.err != nil || !r.csw.Passed() {
		t.Fatalf("write: err=%v status=%d", r.err, r.csw.Status)
	}
	if r.cbw.Opcode() != msc.SCSIWrite10 || r.cbw.DataTransferLength != 2048 {
		t.Errorf("write CBW = %+v", r.cbw)
	}

	raw := make([]byte, 2048)
	storage.ReadBlocks(100, raw)
	if !bytes.Equal(raw, payload) {
		t.Error("storage does not hold the written data")
	}

	got := make([]byte, 4096)
	cb, ch = collector()
	if err := f.driver.Read10(ctx, addr, 0, got, 100, 4, cb); err != nil {
		t.Fatalf("Read10() error = %v", err)
	}
	r = wait(t, ch)
	if r.err != nil || !r.csw.Passed() || r.csw.DataResidue != 0 {
		t.Fatalf("read: err=%v csw=%+v", r.err, r.csw)
	}
	if !bytes.Equal(got[:2048], payload) {
		t.Error("read data does not match written data")
	}

	cb, ch = collector()
	if err := f.driver.SynchronizeCache(ctx, addr, 0, cb); err != nil {
		t.Fatalf("SynchronizeCache() error = %v", err)
	}
	if r := wait(t, ch); r.err != nil || !r.csw.Passed() {
		t.Errorf("sync: err=%v", r.err)
	}
}

func TestDriver_QueryCommands(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(512)
	m := f.attach(t, 0, target)
	addr := m.Address()
	ctx := context.Background()
	buf := make([]byte, 64)

	t.Run("inquiry", func(t *testing.T) {
		cb, ch := collector()
		if err := f.driver.Inquiry(ctx, addr, 0, buf, cb); err != nil {
			t.Fatal(err)
		}
		var inq msc.InquiryResponse
		if r := wait(t, ch); r.err != nil || !msc.ParseInquiry(buf, &inq) || inq.Vendor != "mscfs" {
			t.Errorf("inquiry: err=%v inq=%+v", r.err, inq)
		}
	})

	t.Run("read capacity", func(t *testing.T) {
		cb, ch := collector()
		if err := f.driver.ReadCapacity(ctx, addr, 0, buf, cb); err != nil {
			t.Fatal(err)
		}
		var rc msc.ReadCapacity10Response
		if r := wait(t, ch); r.err != nil || !msc.ParseReadCapacity10(buf, &rc) || rc.BlockCount() != 512 {
			t.Errorf("read capacity: err=%v rc=%+v", r.err, rc)
		}
	})

	t.Run("test unit ready", func(t *testing.T) {
		cb, ch := collector()
		if err := f.driver.TestUnitReady(ctx, addr, 0, cb); err != nil {
			t.Fatal(err)
		}
		if r := wait(t, ch); r.err != nil || !r.csw.Passed() {
			t.Errorf("test unit ready: err=%v", r.err)
		}
	})

	t.Run("request sense after failure", func(t *testing.T) {
		cb, ch := collector()
		f.driver.Read10(ctx, addr, 0, make([]byte, 512), 512, 1, cb)
		if r := wait(t, ch); r.err != nil || r.csw.Status != msc.CSWStatusFailed {
			t.Fatalf("out of range read: err=%v status=%d", r.err, r.csw.Status)
		}

		cb, ch = collector()
		if err := f.driver.RequestSense(ctx, addr, 0, buf, cb); err != nil {
			t.Fatal(err)
		}
		var sense msc.SenseData
		if r := wait(t, ch); r.err != nil || !msc.ParseSenseData(buf, &sense) {
			t.Fatalf("request sense: err=%v", r.err)
		}
		if sense.Key != msc.SenseIllegalRequest || sense.ASC != msc.ASCLBAOutOfRange {
			t.Errorf("sense = %+v", sense)
		}
	})
}

func TestDriver_SubmitErrors(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)
	addr := m.Address()
	ctx := context.Background()
	buf := make([]byte, 1024)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown device", func() error { return f.driver.Read10(ctx, 99, 0, buf, 0, 1, nil) }, pkg.ErrNoDevice},
		{"zero blocks", func() error { return f.driver.Read10(ctx, addr, 0, buf, 0, 0, nil) }, pkg.ErrInvalidParameter},
		{"short buffer", func() error { return f.driver.Write10(ctx, addr, 0, buf, 0, 3, nil) }, pkg.ErrBufferTooSmall},
		{"bad lun", func() error { return f.driver.TestUnitReady(ctx, addr, 4, nil) }, pkg.ErrInvalidParameter},
		{"short sense buffer", func() error { return f.driver.RequestSense(ctx, addr, 0, buf[:4], nil) }, pkg.ErrBufferTooSmall},
		{"short inquiry buffer", func() error { return f.driver.Inquiry(ctx, addr, 0, buf[:8], nil) }, pkg.ErrBufferTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDriver_Busy(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)
	addr := m.Address()
	ctx := context.Background()

	target.Hold()
	cb, ch := collector()
	if err := f.driver.TestUnitReady(ctx, addr, 0, cb); err != nil {
		t.Fatalf("first submit error = %v", err)
	}
	if !m.Busy() {
		t.Error("Busy() = false with a command in flight")
	}
	if err := f.driver.TestUnitReady(ctx, addr, 0, nil); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second submit error = %v, want ErrBusy", err)
	}

	target.Release()
	if r := wait(t, ch); r.err != nil || !r.csw.Passed() {
		t.Errorf("held command: err=%v", r.err)
	}
	if m.Busy() {
		t.Error("Busy() = true after completion")
	}
}

func TestDriver_CommandFailed(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)

	target.FailNext(1)
	cb, ch := collector()
	f.driver.TestUnitReady(context.Background(), m.Address(), 0, cb)
	r := wait(t, ch)
	if r.err != nil {
		t.Errorf("err = %v, want nil for a failed status", r.err)
	}
	if !errors.Is(r.csw.Err(), pkg.ErrCommandFailed) {
		t.Errorf("csw.Err() = %v, want ErrCommandFailed", r.csw.Err())
	}
}

func TestDriver_PhaseErrorRecovery(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)
	ctx := context.Background()

	target.PhaseErrorNext()
	cb, ch := collector()
	f.driver.TestUnitReady(ctx, m.Address(), 0, cb)
	if r := wait(t, ch); !errors.Is(r.err, pkg.ErrPhaseError) {
		t.Fatalf("err = %v, want ErrPhaseError", r.err)
	}

	cb, ch = collector()
	f.driver.TestUnitReady(ctx, m.Address(), 0, cb)
	if r := wait(t, ch); r.err != nil || !r.csw.Passed() {
		t.Errorf("command after recovery: err=%v", r.err)
	}
}

func TestDriver_CancelRecovers(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)

	target.Hold()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cb, ch := collector()
	if err := f.driver.Read10(ctx, m.Address(), 0, make([]byte, 512), 0, 1, cb); err != nil {
		t.Fatalf("Read10() error = %v", err)
	}
	r := wait(t, ch)
	if r.err == nil || r.csw.Passed() {
		t.Fatalf("cancelled command: err=%v status=%d", r.err, r.csw.Status)
	}
	if r.csw.DataResidue != 512 {
		t.Errorf("synthesized residue = %d, want 512", r.csw.DataResidue)
	}

	target.Release()
	cb, ch = collector()
	f.driver.TestUnitReady(context.Background(), m.Address(), 0, cb)
	if r := wait(t, ch); r.err != nil || !r.csw.Passed() {
		t.Errorf("command after cancel: err=%v", r.err)
	}
}

func TestDriver_DetachDuringCommand(t *testing.T) {
	f := newFixture(t)
	target, _ := newDisk(64)
	m := f.attach(t, 0, target)

	target.Hold()
	cb, ch := collector()
	if err := f.driver.Read10(context.Background(), m.Address(), 0, make([]byte, 512), 0, 1, cb); err != nil {
		t.Fatalf("Read10() error = %v", err)
	}

	f.ctrl.Detach(0)
	if r := wait(t, ch); r.err == nil {
		t.Error("command on detached device succeeded")
	}
}
