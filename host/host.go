package host

import (
	"context"
	"sync"

	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// DefaultQueueDepth is the number of requests each device may have queued
// in the scheduler.
const DefaultQueueDepth = 4

// Host manages the USB host controller and connected devices.
type Host struct {
	hal   hal.HostHAL
	sched *Scheduler

	// Connected devices (indexed by address - 1)
	devices     [MaxDevices]*Device
	deviceCount int

	// Devices by root hub port, and ports still enumerating. A port whose
	// entry in enumerating flips to false was disconnected mid-enumeration.
	ports       map[int]*Device
	enumerating map[int]bool

	// Next available address
	nextAddress uint8

	// State
	running bool
	mutex   sync.RWMutex
	wg      sync.WaitGroup

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Event channels
	deviceConnected    chan *Device
	deviceDisconnected chan *Device

	// Callbacks
	onDeviceConnect    func(*Device)
	onDeviceDisconnect func(*Device)
}

// New creates a new USB host.
func New(h hal.HostHAL) *Host {
	return &Host{
		hal:                h,
		sched:              NewScheduler(h, DefaultQueueDepth),
		ports:              make(map[int]*Device),
		enumerating:        make(map[int]bool),
		nextAddress:        1,
		ctx:                context.Background(),
		deviceConnected:    make(chan *Device, MaxDevices),
		deviceDisconnected: make(chan *Device, MaxDevices),
	}
}

// Start starts the host controller, the request scheduler and the
// connection monitors.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	if h.running {
		h.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mutex.Unlock()

	if err := h.hal.Init(h.ctx); err != nil {
		return err
	}

	if err := h.hal.Start(); err != nil {
		return err
	}

	if err := h.sched.Start(h.ctx); err != nil {
		return err
	}

	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "host started", "ports", h.hal.NumPorts())

	h.wg.Add(2)
	go h.monitorDevices()
	go h.monitorDisconnections()

	return nil
}

// Stop stops the host controller. Every attached device is detached and
// the disconnect callback runs for each before Stop returns.
func (h *Host) Stop() error {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil
	}

	h.running = false
	if h.cancel != nil {
		h.cancel()
	}
	h.mutex.Unlock()

	h.wg.Wait()

	for _, dev := range h.Devices() {
		h.removeDevice(dev)
	}

	if err := h.sched.Stop(); err != nil {
		return err
	}

	if err := h.hal.Stop(); err != nil {
		return err
	}

	pkg.LogInfo(pkg.ComponentHost, "host stopped")
	return nil
}

// IsRunning returns true if the host is running.
func (h *Host) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// Context returns the context of the running host. It is cancelled by Stop.
func (h *Host) Context() context.Context {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.ctx
}

// Scheduler returns the request scheduler that runs transfers on the USB
// processing context.
func (h *Host) Scheduler() *Scheduler {
	return h.sched
}

// Devices returns all connected devices.
func (h *Host) Devices() []*Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	result := make([]*Device, 0, h.deviceCount)
	for i := 0; i < MaxDevices; i++ {
		if h.devices[i] != nil {
			result = append(result, h.devices[i])
		}
	}
	return result
}

// GetDevice returns the device at the given address.
func (h *Host) GetDevice(address uint8) *Device {
	if address == 0 || address > MaxDevices {
		return nil
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.devices[address-1]
}

// WaitDevice blocks until a device connects and is enumerated.
func (h *Host) WaitDevice(ctx context.Context) (*Device, error) {
	h.mutex.RLock()
	hctx := h.ctx
	h.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-hctx.Done():
		return nil, pkg.ErrCancelled
	case dev := <-h.deviceConnected:
		return dev, nil
	}
}

// SetOnDeviceConnect sets the callback for device connection. It runs on
// the connection monitor goroutine after enumeration completes.
func (h *Host) SetOnDeviceConnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceConnect = cb
}

// SetOnDeviceDisconnect sets the callback for device disconnection. It runs
// after the device's pending requests have been cancelled.
func (h *Host) SetOnDeviceDisconnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceDisconnect = cb
}

// monitorDevices waits for connections and enumerates each new device.
func (h *Host) monitorDevices() {
	defer h.wg.Done()

	for {
		port, err := h.hal.WaitForConnection(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentHost, "error waiting for connection",
				"error", err)
			continue
		}

		pkg.LogInfo(pkg.ComponentHost, "device connected", "port", port)

		h.mutex.Lock()
		h.enumerating[port] = true
		h.mutex.Unlock()

		dev, err := h.enumerateDevice(port)

		h.mutex.Lock()
		present := h.enumerating[port]
		delete(h.enumerating, port)
		if err != nil || !present {
			h.mutex.Unlock()
			if err != nil {
				pkg.LogWarn(pkg.ComponentHost, "enumeration failed",
					"port", port,
					"error", err)
			} else {
				pkg.LogInfo(pkg.ComponentHost, "device left during enumeration",
					"port", port)
			}
			continue
		}

		h.devices[dev.address-1] = dev
		h.ports[port] = dev
		h.deviceCount++
		cb := h.onDeviceConnect
		h.mutex.Unlock()

		pkg.LogInfo(pkg.ComponentHost, "device enumerated",
			"address", dev.address,
			"vendor", dev.descriptor.VendorID,
			"product", dev.descriptor.ProductID)

		select {
		case h.deviceConnected <- dev:
		default:
		}

		if cb != nil {
			cb(dev)
		}
	}
}

// monitorDisconnections removes the device attached to each port that
// reports a disconnection.
func (h *Host) monitorDisconnections() {
	defer h.wg.Done()

	for {
		port, err := h.hal.WaitForDisconnection(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentHost, "error waiting for disconnection",
				"error", err)
			continue
		}

		h.mutex.Lock()
		dev := h.ports[port]
		if dev == nil {
			if _, ok := h.enumerating[port]; ok {
				h.enumerating[port] = false
			}
			h.mutex.Unlock()
			pkg.LogDebug(pkg.ComponentHost, "disconnect on idle port", "port", port)
			continue
		}
		h.mutex.Unlock()

		pkg.LogInfo(pkg.ComponentHost, "device disconnected",
			"port", port,
			"address", dev.address)

		h.removeDevice(dev)
	}
}

// removeDevice detaches dev, cancels its queued requests and notifies.
func (h *Host) removeDevice(dev *Device) {
	h.mutex.Lock()
	if dev.address == 0 || dev.address > MaxDevices || h.devices[dev.address-1] != dev {
		h.mutex.Unlock()
		return
	}
	h.devices[dev.address-1] = nil
	if h.ports[dev.port] == dev {
		delete(h.ports, dev.port)
	}
	h.deviceCount--
	cb := h.onDeviceDisconnect
	h.mutex.Unlock()

	h.sched.Release(dev.address)
	dev.Close()

	select {
	case h.deviceDisconnected <- dev:
	default:
	}

	if cb != nil {
		cb(dev)
	}
}

// allocateAddress allocates a new device address.
func (h *Host) allocateAddress() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i := 0; i < MaxDevices; i++ {
		addr := h.nextAddress
		h.nextAddress++
		if h.nextAddress > MaxDevices {
			h.nextAddress = 1
		}

		if h.devices[addr-1] == nil {
			return addr
		}
	}
	return 0
}

// NumPorts returns the number of root hub ports.
func (h *Host) NumPorts() int {
	return h.hal.NumPorts()
}

// GetPortStatus returns the status of a port.
func (h *Host) GetPortStatus(port int) (hal.PortStatus, error) {
	return h.hal.GetPortStatus(port)
}
