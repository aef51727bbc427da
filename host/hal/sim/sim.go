package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// eventQueueSize bounds the number of undelivered port events.
const eventQueueSize = 32

// Controller is a simulated root hub implementing hal.HostHAL.
// Targets are plugged into ports with Attach and removed with Detach.
type Controller struct {
	ports       []*Target
	defaultPort int // port whose device answers at address 0, or -1

	initialized bool
	running     bool
	mutex       sync.Mutex

	connected    chan int
	disconnected chan int
}

var _ hal.HostHAL = (*Controller)(nil)

// New creates a controller with numPorts empty ports.
func New(numPorts int) *Controller {
	if numPorts < 1 {
		numPorts = 1
	}
	return &Controller{
		ports:        make([]*Target, numPorts),
		defaultPort:  -1,
		connected:    make(chan int, eventQueueSize),
		disconnected: make(chan int, eventQueueSize),
	}
}

// ===== Port management =====

// Attach plugs t into port and raises a connection event.
func (c *Controller) Attach(port int, t *Target) error {
	c.mutex.Lock()
	if port < 0 || port >= len(c.ports) {
		c.mutex.Unlock()
		return fmt.Errorf("port %d: %w", port, pkg.ErrInvalidParameter)
	}
	if c.ports[port] != nil {
		c.mutex.Unlock()
		return fmt.Errorf("port %d: %w", port, pkg.ErrBusy)
	}
	t.attach()
	c.ports[port] = t
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "sim attach", "port", port)
	c.post(c.connected, port)
	return nil
}

// Detach unplugs the target on port and raises a disconnection event.
// Transfers in flight to the target fail with pkg.ErrNoDevice.
func (c *Controller) Detach(port int) (*Target, error) {
	c.mutex.Lock()
	if port < 0 || port >= len(c.ports) {
		c.mutex.Unlock()
		return nil, fmt.Errorf("port %d: %w", port, pkg.ErrInvalidParameter)
	}
	t := c.ports[port]
	if t == nil {
		c.mutex.Unlock()
		return nil, fmt.Errorf("port %d: %w", port, pkg.ErrNoDevice)
	}
	c.ports[port] = nil
	if c.defaultPort == port {
		c.defaultPort = -1
	}
	c.mutex.Unlock()

	t.detach()
	pkg.LogDebug(pkg.ComponentHAL, "sim detach", "port", port)
	c.post(c.disconnected, port)
	return t, nil
}

// Target returns the target plugged into port, or nil.
func (c *Controller) Target(port int) *Target {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if port < 0 || port >= len(c.ports) {
		return nil
	}
	return c.ports[port]
}

func (c *Controller) post(ch chan int, port int) {
	select {
	case ch <- port:
	default:
		pkg.LogWarn(pkg.ComponentHAL, "sim port event dropped", "port", port)
	}
}

// route finds the target answering at addr.
func (c *Controller) route(addr hal.DeviceAddress) (*Target, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return nil, pkg.ErrNotRunning
	}
	if addr == 0 {
		if c.defaultPort < 0 {
			return nil, pkg.ErrNoDevice
		}
		return c.ports[c.defaultPort], nil
	}
	for _, t := range c.ports {
		if t != nil && t.Address() == uint8(addr) {
			return t, nil
		}
	}
	return nil, pkg.ErrNoDevice
}

// ===== hal.HostHAL =====

// Init prepares the controller.
func (c *Controller) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.initialized = true
	return nil
}

// Start begins servicing transfers.
func (c *Controller) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.initialized {
		return pkg.ErrInvalidState
	}
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	return nil
}

// Stop halts transfer servicing. Attached targets stay plugged in.
func (c *Controller) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.running {
		return pkg.ErrNotRunning
	}
	c.running = false
	return nil
}

// Close stops the controller if needed.
func (c *Controller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.running = false
	c.initialized = false
	return nil
}

// NumPorts returns the number of root hub ports.
func (c *Controller) NumPorts() int {
	return len(c.ports)
}

// GetPortStatus returns the status of a port.
func (c *Controller) GetPortStatus(port int) (hal.PortStatus, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if port < 0 || port >= len(c.ports) {
		return hal.PortStatus{}, pkg.ErrInvalidParameter
	}
	t := c.ports[port]
	if t == nil {
		return hal.PortStatus{PowerOn: true}, nil
	}
	return hal.PortStatus{
		Connected: true,
		Enabled:   true,
		PowerOn:   true,
		Speed:     t.speed,
	}, nil
}

// PortSpeed returns the speed of the device on port.
func (c *Controller) PortSpeed(port int) hal.Speed {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if port < 0 || port >= len(c.ports) || c.ports[port] == nil {
		return hal.SpeedUnknown
	}
	return c.ports[port].speed
}

// ResetPort resets the device on port, which then answers at address 0.
func (c *Controller) ResetPort(port int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if port < 0 || port >= len(c.ports) {
		return pkg.ErrInvalidParameter
	}
	t := c.ports[port]
	if t == nil {
		return pkg.ErrNoDevice
	}
	t.busReset()
	c.defaultPort = port
	return nil
}

// ControlTransfer performs a control transfer on endpoint 0.
func (c *Controller) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := c.route(addr)
	if err != nil {
		return 0, err
	}
	n, err := t.control(setup, data)
	if err == nil && addr == 0 && t.Address() != 0 {
		c.mutex.Lock()
		if c.defaultPort >= 0 && c.ports[c.defaultPort] == t {
			c.defaultPort = -1
		}
		c.mutex.Unlock()
	}
	return n, err
}

// BulkTransfer moves data on a bulk endpoint.
func (c *Controller) BulkTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t, err := c.route(addr)
	if err != nil {
		return 0, err
	}
	return t.bulk(ctx, endpoint, data)
}

// InterruptTransfer is not supported; targets have no interrupt endpoints.
func (c *Controller) InterruptTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	return 0, pkg.ErrNotSupported
}

// ClaimInterface succeeds for any addressed target.
func (c *Controller) ClaimInterface(addr hal.DeviceAddress, iface uint8) error {
	_, err := c.route(addr)
	return err
}

// ReleaseInterface succeeds for any addressed target.
func (c *Controller) ReleaseInterface(addr hal.DeviceAddress, iface uint8) error {
	_, err := c.route(addr)
	return err
}

// WaitForConnection blocks until a target is attached.
func (c *Controller) WaitForConnection(ctx context.Context) (int, error) {
	select {
	case port := <-c.connected:
		return port, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// WaitForDisconnection blocks until a target is detached.
func (c *Controller) WaitForDisconnection(ctx context.Context) (int, error) {
	select {
	case port := <-c.disconnected:
		return port, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
