package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/mscfs/host/hal"
	"github.com/ardnew/mscfs/pkg"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNoAddress         = errors.New("no address available")
)

// enumerateDevice performs the USB enumeration sequence for a new device:
// reset, read bMaxPacketSize0 at address 0, assign an address, read the
// device and configuration descriptors, cache strings and select the first
// configuration.
func (h *Host) enumerateDevice(port int) (*Device, error) {
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration", "port", port)

	speed := h.hal.PortSpeed(port)

	if err := h.hal.ResetPort(port); err != nil {
		return nil, fmt.Errorf("reset port %d: %w", port, err)
	}

	dev := newDevice(h, port, 0, speed)

	var buf [MaxDescriptorSize]byte
	n, err := dev.GetDescriptor(h.ctx, DescriptorTypeDevice, 0, 0, buf[:8])
	if err != nil {
		return nil, fmt.Errorf("read max packet size: %w", err)
	}
	if n < 8 {
		return nil, ErrEnumerationFailed
	}

	maxPacketSize0 := buf[7]
	if maxPacketSize0 == 0 {
		maxPacketSize0 = 8
	}
	pkg.LogDebug(pkg.ComponentHost, "got max packet size", "size", maxPacketSize0)

	address := h.allocateAddress()
	if address == 0 {
		return nil, ErrNoAddress
	}

	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetAddress,
		Value:       uint16(address),
	}
	if _, err := h.hal.ControlTransfer(h.ctx, hal.DeviceAddress(0), &setup, nil); err != nil {
		return nil, fmt.Errorf("set address %d: %w", address, err)
	}

	pkg.LogDebug(pkg.ComponentHost, "assigned address", "address", address)

	dev.address = address
	dev.state = DeviceStateAddress

	n, err = dev.GetDescriptor(h.ctx, DescriptorTypeDevice, 0, 0, buf[:DeviceDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("read device descriptor: %w", err)
	}
	if !ParseDeviceDescriptor(buf[:n], &dev.descriptor) {
		return nil, ErrEnumerationFailed
	}

	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"class", dev.descriptor.DeviceClass)

	// Header first for wTotalLength, then the whole tree
	n, err = dev.GetDescriptor(h.ctx, DescriptorTypeConfiguration, 0, 0, buf[:ConfigurationDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("read configuration header: %w", err)
	}
	if n < ConfigurationDescriptorSize {
		return nil, ErrEnumerationFailed
	}

	totalLength := int(binary.LittleEndian.Uint16(buf[2:]))
	if totalLength > len(buf) {
		totalLength = len(buf)
	}

	n, err = dev.GetDescriptor(h.ctx, DescriptorTypeConfiguration, 0, 0, buf[:totalLength])
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	dev.parseConfigurationTree(buf[:n])

	pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
		"numInterfaces", dev.config.NumInterfaces,
		"configValue", dev.config.ConfigurationValue)

	h.readStringDescriptors(dev, buf[:])

	if dev.config.ConfigurationValue > 0 {
		if err := dev.SetConfiguration(h.ctx, dev.config.ConfigurationValue); err != nil {
			return nil, fmt.Errorf("set configuration: %w", err)
		}
	}

	return dev, nil
}

// readStringDescriptors caches the manufacturer, product and serial number
// strings. Failures are logged and otherwise ignored.
func (h *Host) readStringDescriptors(dev *Device, buf []byte) {
	for _, index := range []uint8{
		dev.descriptor.ManufacturerIndex,
		dev.descriptor.ProductIndex,
		dev.descriptor.SerialNumberIndex,
	} {
		if index == 0 || int(index) >= len(dev.strings) {
			continue
		}

		n, err := dev.GetDescriptor(h.ctx, DescriptorTypeString, index, LangIDUSEnglish, buf)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed",
				"index", index, "error", err)
			continue
		}

		dev.strings[index] = decodeStringDescriptor(buf[:n])
	}
}

// decodeStringDescriptor converts a UTF-16LE string descriptor to a string.
func decodeStringDescriptor(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	length := int(data[0])
	if length > len(data) {
		length = len(data)
	}
	if length < 2 {
		return ""
	}

	units := make([]uint16, 0, (length-2)/2)
	for i := 2; i+1 < length; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units))
}
