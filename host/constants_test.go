package host

import (
	"testing"
)

// =============================================================================
// DeviceState Tests
// =============================================================================

func TestDeviceState_String(t *testing.T) {
	tests := []struct {
		state    DeviceState
		expected string
	}{
		{DeviceStateDetached, "Detached"},
		{DeviceState(1), "Unknown State (1)"},
		{DeviceStateDefault, "Default"},
		{DeviceStateAddress, "Address"},
		{DeviceStateConfigured, "Configured"},
		{DeviceState(255), "Unknown State (255)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("DeviceState.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Descriptor Parsing Tests
// =============================================================================

func TestParseDeviceDescriptor(t *testing.T) {
	data := []byte{
		18, 0x01, // Length, Type
		0x00, 0x02, // USB 2.0
		0x00, 0x00, 0x00, // Class defined per interface
		64,         // MaxPacketSize0
		0x81, 0x07, // VendorID
		0x81, 0x55, // ProductID
		0x00, 0x01, // DeviceVersion
		1, 2, 3, // String indices
		1, // NumConfigurations
	}

	var desc DeviceDescriptor
	if !ParseDeviceDescriptor(data, &desc) {
		t.Fatal("ParseDeviceDescriptor returned false")
	}

	want := DeviceDescriptor{
		Length:            18,
		DescriptorType:    0x01,
		USBVersion:        0x0200,
		MaxPacketSize0:    64,
		VendorID:          0x0781,
		ProductID:         0x5581,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	if desc != want {
		t.Errorf("ParseDeviceDescriptor() = %+v, want %+v", desc, want)
	}
}

func TestParseDescriptors_TooShort(t *testing.T) {
	tests := []struct {
		name  string
		parse func([]byte) bool
		size  int
	}{
		{"device", func(b []byte) bool { var d DeviceDescriptor; return ParseDeviceDescriptor(b, &d) }, DeviceDescriptorSize},
		{"configuration", func(b []byte) bool { var d ConfigurationDescriptor; return ParseConfigurationDescriptor(b, &d) }, ConfigurationDescriptorSize},
		{"interface", func(b []byte) bool { var d InterfaceDescriptor; return ParseInterfaceDescriptor(b, &d) }, InterfaceDescriptorSize},
		{"endpoint", func(b []byte) bool { var d EndpointDescriptor; return ParseEndpointDescriptor(b, &d) }, EndpointDescriptorSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.parse(make([]byte, tt.size-1)) {
				t.Errorf("parse of %d bytes succeeded, want failure", tt.size-1)
			}
			if !tt.parse(make([]byte, tt.size)) {
				t.Errorf("parse of %d bytes failed", tt.size)
			}
		})
	}
}

func TestParseConfigurationDescriptor(t *testing.T) {
	data := []byte{9, 0x02, 0x20, 0x00, 1, 1, 0, 0x80, 50}

	var desc ConfigurationDescriptor
	if !ParseConfigurationDescriptor(data, &desc) {
		t.Fatal("ParseConfigurationDescriptor returned false")
	}

	if desc.TotalLength != 32 {
		t.Errorf("TotalLength = %d, want 32", desc.TotalLength)
	}
	if desc.NumInterfaces != 1 {
		t.Errorf("NumInterfaces = %d, want 1", desc.NumInterfaces)
	}
	if desc.ConfigurationValue != 1 {
		t.Errorf("ConfigurationValue = %d, want 1", desc.ConfigurationValue)
	}
}

func TestParseInterfaceDescriptor(t *testing.T) {
	data := []byte{9, 0x04, 0, 0, 2, 0x08, 0x06, 0x50, 0}

	var desc InterfaceDescriptor
	if !ParseInterfaceDescriptor(data, &desc) {
		t.Fatal("ParseInterfaceDescriptor returned false")
	}

	if desc.NumEndpoints != 2 {
		t.Errorf("NumEndpoints = %d, want 2", desc.NumEndpoints)
	}
	if desc.InterfaceClass != 0x08 || desc.InterfaceSubClass != 0x06 || desc.InterfaceProtocol != 0x50 {
		t.Errorf("class triple = %02X/%02X/%02X, want 08/06/50",
			desc.InterfaceClass, desc.InterfaceSubClass, desc.InterfaceProtocol)
	}
}

func TestEndpointDescriptor_Methods(t *testing.T) {
	tests := []struct {
		name   string
		desc   EndpointDescriptor
		number uint8
		isIn   bool
		isBulk bool
		isIntr bool
	}{
		{
			name:   "BulkIN",
			desc:   EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeBulk},
			number: 1, isIn: true, isBulk: true,
		},
		{
			name:   "BulkOUT",
			desc:   EndpointDescriptor{EndpointAddress: 0x02, Attributes: EndpointTypeBulk},
			number: 2, isBulk: true,
		},
		{
			name:   "InterruptIN",
			desc:   EndpointDescriptor{EndpointAddress: 0x83, Attributes: EndpointTypeInterrupt},
			number: 3, isIn: true, isIntr: true,
		},
		{
			name:   "IsochronousIN",
			desc:   EndpointDescriptor{EndpointAddress: 0x84, Attributes: 0x01},
			number: 4, isIn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.Number(); got != tt.number {
				t.Errorf("Number() = %d, want %d", got, tt.number)
			}
			if got := tt.desc.IsIn(); got != tt.isIn {
				t.Errorf("IsIn() = %v, want %v", got, tt.isIn)
			}
			if got := tt.desc.IsBulk(); got != tt.isBulk {
				t.Errorf("IsBulk() = %v, want %v", got, tt.isBulk)
			}
			if got := tt.desc.IsInterrupt(); got != tt.isIntr {
				t.Errorf("IsInterrupt() = %v, want %v", got, tt.isIntr)
			}
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkParseConfigurationDescriptor(b *testing.B) {
	data := []byte{9, 0x02, 0x20, 0x00, 1, 1, 0, 0x80, 50}
	var desc ConfigurationDescriptor

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseConfigurationDescriptor(data, &desc)
	}
}
