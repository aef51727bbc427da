package msc

import (
	"encoding/binary"
	"strings"
)

// INQUIRY field values.
const (
	InquiryDeviceTypeDirectAccess = 0x00 // Direct access block device
	InquiryRMB                    = 0x80 // Removable medium bit
	InquiryVersionSPC4            = 0x06 // SPC-4
	InquiryResponseFormatSPC      = 0x02 // Standard response format
)

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType     uint8  // Peripheral device type (bits 0-4)
	Removable      bool   // Removable medium
	Version        uint8  // SCSI version
	ResponseFormat uint8  // Response data format
	Vendor         string // Vendor identification, trailing spaces trimmed
	Product        string // Product identification, trailing spaces trimmed
	Revision       string // Product revision, trailing spaces trimmed
}

// ParseInquiry decodes standard INQUIRY data.
// Returns false if data is shorter than the standard response.
func ParseInquiry(data []byte, out *InquiryResponse) bool {
	if len(data) < InquiryStandardSize {
		return false
	}

	out.DeviceType = data[0] & 0x1F
	out.Removable = data[1]&InquiryRMB != 0
	out.Version = data[2]
	out.ResponseFormat = data[3] & 0x0F
	out.Vendor = trimString(data[8:16])
	out.Product = trimString(data[16:32])
	out.Revision = trimString(data[32:36])

	return true
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType & 0x1F
	if r.Removable {
		buf[1] = InquiryRMB
	}
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], padString(r.Vendor, 8))
	copy(buf[16:32], padString(r.Product, 16))
	copy(buf[32:36], padString(r.Revision, 4))

	return InquiryStandardSize
}

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// BlockCount returns the number of addressable blocks.
func (r *ReadCapacity10Response) BlockCount() uint32 {
	return r.LastLBA + 1
}

// ParseReadCapacity10 decodes READ CAPACITY (10) data.
func ParseReadCapacity10(data []byte, out *ReadCapacity10Response) bool {
	if len(data) < ReadCapacity10Size {
		return false
	}

	out.LastLBA = binary.BigEndian.Uint32(data[0:4])
	out.BlockLength = binary.BigEndian.Uint32(data[4:8])

	return true
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < ReadCapacity10Size {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return ReadCapacity10Size
}

// SenseData represents REQUEST SENSE response (fixed format).
type SenseData struct {
	ResponseCode uint8  // Response code (0x70 = current, 0x71 = deferred)
	Key          uint8  // Sense key (bits 0-3)
	Information  uint32 // Information field
	ASC          uint8  // Additional sense code
	ASCQ         uint8  // Additional sense code qualifier
}

// NewSenseData creates fixed format sense data for current errors.
func NewSenseData(key, asc, ascq uint8) *SenseData {
	return &SenseData{
		ResponseCode: 0x70,
		Key:          key & 0x0F,
		ASC:          asc,
		ASCQ:         ascq,
	}
}

// ParseSenseData decodes fixed format sense data.
func ParseSenseData(data []byte, out *SenseData) bool {
	if len(data) < 14 {
		return false
	}

	out.ResponseCode = data[0] & 0x7F
	if out.ResponseCode != 0x70 && out.ResponseCode != 0x71 {
		return false
	}
	out.Key = data[2] & 0x0F
	out.Information = binary.BigEndian.Uint32(data[3:7])
	out.ASC = data[12]
	out.ASCQ = data[13]

	return true
}

// MarshalTo writes the sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SenseData) MarshalTo(buf []byte) int {
	if len(buf) < RequestSenseSize {
		return 0
	}

	clear(buf[:RequestSenseSize])
	buf[0] = s.ResponseCode
	buf[2] = s.Key & 0x0F
	binary.BigEndian.PutUint32(buf[3:7], s.Information)
	buf[7] = RequestSenseSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ

	return RequestSenseSize
}

// ModeSense6Header represents the MODE SENSE (6) parameter header.
type ModeSense6Header struct {
	ModeDataLength uint8 // Mode data length (excluding this field)
	MediumType     uint8 // Medium type
	DeviceParam    uint8 // Device-specific parameter
	BlockDescLen   uint8 // Block descriptor length
}

// WriteProtected reports whether the medium is write protected.
func (h *ModeSense6Header) WriteProtected() bool {
	return h.DeviceParam&ModeSenseWriteProtect != 0
}

// ParseModeSense6 decodes the MODE SENSE (6) parameter header.
func ParseModeSense6(data []byte, out *ModeSense6Header) bool {
	if len(data) < ModeSense6Size {
		return false
	}

	out.ModeDataLength = data[0]
	out.MediumType = data[1]
	out.DeviceParam = data[2]
	out.BlockDescLen = data[3]

	return true
}

// MarshalTo writes the header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *ModeSense6Header) MarshalTo(buf []byte) int {
	if len(buf) < ModeSense6Size {
		return 0
	}

	buf[0] = h.ModeDataLength
	buf[1] = h.MediumType
	buf[2] = h.DeviceParam
	buf[3] = h.BlockDescLen

	return ModeSense6Size
}

// ===== Command descriptor blocks =====

// TestUnitReadyCDB returns a TEST UNIT READY command block.
func TestUnitReadyCDB() []byte {
	return make6(SCSITestUnitReady, 0)
}

// RequestSenseCDB returns a REQUEST SENSE command block.
func RequestSenseCDB(alloc uint8) []byte {
	return make6(SCSIRequestSense, alloc)
}

// InquiryCDB returns a standard INQUIRY command block.
func InquiryCDB(alloc uint8) []byte {
	return make6(SCSIInquiry, alloc)
}

// ModeSense6CDB returns a MODE SENSE (6) command block requesting all pages.
func ModeSense6CDB(alloc uint8) []byte {
	cdb := make6(SCSIModeSense6, alloc)
	cdb[2] = 0x3F
	return cdb
}

// ReadCapacity10CDB returns a READ CAPACITY (10) command block.
func ReadCapacity10CDB() []byte {
	return make10(SCSIReadCapacity10, 0, 0)
}

// Read10CDB returns a READ (10) command block.
func Read10CDB(lba uint32, blocks uint16) []byte {
	return make10(SCSIRead10, lba, blocks)
}

// Write10CDB returns a WRITE (10) command block.
func Write10CDB(lba uint32, blocks uint16) []byte {
	return make10(SCSIWrite10, lba, blocks)
}

// SynchronizeCache10CDB returns a SYNCHRONIZE CACHE (10) command block
// covering the whole medium.
func SynchronizeCache10CDB() []byte {
	return make10(SCSISynchronizeCache10, 0, 0)
}

// ParseRW10 extracts the LBA and transfer length of a READ (10), WRITE (10)
// or SYNCHRONIZE CACHE (10) command block.
func ParseRW10(cb []byte) (lba uint32, blocks uint16) {
	if len(cb) < 10 {
		return 0, 0
	}
	return binary.BigEndian.Uint32(cb[2:6]), binary.BigEndian.Uint16(cb[7:9])
}

func make6(op, alloc uint8) []byte {
	cdb := make([]byte, 6)
	cdb[0] = op
	cdb[4] = alloc
	return cdb
}

func make10(op uint8, lba uint32, blocks uint16) []byte {
	cdb := make([]byte, 10)
	cdb[0] = op
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)
	return cdb
}

// padString pads or truncates s to exactly n bytes with trailing spaces.
func padString(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func trimString(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
