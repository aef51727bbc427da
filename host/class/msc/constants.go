package msc

// USB Mass Storage Class codes.
const (
	ClassMSC = 0x08 // Mass Storage Class
)

// MSC Subclass codes.
const (
	SubclassSCSI = 0x06 // SCSI Transparent Command Set
)

// MSC Protocol codes.
const (
	ProtocolBulkOnly = 0x50 // Bulk-Only Transport (BOT)
)

// Bulk-Only Transport request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the MSC device
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes used by the driver.
const (
	SCSITestUnitReady      = 0x00
	SCSIRequestSense       = 0x03
	SCSIInquiry            = 0x12
	SCSIModeSense6         = 0x1A
	SCSIReadCapacity10     = 0x25
	SCSIRead10             = 0x28
	SCSIWrite10            = 0x2A
	SCSISynchronizeCache10 = 0x35
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseHardwareError  = 0x04
	SenseIllegalRequest = 0x05
	SenseUnitAttention  = 0x06
	SenseDataProtect    = 0x07
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo      = 0x00
	ASCInvalidCommand        = 0x20
	ASCLBAOutOfRange         = 0x21
	ASCInvalidFieldInCDB     = 0x24
	ASCWriteProtected        = 0x27
	ASCNotReadyToReadyChange = 0x28
	ASCMediumNotPresent      = 0x3A
)

// Response sizes.
const (
	InquiryStandardSize = 36 // Standard INQUIRY data length
	ReadCapacity10Size  = 8  // READ CAPACITY (10) data length
	RequestSenseSize    = 18 // Fixed format sense data length
	ModeSense6Size      = 4  // MODE SENSE (6) header length
)

// ModeSenseWriteProtect is the write protect bit of the device-specific
// parameter in a MODE SENSE header.
const ModeSenseWriteProtect = 0x80

// DefaultBlockSize is the logical block size of nearly every thumb drive.
const DefaultBlockSize = 512

// MaxLUN is the highest logical unit number a BOT device may report.
const MaxLUN = 15
