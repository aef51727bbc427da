package rtc

// FATTimeInvalid is returned by PackFAT for years FAT cannot represent.
const FATTimeInvalid = 0xFFFFFFFF

// FAT timestamps count years from 1980 in seven bits.
const (
	fatEpochYear = 1980
	fatMaxYear   = fatEpochYear + 126
)

// PackFAT packs dt into a 32-bit FAT timestamp: bits 31-25 year-1980,
// 24-21 month, 20-16 day, 15-11 hour, 10-5 minute, 4-0 second/2.
// Years outside 1980..2106 yield FATTimeInvalid.
func PackFAT(dt DateTime) uint32 {
	if dt.Year < fatEpochYear || dt.Year > fatMaxYear {
		return FATTimeInvalid
	}
	return uint32(dt.Year-fatEpochYear)<<25 |
		uint32(dt.Month&0x0F)<<21 |
		uint32(dt.Day&0x1F)<<16 |
		uint32(dt.Hour&0x1F)<<11 |
		uint32(dt.Minute&0x3F)<<5 |
		uint32(dt.Second/2)&0x1F
}

// UnpackFAT expands a FAT timestamp. The day of week is computed.
func UnpackFAT(v uint32) DateTime {
	dt := DateTime{
		Year:   uint16(v>>25) + fatEpochYear,
		Month:  uint8(v>>21) & 0x0F,
		Day:    uint8(v>>16) & 0x1F,
		Hour:   uint8(v>>11) & 0x1F,
		Minute: uint8(v>>5) & 0x3F,
		Second: uint8(v&0x1F) * 2,
	}
	if dt.Month >= 1 && dt.Month <= 12 && dt.Day >= 1 {
		dt.DayOfWeek = DayOfWeek(dt.Year, dt.Month, dt.Day)
	}
	return dt
}

// FATDate returns the date half of a FAT timestamp.
func FATDate(v uint32) uint16 {
	return uint16(v >> 16)
}

// FATTimeOfDay returns the time half of a FAT timestamp.
func FATTimeOfDay(v uint32) uint16 {
	return uint16(v)
}
