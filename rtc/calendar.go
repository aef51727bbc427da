package rtc

import "strings"

var monthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

var daysInMonth = [12]uint8{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year uint16) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the number of days in month of year, or 0 for an
// invalid month or a year past 9999.
func DaysInMonth(year uint16, month uint8) uint8 {
	if month < 1 || month > 12 || year > 9999 {
		return 0
	}
	if month == 2 && IsLeapYear(year) {
		return 29
	}
	return daysInMonth[month-1]
}

// DayOfWeek returns the day of week of a date, 0 = Sunday, using Keith and
// Craver's method.
func DayOfWeek(year uint16, month, day uint8) uint8 {
	y, m, d := int(year), int(month), int(day)
	if m < 3 {
		d += y
		y--
	} else {
		d += y - 2
	}
	return uint8((23*m/9 + d + 4 + y/4 - y/100 + y/400) % 7)
}

// MonthName returns the three letter English abbreviation of month, or ""
// for an invalid month.
func MonthName(month uint8) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// MonthNumber returns the month number (1-12) for a name whose first three
// letters match an abbreviation, ignoring case, or 0.
func MonthNumber(name string) uint8 {
	if len(name) < 3 {
		return 0
	}
	for i, m := range monthNames {
		if strings.EqualFold(name[:3], m) {
			return uint8(i + 1)
		}
	}
	return 0
}
