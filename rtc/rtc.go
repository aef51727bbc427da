package rtc

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ardnew/mscfs/pkg"
)

// Validation errors. The clock is left untouched when they are returned.
var (
	ErrInvalidDate = errors.New("rtc: invalid date")
	ErrInvalidTime = errors.New("rtc: invalid time")
)

// BuildStamp is the build date and time in "Jan 02 2006 15:04:05" form,
// set with -ldflags "-X github.com/ardnew/mscfs/rtc.BuildStamp=...".
var BuildStamp string

// BuildStampLayout is the layout of BuildStamp.
const BuildStampLayout = "Jan 02 2006 15:04:05"

// fallbackTime seeds the clock when no build time is known.
var fallbackTime = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateTime is a broken-down wall clock reading.
type DateTime struct {
	Year      uint16
	Month     uint8 // 1-12
	Day       uint8 // 1-31
	DayOfWeek uint8 // 0 = Sunday
	Hour      uint8 // 0-23
	Minute    uint8 // 0-59
	Second    uint8 // 0-59
}

// FromTime converts t to a DateTime.
func FromTime(t time.Time) DateTime {
	return DateTime{
		Year:      uint16(t.Year()),
		Month:     uint8(t.Month()),
		Day:       uint8(t.Day()),
		DayOfWeek: uint8(t.Weekday()),
		Hour:      uint8(t.Hour()),
		Minute:    uint8(t.Minute()),
		Second:    uint8(t.Second()),
	}
}

// Time converts dt to a time.Time in UTC.
func (dt DateTime) Time() time.Time {
	return time.Date(int(dt.Year), time.Month(dt.Month), int(dt.Day),
		int(dt.Hour), int(dt.Minute), int(dt.Second), 0, time.UTC)
}

// String formats dt as "MM/DD/YYYY HH:MM:SS".
func (dt DateTime) String() string {
	return fmt.Sprintf("%02d/%02d/%04d %02d:%02d:%02d",
		dt.Month, dt.Day, dt.Year, dt.Hour, dt.Minute, dt.Second)
}

// Peripheral is a running hardware clock.
type Peripheral interface {
	DateTime() DateTime
	SetDateTime(DateTime)
}

// SoftPeripheral is a Peripheral that keeps time as an offset from the
// host's monotonic clock.
type SoftPeripheral struct {
	mu    sync.Mutex
	base  time.Time
	setAt time.Time
	now   func() time.Time
}

// NewSoftPeripheral creates a clock reading fallbackTime until set.
func NewSoftPeripheral() *SoftPeripheral {
	return &SoftPeripheral{
		base:  fallbackTime,
		setAt: time.Now(),
		now:   time.Now,
	}
}

// DateTime returns the current reading.
func (p *SoftPeripheral) DateTime() DateTime {
	p.mu.Lock()
	defer p.mu.Unlock()
	return FromTime(p.base.Add(p.now().Sub(p.setAt)))
}

// SetDateTime sets the clock. The day of week is ignored and recomputed.
func (p *SoftPeripheral) SetDateTime(dt DateTime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = dt.Time()
	p.setAt = p.now()
}

// Clock validates and applies date and time changes to a Peripheral and
// produces FAT timestamps.
type Clock struct {
	mu sync.Mutex
	p  Peripheral
}

// New creates a clock over p, or over a SoftPeripheral if p is nil, and
// starts it at the build time.
func New(p Peripheral) *Clock {
	if p == nil {
		p = NewSoftPeripheral()
	}
	start := DefaultTime()
	p.SetDateTime(FromTime(start))
	pkg.LogDebug(pkg.ComponentRTC, "clock started", "time", start.Format(time.DateTime))
	return &Clock{p: p}
}

// DefaultTime returns the build time from BuildStamp, else the VCS commit
// time of the binary, else 2022-01-01.
func DefaultTime() time.Time {
	if BuildStamp != "" {
		if t, err := time.Parse(BuildStampLayout, BuildStamp); err == nil {
			return t
		}
		pkg.LogWarn(pkg.ComponentRTC, "invalid build stamp", "stamp", BuildStamp)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key != "vcs.time" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				return t.UTC()
			}
		}
	}
	return fallbackTime
}

// SetDate sets the date and keeps the time of day. The year must be at
// most 9999 and the day must exist in the month.
func (c *Clock) SetDate(year uint16, month, day uint8) error {
	if year > 9999 || month < 1 || month > 12 || day < 1 || day > DaysInMonth(year, month) {
		return fmt.Errorf("%04d-%02d-%02d: %w", year, month, day, ErrInvalidDate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dt := c.p.DateTime()
	dt.Year, dt.Month, dt.Day = year, month, day
	dt.DayOfWeek = DayOfWeek(year, month, day)
	c.p.SetDateTime(dt)

	pkg.LogDebug(pkg.ComponentRTC, "date set", "date", dt.String())
	return nil
}

// SetTime sets the time of day and keeps the date.
func (c *Clock) SetTime(hour, minute, second uint8) error {
	if hour > 23 || minute > 59 || second > 59 {
		return fmt.Errorf("%02d:%02d:%02d: %w", hour, minute, second, ErrInvalidTime)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dt := c.p.DateTime()
	dt.Hour, dt.Minute, dt.Second = hour, minute, second
	c.p.SetDateTime(dt)

	pkg.LogDebug(pkg.ComponentRTC, "time set", "time", dt.String())
	return nil
}

// Date returns the year, month, day and day of week.
func (c *Clock) Date() (year uint16, month, day, dow uint8) {
	dt := c.Now()
	return dt.Year, dt.Month, dt.Day, dt.DayOfWeek
}

// Time returns the hour, minute and second.
func (c *Clock) Time() (hour, minute, second uint8) {
	dt := c.Now()
	return dt.Hour, dt.Minute, dt.Second
}

// Now returns the current reading.
func (c *Clock) Now() DateTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p.DateTime()
}

// FATTime returns the current reading packed as a FAT timestamp.
func (c *Clock) FATTime() uint32 {
	return PackFAT(c.Now())
}
