package utils

import (
	"strings"
	"time"

	"market-stream/src/logger"

	"github.com/scmhub/calendar"
)

// maxGapProbes bounds how many buckets ExpectedGap inspects.
const maxGapProbes = 4096

// -----------------------------------------------------------------------------

// SessionCalendar answers "was the venue open" for exchanges that trade in
// sessions. Crypto venues have none and use a nil *SessionCalendar, which
// reports always open.
type SessionCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// NewSessionCalendar loads the scmhub calendar for a market identifier code
// (ISO 10383, e.g. "xnys"). Unknown codes fall back to Mon-Fri 09:30-16:00
// New York time.
func NewSessionCalendar(mic string) *SessionCalendar {
	mic = strings.ToLower(mic)
	if cal := calendar.GetCalendar(mic); cal != nil {
		return &SessionCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
	}

	logger.NewLogger(nil, "SessionCalendar").Warning("No calendar for MIC '%s', using Mon-Fri 09:30-16:00 New York", mic)
	nyLoc, err := time.LoadLocation("America/New_York")
	if err != nil {
		nyLoc = time.UTC
	}
	return &SessionCalendar{MIC: mic, Fallback: true, Timezone: nyLoc}
}

// -----------------------------------------------------------------------------

func (sc *SessionCalendar) IsTradingDay(date time.Time) bool {
	if sc == nil {
		return true
	}
	date = date.In(sc.Timezone)
	if sc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return sc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpen checks if the market is open at t.
func (sc *SessionCalendar) IsOpen(t time.Time) bool {
	if sc == nil {
		return true
	}
	t = t.In(sc.Timezone)
	if !sc.Fallback {
		return sc.Calendar.IsOpen(t)
	}
	if !sc.IsTradingDay(t) {
		return false
	}
	hour, minute := t.Hour(), t.Minute()
	return (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16
}

// -----------------------------------------------------------------------------

// ExpectedGap reports whether the venue was closed for every bucket strictly
// between lastMs and nextMs, so that a jump between them is not missing data.
func (sc *SessionCalendar) ExpectedGap(lastMs, nextMs, tfMs int64) bool {
	if sc == nil || tfMs <= 0 {
		return false
	}
	missing := (nextMs-lastMs)/tfMs - 1
	if missing <= 0 {
		return true
	}
	stride := int64(1)
	if missing > maxGapProbes {
		stride = missing/maxGapProbes + 1
	}
	for i := int64(1); i <= missing; i += stride {
		if sc.IsOpen(time.UnixMilli(lastMs + i*tfMs)) {
			return false
		}
	}
	return true
}
