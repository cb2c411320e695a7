// Package markethours knows the NSE session clock. The trading day used
// for the daily reset and snapshot restore is anchored to IST midnight.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// DateString returns the IST calendar date of t, the idempotency token the
// daily reset scheduler compares.
func DateString(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// Midnight returns the most recent IST midnight at or before t.
func Midnight(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST)
}

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// StatusString returns a human-readable market status for the health readout.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "open"
	}
	ist := t.In(IST)
	return fmt.Sprintf("closed (%s %s IST)", ist.Weekday().String()[:3], ist.Format("15:04"))
}
