package ratelimit

import (
	"strconv"
	"time"
)

// Info carries the per-timeframe numbers emitted as X-RateLimit-*
// response headers. The pipeline writes them after the admission check
// so they appear on both success and rejection responses.
type Info struct {
	MinuteLimit     int
	MinuteRemaining int
	MinuteReset     time.Time
	HourLimit       int
	HourRemaining   int
	HourReset       time.Time
}

// InfoFromDecision flattens a Decision into header info.
func InfoFromDecision(d Decision) *Info {
	info := &Info{}
	if w, ok := d.Windows[PerMinute]; ok {
		info.MinuteLimit = w.Limit
		info.MinuteRemaining = w.Remaining
		info.MinuteReset = w.Reset
	}
	if w, ok := d.Windows[PerHour]; ok {
		info.HourLimit = w.Limit
		info.HourRemaining = w.Remaining
		info.HourReset = w.Reset
	}
	return info
}

// Headers renders the standard header map for this info.
func (i *Info) Headers() map[string]string {
	h := make(map[string]string, 6)
	if i.MinuteLimit > 0 {
		h["X-RateLimit-Limit-Minute"] = strconv.Itoa(i.MinuteLimit)
		h["X-RateLimit-Remaining-Minute"] = strconv.Itoa(i.MinuteRemaining)
		h["X-RateLimit-Reset-Minute"] = strconv.FormatInt(i.MinuteReset.Unix(), 10)
	}
	if i.HourLimit > 0 {
		h["X-RateLimit-Limit-Hour"] = strconv.Itoa(i.HourLimit)
		h["X-RateLimit-Remaining-Hour"] = strconv.Itoa(i.HourRemaining)
		h["X-RateLimit-Reset-Hour"] = strconv.FormatInt(i.HourReset.Unix(), 10)
	}
	return h
}
