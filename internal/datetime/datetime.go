// Package datetime renders UTC epoch seconds as human-readable local time
// for prompt assembly, without ever letting local time leak into storage.
package datetime

import "time"

// Humanizer renders epoch-second timestamps using a fixed IANA zone.
type Humanizer struct {
	loc *time.Location
}

// NewHumanizer resolves the configured IANA zone, falling back to UTC if the
// zone name is invalid so a bad TIMEZONE value never crashes prompt assembly.
func NewHumanizer(zone string) *Humanizer {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	return &Humanizer{loc: loc}
}

// Format renders a UTC epoch-second timestamp in the configured zone using a
// stable, human-friendly layout.
func (h *Humanizer) Format(epochSeconds int64) string {
	return time.Unix(epochSeconds, 0).In(h.loc).Format("2006-01-02 15:04 MST")
}

// Now returns the current UTC epoch seconds, the only place the core reads
// the wall clock. Everything downstream deals in epoch seconds.
func Now() int64 {
	return time.Now().UTC().Unix()
}
