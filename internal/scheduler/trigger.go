package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
)

// Trigger specification grammar. A `once` trigger accepts epoch
// seconds, an ISO-8601 datetime, or the restricted relative grammar
// ("in N seconds|minutes|hours|days", "tomorrow", "next week"). An `interval`
// trigger accepts the compact forms 30s/5m/1h/1d/1w or a positive integer
// seconds value. Unparsable inputs fail with BadArgument.

var relativePattern = regexp.MustCompile(`^in\s+(\d+)\s+(seconds?|minutes?|hours?|days?)$`)

// ParseOnce resolves a `once` trigger specification to an absolute UTC epoch
// second. now is the reference clock, loc the configured IANA zone used for
// interpreting zoneless datetimes and day boundaries.
func ParseOnce(spec string, now int64, loc *time.Location) (int64, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_once", "empty trigger specification")
	}

	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if epoch <= 0 {
			return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_once", "epoch seconds must be positive")
		}
		return epoch, nil
	}

	lower := strings.ToLower(s)
	switch lower {
	case "tomorrow":
		t := time.Unix(now, 0).In(loc)
		next := time.Date(t.Year(), t.Month(), t.Day()+1, 9, 0, 0, 0, loc)
		return next.Unix(), nil
	case "next week":
		t := time.Unix(now, 0).In(loc)
		next := time.Date(t.Year(), t.Month(), t.Day()+7, 9, 0, 0, 0, loc)
		return next.Unix(), nil
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_once", "relative amount must be a positive integer")
		}
		var unit int64
		switch {
		case strings.HasPrefix(m[2], "second"):
			unit = 1
		case strings.HasPrefix(m[2], "minute"):
			unit = 60
		case strings.HasPrefix(m[2], "hour"):
			unit = 3600
		case strings.HasPrefix(m[2], "day"):
			unit = 86400
		}
		return now + n*unit, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Unix(), nil
		}
	}

	return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_once", fmt.Sprintf("unparsable trigger time %q", spec))
}

var compactIntervalPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseInterval resolves an `interval` trigger specification to a positive
// number of seconds.
func ParseInterval(spec string) (int64, error) {
	s := strings.TrimSpace(strings.ToLower(spec))
	if s == "" {
		return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_interval", "empty interval specification")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_interval", "interval must be positive")
		}
		return n, nil
	}

	m := compactIntervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_interval", fmt.Sprintf("unparsable interval %q", spec))
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_interval", "interval must be positive")
	}
	switch m[2] {
	case "s":
		return n, nil
	case "m":
		return n * 60, nil
	case "h":
		return n * 3600, nil
	case "d":
		return n * 86400, nil
	case "w":
		return n * 7 * 86400, nil
	}
	return 0, apperr.New(apperr.KindBadArgument, "scheduler.parse_interval", fmt.Sprintf("unknown unit in %q", spec))
}
