package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsableTime is returned when a time phrase cannot be resolved.
var ErrUnparsableTime = errors.New("cannot parse time phrase")

// defaultHour is applied to date-only phrases ("tomorrow", "2026-09-01").
const defaultHour = 9

var (
	relativeRe = regexp.MustCompile(`^in\s+(\d+)\s+(minute|minutes|hour|hours|day|days)$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ResolveTime turns a user-facing time phrase into an absolute time in loc.
// Accepted forms, tried in order:
//
//	RFC 3339                      2026-09-01T15:00:00Z
//	date + clock                  2026-09-01 15:00
//	date only                     2026-09-01          (09:00)
//	today/tomorrow/day after tomorrow [HH:MM]
//	next <weekday> / <weekday> [HH:MM]
//	in N minutes/hours/days
//
// Relative phrases resolve against now. Weekdays pick the next occurrence
// strictly after today.
func ResolveTime(phrase string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	p := strings.ToLower(strings.TrimSpace(phrase))
	if p == "" {
		return time.Time{}, fmt.Errorf("%w: empty phrase", ErrUnparsableTime)
	}

	if t, err := time.Parse(time.RFC3339, phrase); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", p, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", p, loc); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), defaultHour, 0, 0, 0, loc), nil
	}

	if m := relativeRe.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch strings.TrimSuffix(m[2], "s") {
		case "minute":
			return now.Add(time.Duration(n) * time.Minute), nil
		case "hour":
			return now.Add(time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, n), nil
		}
	}

	// Split an optional trailing clock time off the day phrase:
	// "tomorrow 15:00", "friday 09:30".
	dayPart := p
	hour, minute := defaultHour, 0
	if fields := strings.Fields(p); len(fields) > 1 {
		if m := clockRe.FindStringSubmatch(fields[len(fields)-1]); m != nil {
			h, _ := strconv.Atoi(m[1])
			min, _ := strconv.Atoi(m[2])
			if h < 24 && min < 60 {
				hour, minute = h, min
				dayPart = strings.TrimSpace(strings.Join(fields[:len(fields)-1], " "))
			}
		}
	}
	dayPart = strings.TrimSuffix(dayPart, " at")

	at := func(base time.Time) time.Time {
		return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc)
	}

	switch dayPart {
	case "today":
		return at(now), nil
	case "tomorrow":
		return at(now.AddDate(0, 0, 1)), nil
	case "day after tomorrow", "the day after tomorrow":
		return at(now.AddDate(0, 0, 2)), nil
	}

	if wd, ok := weekdays[strings.TrimPrefix(dayPart, "next ")]; ok {
		days := int(wd-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		return at(now.AddDate(0, 0, days)), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableTime, phrase)
}
