// Package heartbeat schedules recurring tasks from cron definitions.
package heartbeat

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// DueWindow is how close behind a fire time "now" must be for a heartbeat
// with no prior success to count as due. Prevents a backlog of missed fires
// from running on startup.
const DueWindow = 5 * time.Minute

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// prevFire returns the last fire time at or before now, stepping forward
// from a lookback window. Zero time when the schedule never fired within
// the window.
func prevFire(schedule cron.Schedule, now time.Time) time.Time {
	// Escalating lookbacks keep the scan cheap for frequent schedules while
	// still covering yearly date patterns.
	for _, lookback := range []time.Duration{25 * time.Hour, 32 * 24 * time.Hour, 366 * 24 * time.Hour} {
		cursor := now.Add(-lookback)
		var prev time.Time
		for {
			next := schedule.Next(cursor)
			if next.IsZero() || next.After(now) {
				break
			}
			prev = next
			cursor = next
		}
		if !prev.IsZero() {
			return prev
		}
	}
	return time.Time{}
}

// PrevScheduled returns the heartbeat's most recent fire time at or before
// now, evaluated in tz ("" means UTC).
func PrevScheduled(cronExpr, tz string, now time.Time) (time.Time, error) {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return prevFire(schedule, now.In(loc)), nil
}

// IsDue reports whether the heartbeat should run now. A heartbeat with a
// prior success is due when that success predates the latest fire time; one
// that never succeeded is due only when now is within DueWindow of the fire.
func IsDue(cronExpr, tz string, lastSuccess *time.Time, now time.Time) (bool, error) {
	prev, err := PrevScheduled(cronExpr, tz, now)
	if err != nil {
		return false, err
	}
	if prev.IsZero() {
		return false, nil
	}
	if lastSuccess == nil {
		return now.Sub(prev) <= DueWindow, nil
	}
	return lastSuccess.Before(prev), nil
}

// templatePlaceholders is the closed set a query template may use.
var templatePlaceholders = map[string]struct{}{
	"date": {}, "datetime": {}, "time": {}, "weekday": {}, "heartbeat_name": {},
}

// ExpandTemplate substitutes the time placeholders at now in loc.
// Unknown placeholders are an error so typos surface at creation time.
func ExpandTemplate(template, heartbeatName, tz string, now time.Time) (string, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	local := now.In(loc)

	replacer := strings.NewReplacer(
		"{date}", local.Format("2006-01-02"),
		"{datetime}", local.Format("2006-01-02 15:04:05"),
		"{time}", local.Format("15:04"),
		"{weekday}", local.Weekday().String(),
		"{heartbeat_name}", heartbeatName,
	)
	expanded := replacer.Replace(template)

	if unknown := unknownPlaceholders(expanded); len(unknown) > 0 {
		return "", fmt.Errorf("unknown placeholders in query template: %s", strings.Join(unknown, ", "))
	}
	return expanded, nil
}

// ValidateTemplate rejects templates referencing unsupported placeholders.
func ValidateTemplate(template string) error {
	if unknown := unknownPlaceholders(template); len(unknown) > 0 {
		return fmt.Errorf("unknown placeholders in query template: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func unknownPlaceholders(s string) []string {
	var unknown []string
	for _, match := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if _, ok := templatePlaceholders[match[1]]; !ok {
			unknown = append(unknown, match[1])
		}
	}
	return unknown
}
