package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDailyTime       = "09:00"
	defaultIntervalMinutes = 60
)

// Due reports whether the schedule should execute at the given time. A
// zero lastRun means the watch has never executed and is due immediately.
func (s Schedule) Due(now, lastRun time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	switch s.Type {
	case ScheduleHourly:
		return now.Sub(lastRun) >= time.Hour
	case ScheduleDaily:
		hour, minute := s.dailyClock()
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if now.Before(target) {
			return false
		}
		// Already ran today: wait for tomorrow's window.
		ly, lm, ld := lastRun.In(now.Location()).Date()
		ny, nm, nd := now.Date()
		return ly != ny || lm != nm || ld != nd
	case ScheduleCustom:
		return now.Sub(lastRun) >= s.interval()
	default:
		return false
	}
}

// NextExecution returns the next time the schedule will fire after now.
func (s Schedule) NextExecution(now time.Time) time.Time {
	switch s.Type {
	case ScheduleHourly:
		return now.Add(time.Hour)
	case ScheduleDaily:
		hour, minute := s.dailyClock()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case ScheduleCustom:
		return now.Add(s.interval())
	default:
		return now.Add(time.Hour)
	}
}

func (s Schedule) interval() time.Duration {
	minutes := s.IntervalMinutes
	if minutes <= 0 {
		minutes = defaultIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// dailyClock parses the HH:MM wall time, falling back to 09:00.
func (s Schedule) dailyClock() (hour, minute int) {
	hour, minute, err := parseClock(s.Time)
	if err != nil {
		hour, minute, _ = parseClock(defaultDailyTime)
	}
	return hour, minute
}

func parseClock(value string) (hour, minute int, err error) {
	value = strings.TrimSpace(value)
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q", value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}
