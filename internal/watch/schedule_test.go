package watch

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func TestScheduleDueNeverExecuted(t *testing.T) {
	for _, typ := range []string{ScheduleHourly, ScheduleDaily, ScheduleCustom} {
		s := Schedule{Type: typ}
		if !s.Due(at(12, 0), time.Time{}) {
			t.Errorf("%s schedule with no prior run should be due", typ)
		}
	}
}

func TestScheduleDueHourly(t *testing.T) {
	s := Schedule{Type: ScheduleHourly}
	last := at(11, 0)

	if s.Due(at(11, 30), last) {
		t.Error("should not be due 30 minutes after last run")
	}
	if !s.Due(at(12, 0), last) {
		t.Error("should be due exactly one hour after last run")
	}
}

func TestScheduleDueDaily(t *testing.T) {
	s := Schedule{Type: ScheduleDaily, Time: "08:30"}
	yesterday := at(9, 0).AddDate(0, 0, -1)

	if s.Due(at(8, 0), yesterday) {
		t.Error("should not be due before the daily window")
	}
	if !s.Due(at(8, 30), yesterday) {
		t.Error("should be due at the daily window")
	}
	if s.Due(at(10, 0), at(8, 45)) {
		t.Error("should not be due twice in one day")
	}
}

func TestScheduleDueDailyDefaultsTime(t *testing.T) {
	s := Schedule{Type: ScheduleDaily, Time: "not-a-clock"}
	yesterday := at(10, 0).AddDate(0, 0, -1)

	if s.Due(at(8, 59), yesterday) {
		t.Error("should not be due before the 09:00 default")
	}
	if !s.Due(at(9, 0), yesterday) {
		t.Error("should be due at the 09:00 default")
	}
}

func TestScheduleDueCustom(t *testing.T) {
	s := Schedule{Type: ScheduleCustom, IntervalMinutes: 15}
	last := at(12, 0)

	if s.Due(at(12, 10), last) {
		t.Error("should not be due before the interval elapses")
	}
	if !s.Due(at(12, 15), last) {
		t.Error("should be due after the interval elapses")
	}
}

func TestScheduleDueUnknownType(t *testing.T) {
	s := Schedule{Type: "weekly"}
	if s.Due(at(12, 0), at(1, 0)) {
		t.Error("unknown schedule type should never be due")
	}
}

func TestNextExecution(t *testing.T) {
	now := at(12, 10)

	if got := (Schedule{Type: ScheduleHourly}).NextExecution(now); !got.Equal(at(13, 10)) {
		t.Errorf("hourly next = %v", got)
	}
	if got := (Schedule{Type: ScheduleDaily, Time: "14:00"}).NextExecution(now); !got.Equal(at(14, 0)) {
		t.Errorf("daily next today = %v", got)
	}
	if got := (Schedule{Type: ScheduleDaily, Time: "08:00"}).NextExecution(now); !got.Equal(at(8, 0).AddDate(0, 0, 1)) {
		t.Errorf("daily next tomorrow = %v", got)
	}
	if got := (Schedule{Type: ScheduleCustom, IntervalMinutes: 45}).NextExecution(now); !got.Equal(at(12, 55)) {
		t.Errorf("custom next = %v", got)
	}
	if got := (Schedule{Type: ScheduleCustom}).NextExecution(now); !got.Equal(at(13, 10)) {
		t.Errorf("custom default interval next = %v", got)
	}
}
