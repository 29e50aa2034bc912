// Copyright 2025 James Ross
package policy

import (
	"time"

	"github.com/robfig/cron/v3"
)

// ChangeFreezeWindow is one of: an absolute {start,end,tz} window, or a
// recurring {days_of_week[], hours[], tz} window. Recurring days are
// validated through a cron.Parser the way the teacher's calendar-view
// validator does, even though here they're interpreted directly rather
// than compiled into a single cron expression; hours are not validated.
type ChangeFreezeWindow struct {
	Start         *time.Time `mapstructure:"start"`
	End           *time.Time `mapstructure:"end"`
	DaysOfWeek    []string   `mapstructure:"days_of_week"`
	Hours         []int      `mapstructure:"hours"`
	TZ            string     `mapstructure:"tz"`
	ExemptSources []string   `mapstructure:"exempt_sources"`
}

var weekdayParser = cron.NewParser(cron.Dow)

// ValidateChangeFreeze checks that days_of_week compiles as a cron
// day-of-week field, the same validation style as the teacher's
// calendar-view Validator.
func ValidateChangeFreeze(w ChangeFreezeWindow) error {
	if len(w.DaysOfWeek) == 0 {
		return nil
	}
	spec := ""
	for i, d := range w.DaysOfWeek {
		if _, ok := dayNames[d]; !ok {
			return newPolicyError("INVALID_POLICY", "change_freeze: unknown day "+d)
		}
		if i > 0 {
			spec += ","
		}
		spec += d
	}
	if _, err := weekdayParser.Parse(spec); err != nil {
		return newPolicyError("INVALID_POLICY", "change_freeze: bad days_of_week: "+err.Error())
	}
	return nil
}

var dayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

// InWindow reports whether at (the decision's wall clock, in the window's
// tz) falls inside the freeze window.
func (w ChangeFreezeWindow) InWindow(at time.Time) (bool, error) {
	loc := time.UTC
	if w.TZ != "" {
		l, err := time.LoadLocation(w.TZ)
		if err != nil {
			return false, newPolicyError("INVALID_POLICY", "change_freeze: bad tz "+w.TZ)
		}
		loc = l
	}
	local := at.In(loc)

	if w.Start != nil && w.End != nil {
		return !local.Before(*w.Start) && local.Before(*w.End), nil
	}

	if len(w.DaysOfWeek) == 0 {
		return false, nil
	}
	dayOK := false
	for _, d := range w.DaysOfWeek {
		wd, ok := dayNames[d]
		if !ok {
			return false, newPolicyError("INVALID_POLICY", "change_freeze: unknown day "+d)
		}
		if local.Weekday() == wd {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false, nil
	}
	if len(w.Hours) == 0 {
		return true, nil
	}
	for _, h := range w.Hours {
		if local.Hour() == h {
			return true, nil
		}
	}
	return false, nil
}

// Exempt reports whether source is listed in the window's exempt_sources.
func (w ChangeFreezeWindow) Exempt(source string) bool {
	for _, s := range w.ExemptSources {
		if s == source {
			return true
		}
	}
	return false
}
