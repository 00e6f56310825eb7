// Package automation orchestrates the scheduled and manually triggered
// learning operations: calendar windows, the kill switch, rate limits,
// retries, and the shared handler skeleton that audits every run.
package automation

import (
	"time"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
)

// Window is a calendar-bounded UTC interval. Start is inclusive; End is
// the last covered millisecond except for the daily window, whose End is
// the exclusive midnight boundary.
type Window struct {
	Start core.Time `json:"start"`
	End   core.Time `json:"end"`
}

func midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyWindow is [yesterday 00:00, today 00:00). Any invocation within the
// same UTC day yields the identical window.
func DailyWindow(now time.Time) Window {
	today := midnight(now)
	return Window{
		Start: core.NewTime(today.AddDate(0, 0, -1)),
		End:   core.NewTime(today),
	}
}

// WeeklyWindow is the previous Monday 00:00 through the previous Sunday
// 23:59:59.999. With d the day-of-week (0 = Sunday), the previous Monday
// is 6 days back on Sundays and d+6 days back otherwise.
func WeeklyWindow(now time.Time) Window {
	d := int(now.UTC().Weekday())
	daysBack := d + 6
	if d == 0 {
		daysBack = 6
	}
	monday := midnight(now).AddDate(0, 0, -daysBack)
	return Window{
		Start: core.NewTime(monday),
		End:   core.NewTime(monday.AddDate(0, 0, 7).Add(-time.Millisecond)),
	}
}

// MonthlyWindow is the full previous calendar month, ending at
// 23:59:59.999 on its last day.
func MonthlyWindow(now time.Time) Window {
	u := now.UTC()
	firstOfThis := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{
		Start: core.NewTime(firstOfThis.AddDate(0, -1, 0)),
		End:   core.NewTime(firstOfThis.Add(-time.Millisecond)),
	}
}

// CalibrationWindow is the calibration default: the previous month.
func CalibrationWindow(now time.Time) Window { return MonthlyWindow(now) }

// SnapshotWindow derives the window for a snapshot type. CUSTOM requires
// explicit bounds and never derives them.
func SnapshotWindow(typ core.SnapshotType, now time.Time, start, end core.Time) (Window, error) {
	switch typ {
	case core.SnapshotDaily:
		return DailyWindow(now), nil
	case core.SnapshotWeekly:
		return WeeklyWindow(now), nil
	case core.SnapshotMonthly:
		return MonthlyWindow(now), nil
	case core.SnapshotCustom:
		if start.IsZero() || end.IsZero() {
			return Window{}, opxerr.New(opxerr.CodeValidation,
				"CUSTOM snapshots require explicit startDate and endDate")
		}
		if end.Before(start) {
			return Window{}, opxerr.New(opxerr.CodeValidation, "endDate precedes startDate")
		}
		return Window{Start: start, End: end}, nil
	default:
		return Window{}, opxerr.Newf(opxerr.CodeValidation, "snapshot type %q is not recognized", typ)
	}
}
