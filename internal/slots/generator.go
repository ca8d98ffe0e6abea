package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// namespace seeds deterministic slot identifiers.
var namespace = uuid.MustParse("6f0c7f3e-5a0e-4a52-9a55-2f6f3b7c1d10")

// ScheduleInfo contains the weekly grid of a shared schedule.
type ScheduleInfo struct {
	StartTime    string // "08:00"
	EndTime      string // "18:00"
	LunchStart   string // "12:00" (optional)
	LunchEnd     string // "13:00" (optional)
	SlotDuration int    // minutes
	Weekdays     []int  // 1=Mon, 7=Sun; empty means every day
}

// ClosedFunc reports dates without any slot (holidays, overrides).
type ClosedFunc func(date time.Time) bool

// DaySlots returns slot start times for one date.
func DaySlots(date time.Time, schedule ScheduleInfo) ([]time.Time, error) {
	if schedule.SlotDuration <= 0 {
		schedule.SlotDuration = 30
	}

	startTime, err := parseTimeOnDate(date, schedule.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	endTime, err := parseTimeOnDate(date, schedule.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	var lunchStart, lunchEnd time.Time
	hasLunch := schedule.LunchStart != "" && schedule.LunchEnd != ""
	if hasLunch {
		if lunchStart, err = parseTimeOnDate(date, schedule.LunchStart); err != nil {
			return nil, fmt.Errorf("parse lunch start: %w", err)
		}
		if lunchEnd, err = parseTimeOnDate(date, schedule.LunchEnd); err != nil {
			return nil, fmt.Errorf("parse lunch end: %w", err)
		}
	}

	slotDuration := time.Duration(schedule.SlotDuration) * time.Minute
	var starts []time.Time

	for cursor := startTime; !cursor.Add(slotDuration).After(endTime); cursor = cursor.Add(slotDuration) {
		if hasLunch && isOverlapping(cursor, cursor.Add(slotDuration), lunchStart, lunchEnd) {
			continue
		}
		starts = append(starts, cursor)
	}

	return starts, nil
}

// Window returns slot start times for the given number of days starting at from's date.
// Non-working weekdays, closed dates and times not after from are skipped.
func Window(from time.Time, days int, schedule ScheduleInfo, closed ClosedFunc) ([]time.Time, error) {
	workdays := make(map[int]bool, len(schedule.Weekdays))
	for _, d := range schedule.Weekdays {
		workdays[d] = true
	}

	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	var result []time.Time

	for i := 0; i < days; i++ {
		date := day.AddDate(0, 0, i)
		if len(workdays) > 0 && !workdays[isoWeekday(date)] {
			continue
		}
		if closed != nil && closed(date) {
			continue
		}

		starts, err := DaySlots(date, schedule)
		if err != nil {
			return nil, err
		}
		for _, s := range starts {
			if s.After(from) {
				result = append(result, s)
			}
		}
	}

	return result, nil
}

// SlotID derives a stable identifier for a schedule slot so that re-syncing never duplicates rows.
func SlotID(scheduleID string, start time.Time) string {
	return uuid.NewSHA1(namespace, []byte(scheduleID+"|"+start.UTC().Format(time.RFC3339))).String()
}

func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
