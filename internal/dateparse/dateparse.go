// Package dateparse turns the dates users type on the command line into
// calendar days.
package dateparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for absolute dates. The day-first form matches the
// booking site's own display.
var layouts = []string{"2006-01-02", "02/01/2006", "2/1/2006"}

// Parse resolves input relative to the current time.
func Parse(input string) (time.Time, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom resolves input to midnight of a calendar day in now's location.
// Supported forms:
//   - today, tomorrow
//   - monday, tue, ... (next occurrence; the same weekday means next week)
//   - next monday, ... (the one after this week's)
//   - next week, next month
//   - eow (Friday), eom (last day of the month)
//   - +N, in N days, in N weeks
//   - YYYY-MM-DD, DD/MM/YYYY
func ParseFrom(input string, now time.Time) (time.Time, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	today := midnight(now)

	switch input {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "next week", "nextweek":
		return today.AddDate(0, 0, 7), nil
	case "next month", "nextmonth":
		return today.AddDate(0, 1, 0), nil
	case "end of week", "eow":
		if today.Weekday() == time.Friday {
			return today, nil
		}
		return nextWeekday(today, time.Friday, false), nil
	case "end of month", "eom":
		return endOfMonth(today), nil
	}

	if day, ok := parseWeekday(input); ok {
		return nextWeekday(today, day, strings.HasPrefix(input, "next ")), nil
	}

	if n, ok := relativeDays(input); ok {
		return today.AddDate(0, 0, n), nil
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, input, now.Location()); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", input)
}

// EndOf returns the first instant after the day containing t.
func EndOf(t time.Time) time.Time {
	return midnight(t).AddDate(0, 0, 1)
}

var (
	plusPattern    = regexp.MustCompile(`^\+(\d{1,4})$`)
	inDaysPattern  = regexp.MustCompile(`^in (\d{1,4}) days?$`)
	inWeeksPattern = regexp.MustCompile(`^in (\d{1,3}) weeks?$`)
)

func relativeDays(input string) (int, bool) {
	if m := plusPattern.FindStringSubmatch(input); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if m := inDaysPattern.FindStringSubmatch(input); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	if m := inWeeksPattern.FindStringSubmatch(input); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 7, true
	}
	return 0, false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(input string) (time.Weekday, bool) {
	day, ok := weekdays[strings.TrimPrefix(input, "next ")]
	return day, ok
}

// nextWeekday returns the next occurrence of target after today.
// With forceNext ("next monday") it skips this week's occurrence, except
// when today is the target, where both forms mean seven days out.
func nextWeekday(today time.Time, target time.Weekday, forceNext bool) time.Time {
	days := int(target - today.Weekday())
	sameDay := days == 0
	if days <= 0 {
		days += 7
	}
	if forceNext && !sameDay {
		days += 7
	}
	return today.AddDate(0, 0, days)
}

func endOfMonth(today time.Time) time.Time {
	y, m, _ := today.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, today.Location()).AddDate(0, 0, -1)
}
