// Package validity turns the free-text validity expressions found in the
// offers feed into a concrete end date.
//
// The feed is uncontrolled: labels are Portuguese, content is Spanish, and
// the phrasing varies from record to record. Parsing never fails. Text that
// matches none of the known patterns maps to FarFuture, so the offer is
// treated as always valid.
package validity

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FarFuture is the end date assigned to expressions that cannot be parsed.
var FarFuture = time.Date(3000, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	rangeRe       = regexp.MustCompile(`(?i)(\d{2}/\d{2}/\d{2})\s*(?:al|-)\s*(\d{2}/\d{2}/\d{2})`)
	fullDateRe    = regexp.MustCompile(`(?i)hasta el (\d{1,2}) de (\w+) de (\d{4})`)
	partialDateRe = regexp.MustCompile(`(?i)hasta el (\d{1,2}) de (\w+)`)
	shortDateRe   = regexp.MustCompile(`(?i)hasta el (\d{2})/(\d{2})/(\d{2})`)
)

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// matcher returns the end date encoded in text, or false when its pattern
// does not apply.
type matcher func(text string, today time.Time) (time.Time, bool)

// matchers are tried in order; the first hit wins.
var matchers = []matcher{
	matchRange,
	matchFullDate,
	matchPartialDate,
	matchShortDate,
}

// Today truncates now to midnight in its own location.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// EndDate returns the last day an offer is valid. today supplies both the
// location of the result and the year for expressions that omit one.
func EndDate(text string, today time.Time) time.Time {
	for _, match := range matchers {
		if end, ok := match(text, today); ok {
			return end
		}
	}
	return FarFuture
}

// IsExpiringToday reports whether the offer ends on today's calendar day.
func IsExpiringToday(text string, today time.Time) bool {
	return SameDay(EndDate(text, today), today)
}

// IsValid reports whether today is on or before the offer's end date.
func IsValid(text string, today time.Time) bool {
	return !Today(today).After(EndDate(text, today))
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func matchRange(text string, today time.Time) (time.Time, bool) {
	m := rangeRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return parseSlashDate(m[2], today.Location())
}

func matchFullDate(text string, today time.Time) (time.Time, bool) {
	m := fullDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}, false
	}
	return spanishDate(m[1], m[2], year, today.Location())
}

func matchPartialDate(text string, today time.Time) (time.Time, bool) {
	m := partialDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return spanishDate(m[1], m[2], today.Year(), today.Location())
}

func matchShortDate(text string, today time.Time) (time.Time, bool) {
	m := shortDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return parseSlashDate(m[1]+"/"+m[2]+"/"+m[3], today.Location())
}

// parseSlashDate reads DD/MM/YY with the year taken as 2000+YY.
func parseSlashDate(s string, loc *time.Location) (time.Time, bool) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	return time.Date(2000+nums[2], time.Month(nums[1]), nums[0], 0, 0, 0, 0, loc), true
}

func spanishDate(dayStr, monthName string, year int, loc *time.Location) (time.Time, bool) {
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToLower(monthName)]
	if !ok {
		return time.Time{}, false
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc), true
}
