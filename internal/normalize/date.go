// Package normalize converts raw portal and file text into typed trip values.
// Every function here is pure and degrades to nil or a sentinel instead of failing.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// monthNames maps genitive Russian month names to English ones understood by time.Parse.
// Order matters: "мая" must not shadow longer tokens, so the slice is scanned in order.
var monthNames = []struct {
	ru string
	en string
}{
	{"января", "January"},
	{"февраля", "February"},
	{"марта", "March"},
	{"апреля", "April"},
	{"мая", "May"},
	{"июня", "June"},
	{"июля", "July"},
	{"августа", "August"},
	{"сентября", "September"},
	{"октября", "October"},
	{"ноября", "November"},
	{"декабря", "December"},
}

var layoutsWithYear = []string{
	"2 January 2006 15:04:05",
	"2 January 2006 15:04",
	"2 January 2006",
	"2.1.2006 15:04:05",
	"2.1.2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2.1.2006",
	"2006-01-02",
}

var layoutsWithoutYear = []string{
	"2 January 15:04:05",
	"2 January 15:04",
	"2 January",
}

var (
	timeToken  = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseDate parses a portal or file date. Localized month names are accepted and
// a missing year defaults to now's year. The result is in now's location.
// Returns nil when nothing matches.
func ParseDate(s string, now time.Time) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return nil
	}

	s = whitespace.ReplaceAllString(strings.ToLower(s), " ")
	s = strings.ReplaceAll(s, ",", "")
	for _, m := range monthNames {
		if strings.Contains(s, m.ru) {
			s = strings.Replace(s, m.ru, m.en, 1)
			break
		}
	}

	loc := now.Location()
	for _, candidate := range dateCandidates(s) {
		for _, layout := range layoutsWithYear {
			if t, err := time.ParseInLocation(layout, candidate, loc); err == nil {
				return &t
			}
		}
		for _, layout := range layoutsWithoutYear {
			if t, err := time.ParseInLocation(layout, candidate, loc); err == nil {
				d := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
				// 29 February does not exist in every year.
				if d.Month() != t.Month() || d.Day() != t.Day() {
					return nil
				}
				return &d
			}
		}
	}

	return nil
}

// dateCandidates returns s followed by s truncated right after its first time
// token, so trailing annotations such as time zone names are tolerated.
func dateCandidates(s string) []string {
	candidates := []string{s}
	parts := strings.Fields(s)
	for i, p := range parts {
		if timeToken.MatchString(p) && i < len(parts)-1 {
			candidates = append(candidates, strings.Join(parts[:i+1], " "))
			break
		}
	}
	return candidates
}

// ParseInputDate parses a caller-supplied calendar date, ISO form first and
// DD.MM.YYYY second. The result is midnight in loc.
func ParseInputDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02.01.2006"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or DD.MM.YYYY", s)
}

// PortalDate formats a date the way the portal's date inputs expect it.
func PortalDate(t time.Time) string {
	return t.Format("02.01.2006")
}
