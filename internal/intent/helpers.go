package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ResolveDate normalizes a date token. "today" and "tomorrow" resolve to ISO
// dates relative to now; "this_week" stays symbolic; explicit ISO dates pass
// through. Anything else returns "".
func ResolveDate(token string, now time.Time) string {
	token = strings.ToLower(strings.TrimSpace(token))
	switch token {
	case "today":
		return now.Format(isoDate)
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(isoDate)
	case "this_week", "this week":
		return "this_week"
	}
	if isoDateRe.MatchString(token) {
		return token
	}
	return ""
}

var textDateRe = regexp.MustCompile(`(?i)\b(today|tomorrow|this week|\d{4}-\d{2}-\d{2})\b`)

// ExtractDateToken scans raw utterance text for a date token and resolves
// it. Used when the model omitted date_range.
func ExtractDateToken(text string, now time.Time) string {
	m := textDateRe.FindString(text)
	if m == "" {
		return ""
	}
	return ResolveDate(m, now)
}

var searchTermRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhen(?:'s| is| are) my ([\w\s]+?)(?:\?|$| today| tomorrow| this week)`),
	regexp.MustCompile(`(?i)\bfind my ([\w\s]+?)(?:\?|$| today| tomorrow| this week)`),
	regexp.MustCompile(`(?i)\bany ([\w\s]+?)(?: today| tomorrow| this week)`),
}

// ExtractSearchTerm probes the utterance for an event search term. The
// result is lowercased; matching elsewhere relies on that.
func ExtractSearchTerm(text string) string {
	for _, re := range searchTermRes {
		if m := re.FindStringSubmatch(text); m != nil {
			term := strings.ToLower(strings.TrimSpace(m[1]))
			term = strings.TrimSuffix(term, " appointment")
			if term != "" {
				return term
			}
		}
	}
	return ""
}

var (
	clockTimeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	ampmTimeRe  = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)
	durationRe  = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(minutes?|mins?|hours?|hrs?|h|m)$`)
	bareIntRe   = regexp.MustCompile(`^\d+$`)
	urlRe       = regexp.MustCompile(`^https?://\S+$`)
)

// InferEditField resolves a bare-value edit against a pending event by value
// type: times target event_time, dates target event_date, durations target
// duration_minutes, URLs target doc_url. Returns the field name and the
// normalized value, or "" when the value type is unrecognized.
func InferEditField(value string, now time.Time) (field, normalized string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}

	if t := NormalizeTime(value); t != "" {
		return "event_time", t
	}
	if d := ResolveDate(value, now); d != "" && d != "this_week" {
		return "event_date", d
	}
	if m := durationRe.FindStringSubmatch(value); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit := strings.ToLower(m[2])
			if strings.HasPrefix(unit, "h") {
				amount *= 60
			}
			return "duration_minutes", strconv.Itoa(int(amount))
		}
	}
	if urlRe.MatchString(value) {
		return "doc_url", value
	}
	// A bare integer with no unit reads as minutes; bare clock hours always
	// carry am/pm or a colon so there is no collision.
	if bareIntRe.MatchString(value) {
		return "duration_minutes", value
	}
	return "", ""
}

// NormalizeTime converts "3pm", "3:30 PM", or "15:00" into 24-hour "HH:MM".
// Returns "" when the value is not a time.
func NormalizeTime(value string) string {
	value = strings.TrimSpace(value)
	if m := clockTimeRe.FindStringSubmatch(value); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour < 24 && minute < 60 {
			return pad2(hour) + ":" + pad2(minute)
		}
		return ""
	}
	if m := ampmTimeRe.FindStringSubmatch(value); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return ""
		}
		if strings.EqualFold(m[3], "pm") && hour != 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		return pad2(hour) + ":" + pad2(minute)
	}
	return ""
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var ordinalNumRe = regexp.MustCompile(`^(?:number )?(\d+)(?:st|nd|rd|th)?$`)

// ParseOrdinal reads a selection ordinal from phrasings like "the first
// one", "1st", or "number 2". Returns 0 when the text is not an ordinal.
func ParseOrdinal(text string) int {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.TrimPrefix(text, "the ")
	text = strings.TrimSuffix(text, " please")
	text = strings.TrimSuffix(text, " one")
	text = strings.TrimSpace(text)

	if n, ok := ordinalWords[text]; ok {
		return n
	}
	if m := ordinalNumRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 {
			return n
		}
	}
	return 0
}
