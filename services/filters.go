package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimeKind names a recency window recognized in a question.
type TimeKind string

const (
	TimeLatest    TimeKind = "latest"
	TimeToday     TimeKind = "today"
	TimeYesterday TimeKind = "yesterday"
	TimeRecent    TimeKind = "recent"
)

// TimeFilter is a recency window. Days is set for TimeRecent, Limit for TimeLatest.
type TimeFilter struct {
	Kind  TimeKind
	Days  int
	Limit int
}

// TagFilter restricts retrieval to chunks whose tags contain Tag.
type TagFilter struct {
	Tag string
}

// Filters is everything the extractor found in one question. Date is a
// YYYY-MM-DD string or empty.
type Filters struct {
	Time *TimeFilter
	Tag  *TagFilter
	Date string
}

// Extract runs the date, time and tag extractors independently.
func Extract(question string) Filters {
	return Filters{
		Time: ParseTimeQuery(question),
		Tag:  ParseTagQuery(question),
		Date: ExtractDate(question),
	}
}

var monthNumbers = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

const monthAlternation = `(january|february|march|april|may|june|july|august|september|october|november|december)`

// datePattern pairs a regexp with the submatch positions of year, month and day.
type datePattern struct {
	re               *regexp.Regexp
	year, month, day int
}

var datePatterns = []datePattern{
	{re: regexp.MustCompile(`(\d{1,2})\s+` + monthAlternation + `\s+(\d{4})`), day: 1, month: 2, year: 3},
	{re: regexp.MustCompile(monthAlternation + `\s+(\d{1,2}),?\s+(\d{4})`), month: 1, day: 2, year: 3},
	{re: regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), year: 1, month: 2, day: 3},
	{re: regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`), month: 1, day: 2, year: 3},
	{re: regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`), month: 1, day: 2, year: 3},
}

// ExtractDate returns the first calendar date mentioned in question as
// YYYY-MM-DD, or "" when none of the supported forms appear.
func ExtractDate(question string) string {
	q := strings.ToLower(question)
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		month, ok := monthNumbers[m[p.month]]
		if !ok {
			month = atoi(m[p.month])
		}
		return fmt.Sprintf("%s-%02d-%02d", m[p.year], month, atoi(m[p.day]))
	}
	return ""
}

// atoi parses a string of one or two ASCII digits already matched by \d.
func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

type timeRule struct {
	keywords []string
	filter   TimeFilter
}

var timeRules = []timeRule{
	{keywords: []string{"latest", "most recent", "newest"}, filter: TimeFilter{Kind: TimeLatest, Limit: 1}},
	{keywords: []string{"recent", "recently", "last week", "past week"}, filter: TimeFilter{Kind: TimeRecent, Days: 7}},
	{keywords: []string{"last month", "past month"}, filter: TimeFilter{Kind: TimeRecent, Days: 30}},
	{keywords: []string{"today"}, filter: TimeFilter{Kind: TimeToday}},
	{keywords: []string{"yesterday"}, filter: TimeFilter{Kind: TimeYesterday}},
}

// ParseTimeQuery returns the first recency window whose keyword appears in
// question, or nil.
func ParseTimeQuery(question string) *TimeFilter {
	q := strings.ToLower(question)
	for _, rule := range timeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				f := rule.filter
				return &f
			}
		}
	}
	return nil
}

var tagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`tag:\s*([\w-]+)`),
	regexp.MustCompile(`with tag\s+([\w-]+)`),
	regexp.MustCompile(`tagged with\s+([\w-]+)`),
	regexp.MustCompile(`notes with\s+([\w-]+)\s+tag\b`),
	regexp.MustCompile(`([\w-]+)\s+tagged notes`),
}

// commonTags is the closed vocabulary matched as bare words when no explicit
// tag syntax is present.
var commonTags = []string{
	"work", "personal", "ideas", "meeting", "todo", "important",
	"health", "finance", "travel", "family", "shopping",
}

// ParseTagQuery returns the tag named in question, or nil. Explicit syntax wins
// over phrases, and phrases win over the common-tag vocabulary.
func ParseTagQuery(question string) *TagFilter {
	q := strings.ToLower(question)
	for _, re := range tagPatterns {
		if m := re.FindStringSubmatch(q); m != nil {
			return &TagFilter{Tag: m[1]}
		}
	}
	for _, tag := range commonTags {
		if strings.Contains(q, " "+tag+" ") || strings.HasSuffix(q, " "+tag) {
			return &TagFilter{Tag: tag}
		}
	}
	return nil
}

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp parses a stored chunk timestamp.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// calendarDate returns the YYYY-MM-DD of a stored timestamp as written, in the
// timestamp's own offset.
func calendarDate(s string) (string, bool) {
	t, ok := parseTimestamp(s)
	if !ok {
		return "", false
	}
	return t.Format(time.DateOnly), true
}
