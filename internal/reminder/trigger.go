package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind discriminates the three trigger variants.
type TriggerKind string

const (
	TriggerDate     TriggerKind = "date"
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
)

// Trigger is the rule determining when a job fires.
//
// NextAfter returns the first nominal fire time strictly after t, or
// ok=false when no future occurrence exists (one-shot already past, or the
// recurrence ran off its end bound). Jitter is not folded in here; the
// engine draws a fresh offset per occurrence.
type Trigger interface {
	Kind() TriggerKind
	NextAfter(t time.Time) (next time.Time, ok bool)
	Jitter() time.Duration
}

// ---- DateTrigger ----

// DateTrigger fires exactly once at an absolute instant.
type DateTrigger struct {
	FireAt time.Time `json:"fire_at"`
}

func (d *DateTrigger) Kind() TriggerKind     { return TriggerDate }
func (d *DateTrigger) Jitter() time.Duration { return 0 }

func (d *DateTrigger) NextAfter(t time.Time) (time.Time, bool) {
	if d.FireAt.After(t) {
		return d.FireAt, true
	}
	return time.Time{}, false
}

// ---- IntervalTrigger ----

// IntervalTrigger fires every fixed period beginning at Start, until End.
type IntervalTrigger struct {
	Weeks   int `json:"weeks,omitempty"`
	Days    int `json:"days,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	JitterSeconds int    `json:"jitter_seconds,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

func (iv *IntervalTrigger) Kind() TriggerKind { return TriggerInterval }

func (iv *IntervalTrigger) Jitter() time.Duration {
	return time.Duration(iv.JitterSeconds) * time.Second
}

// Period is the fixed distance between occurrences.
func (iv *IntervalTrigger) Period() time.Duration {
	return time.Duration(iv.Weeks)*7*24*time.Hour +
		time.Duration(iv.Days)*24*time.Hour +
		time.Duration(iv.Hours)*time.Hour +
		time.Duration(iv.Minutes)*time.Minute +
		time.Duration(iv.Seconds)*time.Second
}

func (iv *IntervalTrigger) NextAfter(t time.Time) (time.Time, bool) {
	p := iv.Period()
	if p <= 0 {
		return time.Time{}, false
	}

	// The resolver anchors Start at creation time when the caller gave none,
	// so a nil Start only shows up for hand-built triggers. Anchor at t then.
	start := t
	if iv.Start != nil {
		start = *iv.Start
	}

	var cand time.Time
	if start.After(t) {
		cand = start
	} else {
		n := t.Sub(start)/p + 1
		cand = start.Add(n * p)
	}
	if iv.End != nil && cand.After(*iv.End) {
		return time.Time{}, false
	}
	return cand, true
}

// ---- CronTrigger ----

// CronTrigger fires on calendar fields. Each field is optional: unset
// fields match every value, except Second which defaults to 0 so that a
// minute-level spec fires once per minute boundary rather than every
// second. Numeric DayOfWeek values count from 0 = Monday; weekday names
// work too. Year and Week have no cron-line equivalent and are applied
// as candidate filters (values, lists, and ranges).
type CronTrigger struct {
	Year      string `json:"year,omitempty"`
	Month     string `json:"month,omitempty"`
	Day       string `json:"day,omitempty"`
	Week      string `json:"week,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Second    string `json:"second,omitempty"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	JitterSeconds int    `json:"jitter_seconds,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

func (c *CronTrigger) Kind() TriggerKind { return TriggerCron }

func (c *CronTrigger) Jitter() time.Duration {
	return time.Duration(c.JitterSeconds) * time.Second
}

var cronFieldParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Spec renders the second..day_of_week fields as a 6-field cron line.
func (c *CronTrigger) Spec() string {
	field := func(v, def string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return def
		}
		return v
	}
	return strings.Join([]string{
		field(c.Second, "0"),
		field(c.Minute, "*"),
		field(c.Hour, "*"),
		field(c.Day, "*"),
		field(c.Month, "*"),
		cronWeekdayField(field(c.DayOfWeek, "*")),
	}, " ")
}

var weekdayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// cronWeekdayField rewrites numeric day-of-week tokens into weekday
// names. Users count weekdays from 0 = Monday; cron lines count from
// 0 = Sunday, so raw numbers would land a day off. Numeric ranges expand
// to name lists because mapping the bounds alone can produce a
// descending range (4-6 covers fri..sun, which wraps past sunday's 0).
// Name tokens and "*" pass through untouched.
func cronWeekdayField(field string) string {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		parts[i] = mapWeekdayPart(strings.TrimSpace(part))
	}
	return strings.Join(parts, ",")
}

func mapWeekdayPart(part string) string {
	expr, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n < 1 {
			return part
		}
		step = n
	}
	from, to := expr, expr
	if f, t, ok := strings.Cut(expr, "-"); ok {
		from, to = f, t
	} else if hasStep {
		to = "6"
	}
	a, errA := strconv.Atoi(strings.TrimSpace(from))
	b, errB := strconv.Atoi(strings.TrimSpace(to))
	if errA != nil || errB != nil || a < 0 || a > 6 || b < a || b > 6 {
		return part
	}
	names := make([]string, 0, (b-a)/step+1)
	for v := a; v <= b; v += step {
		names = append(names, weekdayNames[v])
	}
	return strings.Join(names, ",")
}

func (c *CronTrigger) Location() *time.Location {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Compile parses the cron fields. The resolver calls this to validate
// user input before a trigger is ever stored.
func (c *CronTrigger) Compile() (cron.Schedule, error) {
	sched, err := cronFieldParser.Parse(c.Spec())
	if err != nil {
		return nil, err
	}
	if _, err := parseNumericSet(c.Year, 1970, 9999); err != nil {
		return nil, fmt.Errorf("year: %w", err)
	}
	if _, err := parseNumericSet(c.Week, 1, 53); err != nil {
		return nil, fmt.Errorf("week: %w", err)
	}
	return sched, nil
}

// Candidates that fail the year/week filters skip ahead in whole years or
// ISO weeks, so the scan stays cheap even for second-level specs.
const maxCronScan = 1000

func (c *CronTrigger) NextAfter(t time.Time) (time.Time, bool) {
	sched, err := c.Compile()
	if err != nil {
		return time.Time{}, false
	}
	loc := c.Location()
	years, _ := parseNumericSet(c.Year, 1970, 9999)
	weeks, _ := parseNumericSet(c.Week, 1, 53)

	base := t.In(loc)
	if c.Start != nil && base.Before(c.Start.In(loc)) {
		// Step back a hair so Next can land on Start itself.
		base = c.Start.In(loc).Add(-time.Nanosecond)
	}

	for i := 0; i < maxCronScan; i++ {
		next := sched.Next(base)
		if next.IsZero() {
			return time.Time{}, false
		}
		if c.End != nil && next.After(*c.End) {
			return time.Time{}, false
		}
		nl := next.In(loc)

		if years != nil && !years.contains(nl.Year()) {
			ny, ok := years.nextAbove(nl.Year())
			if !ok {
				return time.Time{}, false
			}
			base = time.Date(ny, time.January, 1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
			continue
		}
		if weeks != nil {
			_, isoWeek := nl.ISOWeek()
			if !weeks.contains(isoWeek) {
				base = startOfNextISOWeek(nl).Add(-time.Nanosecond)
				continue
			}
		}
		return next, true
	}
	return time.Time{}, false
}

func startOfNextISOWeek(t time.Time) time.Time {
	// Monday 00:00 of the following ISO week, in t's location.
	daysUntilMonday := (8 - int(t.Weekday())) % 7
	if daysUntilMonday == 0 {
		daysUntilMonday = 7
	}
	d := t.AddDate(0, 0, daysUntilMonday)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

// ---- numeric set fields (year / week) ----

// numericSet holds the allowed values of a filter field: nil means "any".
type numericSet struct {
	values []int // sorted ascending
}

func (s *numericSet) contains(v int) bool {
	for _, x := range s.values {
		if x == v {
			return true
		}
	}
	return false
}

func (s *numericSet) nextAbove(v int) (int, bool) {
	for _, x := range s.values {
		if x > v {
			return x, true
		}
	}
	return 0, false
}

// parseNumericSet accepts "", "*", single values, comma lists, and
// inclusive ranges ("2024-2026"). A nil result means unconstrained.
func parseNumericSet(field string, lo, hi int) (*numericSet, error) {
	field = strings.TrimSpace(field)
	if field == "" || field == "*" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element in %q", field)
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			a, err := parseBounded(from, lo, hi)
			if err != nil {
				return nil, err
			}
			b, err := parseBounded(to, lo, hi)
			if err != nil {
				return nil, err
			}
			if a > b {
				return nil, fmt.Errorf("descending range %q", part)
			}
			for v := a; v <= b; v++ {
				out = append(out, v)
			}
			continue
		}
		v, err := parseBounded(part, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	// Keep ascending order so nextAbove works; input lists may be unordered.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return &numericSet{values: out}, nil
}

func parseBounded(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, lo, hi)
	}
	return v, nil
}
