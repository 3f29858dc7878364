// Package timeparse turns user-supplied time expressions and recurrence
// fields into trigger values.
//
// Free text goes through two passes: absolute date formats first
// ("2026-08-14 15:00", "August 14, 2027"), then natural-language rules
// ("in 2 days", "tomorrow at 5pm"). Resolution is timezone-aware and
// prefers future dates for ambiguous input.
package timeparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"remindbot/internal/reminder"
)

var (
	// ErrUnparseableTime means no interpretation of the input exists.
	ErrUnparseableTime = errors.New("timeparse: unparseable time")
	// ErrPastTime means the input resolved to now or earlier.
	ErrPastTime = errors.New("timeparse: resolved time is in the past")
	// ErrEmptyRecurrence means a cron/interval definition with no field set.
	ErrEmptyRecurrence = errors.New("timeparse: no recurrence field set")
	// ErrInvalidRange covers bad start/end bounds and out-of-range fields.
	ErrInvalidRange = errors.New("timeparse: invalid range")
	// ErrUnknownTimezone means the timezone hint is not an IANA zone.
	ErrUnknownTimezone = errors.New("timeparse: unknown timezone")
)

// Resolver converts time expressions using a process-wide default zone.
// It is stateless apart from that default and safe for concurrent use.
type Resolver struct {
	defaultLoc *time.Location
	nl         *when.Parser
}

func New(defaultTZ string) (*Resolver, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(defaultTZ); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, defaultTZ)
		}
		loc = l
	}

	nl := when.New(nil)
	nl.Add(en.All...)
	nl.Add(common.All...)

	return &Resolver{defaultLoc: loc, nl: nl}, nil
}

// DefaultLocation is the zone applied when the caller supplies no hint.
func (r *Resolver) DefaultLocation() *time.Location { return r.defaultLoc }

// Location resolves a timezone hint, falling back to the default zone.
func (r *Resolver) Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return r.defaultLoc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, tz)
	}
	return loc, nil
}

// ResolveDate parses free text into a one-shot trigger. The result is
// strictly in the future relative to now, or the call fails.
func (r *Resolver) ResolveDate(text, tz string, now time.Time) (*reminder.DateTrigger, error) {
	loc, err := r.Location(tz)
	if err != nil {
		return nil, err
	}
	at, err := r.resolveText(text, loc, now)
	if err != nil {
		return nil, err
	}
	if !at.After(now) {
		return nil, fmt.Errorf("%w: %q resolved to %s", ErrPastTime, text, at.Format(time.RFC3339))
	}
	return &reminder.DateTrigger{FireAt: at}, nil
}

// resolveText parses without the future requirement; start/end window
// bounds legitimately sit in the past.
func (r *Resolver) resolveText(text string, loc *time.Location, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparseableTime)
	}
	base := now.In(loc)

	// Pass 1: absolute formats, interpreted in the caller's zone unless the
	// text carries its own offset. This runs first because the language
	// rules happily match the clock portion of a full date string.
	if at, err := dateparse.ParseIn(text, loc); err == nil {
		return preferFuture(text, at, base), nil
	}

	// Pass 2: natural-language rules, evaluated against the caller's zone.
	if res, err := r.nl.Parse(text, base); err == nil && res != nil {
		return res.Time, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, text)
}

// preferFuture nudges ambiguous absolute inputs forward: a clock time that
// already passed today means tomorrow, and a month/day without a year means
// the nearest future occurrence. Inputs that spell out their year are left
// alone so genuinely past dates still fail the future check.
func preferFuture(text string, at, now time.Time) time.Time {
	if at.After(now) {
		return at
	}
	y, m, d := at.Date()
	ny, nm, nd := now.Date()
	if y == ny && m == nm && d == nd {
		return at.AddDate(0, 0, 1)
	}
	if y == ny && !strings.Contains(text, fmt.Sprintf("%d", y)) {
		return at.AddDate(1, 0, 0)
	}
	return at
}

// CronFields are the raw recurrence arguments of /remind cron.
type CronFields struct {
	Year      string
	Month     string
	Day       string
	Week      string
	DayOfWeek string
	Hour      string
	Minute    string
	Second    string

	StartText string
	EndText   string
	Timezone  string
	Jitter    int
}

func (f CronFields) empty() bool {
	return f.Year == "" && f.Month == "" && f.Day == "" && f.Week == "" &&
		f.DayOfWeek == "" && f.Hour == "" && f.Minute == "" && f.Second == ""
}

// ResolveCron validates cron recurrence fields and produces a trigger.
func (r *Resolver) ResolveCron(f CronFields, now time.Time) (*reminder.CronTrigger, error) {
	if f.empty() {
		return nil, ErrEmptyRecurrence
	}
	if f.Jitter < 0 {
		return nil, fmt.Errorf("%w: negative jitter", ErrInvalidRange)
	}
	loc, err := r.Location(f.Timezone)
	if err != nil {
		return nil, err
	}

	start, end, err := r.resolveWindow(f.StartText, f.EndText, loc, now)
	if err != nil {
		return nil, err
	}

	tr := &reminder.CronTrigger{
		Year:          f.Year,
		Month:         f.Month,
		Day:           f.Day,
		Week:          f.Week,
		DayOfWeek:     f.DayOfWeek,
		Hour:          f.Hour,
		Minute:        f.Minute,
		Second:        f.Second,
		Start:         start,
		End:           end,
		JitterSeconds: f.Jitter,
		Timezone:      loc.String(),
	}
	if _, err := tr.Compile(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	return tr, nil
}

// IntervalFields are the raw recurrence arguments of /remind interval.
type IntervalFields struct {
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int

	StartText string
	EndText   string
	Timezone  string
	Jitter    int
}

// ResolveInterval validates interval recurrence fields and produces a
// trigger anchored at start (or now when no start is given).
func (r *Resolver) ResolveInterval(f IntervalFields, now time.Time) (*reminder.IntervalTrigger, error) {
	if f.Weeks == 0 && f.Days == 0 && f.Hours == 0 && f.Minutes == 0 && f.Seconds == 0 {
		return nil, ErrEmptyRecurrence
	}
	if f.Weeks < 0 || f.Days < 0 || f.Hours < 0 || f.Minutes < 0 || f.Seconds < 0 {
		return nil, fmt.Errorf("%w: negative interval field", ErrInvalidRange)
	}
	if f.Jitter < 0 {
		return nil, fmt.Errorf("%w: negative jitter", ErrInvalidRange)
	}
	loc, err := r.Location(f.Timezone)
	if err != nil {
		return nil, err
	}

	start, end, err := r.resolveWindow(f.StartText, f.EndText, loc, now)
	if err != nil {
		return nil, err
	}
	if start == nil {
		anchored := now.In(loc)
		start = &anchored
	}

	return &reminder.IntervalTrigger{
		Weeks:         f.Weeks,
		Days:          f.Days,
		Hours:         f.Hours,
		Minutes:       f.Minutes,
		Seconds:       f.Seconds,
		Start:         start,
		End:           end,
		JitterSeconds: f.Jitter,
		Timezone:      loc.String(),
	}, nil
}

func (r *Resolver) resolveWindow(startText, endText string, loc *time.Location, now time.Time) (start, end *time.Time, err error) {
	if s := strings.TrimSpace(startText); s != "" {
		t, err := r.resolveText(s, loc, now)
		if err != nil {
			return nil, nil, err
		}
		start = &t
	}
	if s := strings.TrimSpace(endText); s != "" {
		t, err := r.resolveText(s, loc, now)
		if err != nil {
			return nil, nil, err
		}
		end = &t
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, nil, fmt.Errorf("%w: start %s is not before end %s",
			ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
