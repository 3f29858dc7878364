package timeparse

import (
	"errors"
	"testing"
	"time"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New("UTC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad test time %q: %v", s, err)
	}
	return ts
}

func TestNewRejectsUnknownZone(t *testing.T) {
	t.Parallel()
	if _, err := New("Mars/Olympus"); !errors.Is(err, ErrUnknownTimezone) {
		t.Fatalf("New = %v, want ErrUnknownTimezone", err)
	}
}

func TestResolveDate(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	now := mustTime(t, "2026-09-01T10:00:00Z")

	tests := []struct {
		name    string
		text    string
		tz      string
		want    time.Time
		wantErr error
	}{
		{
			name: "relative hours",
			text: "in 2 hours",
			want: now.Add(2 * time.Hour),
		},
		{
			name: "absolute datetime",
			text: "2031-01-15 09:00",
			want: mustTime(t, "2031-01-15T09:00:00Z"),
		},
		{
			name: "absolute in zone",
			text: "2031-01-15 09:00",
			tz:   "Europe/Stockholm",
			want: mustTime(t, "2031-01-15T08:00:00Z"),
		},
		{
			name:    "explicit past date",
			text:    "2020-01-01",
			wantErr: ErrPastTime,
		},
		{
			name:    "gibberish",
			text:    "qwertyuiop",
			wantErr: ErrUnparseableTime,
		},
		{
			name:    "empty",
			text:    "   ",
			wantErr: ErrUnparseableTime,
		},
		{
			name:    "bad zone hint",
			text:    "in 2 hours",
			tz:      "Nowhere/Nohow",
			wantErr: ErrUnknownTimezone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := r.ResolveDate(tt.text, tt.tz, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveDate(%q) = %v, want %v", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveDate(%q): %v", tt.text, err)
			}
			if !tr.FireAt.Equal(tt.want) {
				t.Fatalf("FireAt = %v, want %v", tr.FireAt, tt.want)
			}
		})
	}
}

func TestPreferFuture(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2026-09-01T15:00:00Z")

	tests := []struct {
		name string
		text string
		at   time.Time
		want time.Time
	}{
		{
			name: "already future untouched",
			text: "2026-09-02 09:00",
			at:   mustTime(t, "2026-09-02T09:00:00Z"),
			want: mustTime(t, "2026-09-02T09:00:00Z"),
		},
		{
			name: "elapsed clock time means tomorrow",
			text: "09:00",
			at:   mustTime(t, "2026-09-01T09:00:00Z"),
			want: mustTime(t, "2026-09-02T09:00:00Z"),
		},
		{
			name: "yearless month day rolls to next year",
			text: "march 3",
			at:   mustTime(t, "2026-03-03T00:00:00Z"),
			want: mustTime(t, "2027-03-03T00:00:00Z"),
		},
		{
			name: "explicit past year stays past",
			text: "2020-01-01",
			at:   mustTime(t, "2020-01-01T00:00:00Z"),
			want: mustTime(t, "2020-01-01T00:00:00Z"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preferFuture(tt.text, tt.at, now); !got.Equal(tt.want) {
				t.Fatalf("preferFuture = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveCron(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	now := mustTime(t, "2026-09-01T10:00:00Z")

	t.Run("valid fields", func(t *testing.T) {
		tr, err := r.ResolveCron(CronFields{
			DayOfWeek: "mon",
			Hour:      "9",
			Minute:    "0",
			StartText: "2031-01-15 09:00",
			EndText:   "2031-06-15 09:00",
			Timezone:  "Europe/Stockholm",
			Jitter:    15,
		}, now)
		if err != nil {
			t.Fatalf("ResolveCron: %v", err)
		}
		if tr.DayOfWeek != "mon" || tr.Hour != "9" || tr.JitterSeconds != 15 {
			t.Fatalf("fields not carried: %+v", tr)
		}
		if tr.Timezone != "Europe/Stockholm" {
			t.Fatalf("Timezone = %q", tr.Timezone)
		}
		if tr.Start == nil || tr.End == nil || !tr.Start.Before(*tr.End) {
			t.Fatalf("window not carried: start=%v end=%v", tr.Start, tr.End)
		}
	})

	t.Run("no fields", func(t *testing.T) {
		if _, err := r.ResolveCron(CronFields{}, now); !errors.Is(err, ErrEmptyRecurrence) {
			t.Fatalf("err = %v, want ErrEmptyRecurrence", err)
		}
	})

	t.Run("out of range field", func(t *testing.T) {
		if _, err := r.ResolveCron(CronFields{Hour: "24"}, now); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("err = %v, want ErrInvalidRange", err)
		}
	})

	t.Run("negative jitter", func(t *testing.T) {
		if _, err := r.ResolveCron(CronFields{Minute: "0", Jitter: -1}, now); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("err = %v, want ErrInvalidRange", err)
		}
	})

	t.Run("inverted window", func(t *testing.T) {
		_, err := r.ResolveCron(CronFields{
			Minute:    "0",
			StartText: "2031-06-15 09:00",
			EndText:   "2031-01-15 09:00",
		}, now)
		if !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("err = %v, want ErrInvalidRange", err)
		}
	})

	t.Run("unknown zone", func(t *testing.T) {
		if _, err := r.ResolveCron(CronFields{Minute: "0", Timezone: "Nope/Nope"}, now); !errors.Is(err, ErrUnknownTimezone) {
			t.Fatalf("err = %v, want ErrUnknownTimezone", err)
		}
	})
}

func TestResolveInterval(t *testing.T) {
	t.Parallel()
	r := newResolver(t)
	now := mustTime(t, "2026-09-01T10:00:00Z")

	t.Run("anchors start at now", func(t *testing.T) {
		tr, err := r.ResolveInterval(IntervalFields{Minutes: 30}, now)
		if err != nil {
			t.Fatalf("ResolveInterval: %v", err)
		}
		if tr.Start == nil || !tr.Start.Equal(now) {
			t.Fatalf("Start = %v, want %v", tr.Start, now)
		}
		if got := tr.Period(); got != 30*time.Minute {
			t.Fatalf("Period = %v", got)
		}
	})

	t.Run("explicit start", func(t *testing.T) {
		tr, err := r.ResolveInterval(IntervalFields{Hours: 1, StartText: "2031-01-15 09:00"}, now)
		if err != nil {
			t.Fatalf("ResolveInterval: %v", err)
		}
		if tr.Start == nil || !tr.Start.Equal(mustTime(t, "2031-01-15T09:00:00Z")) {
			t.Fatalf("Start = %v", tr.Start)
		}
	})

	t.Run("no fields", func(t *testing.T) {
		if _, err := r.ResolveInterval(IntervalFields{}, now); !errors.Is(err, ErrEmptyRecurrence) {
			t.Fatalf("err = %v, want ErrEmptyRecurrence", err)
		}
	})

	t.Run("negative field", func(t *testing.T) {
		if _, err := r.ResolveInterval(IntervalFields{Minutes: -5}, now); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("err = %v, want ErrInvalidRange", err)
		}
	})
}
