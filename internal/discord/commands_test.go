package discord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"remindbot/internal/reminder"
	"remindbot/internal/store"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

// listOnlyStore backs findJob tests; the other methods are unused there.
type listOnlyStore struct {
	jobs []*reminder.Job
}

func (s *listOnlyStore) Create(context.Context, *reminder.Job) (string, error) {
	return "", errors.New("not implemented")
}

func (s *listOnlyStore) Get(context.Context, string) (*reminder.Job, error) {
	return nil, store.ErrNotFound
}

func (s *listOnlyStore) List(_ context.Context, f store.Filter) ([]*reminder.Job, error) {
	var out []*reminder.Job
	for _, j := range s.jobs {
		if f.GuildID != "" && j.GuildID != f.GuildID {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *listOnlyStore) Update(context.Context, string, func(*reminder.Job) error) (*reminder.Job, error) {
	return nil, errors.New("not implemented")
}

func (s *listOnlyStore) Delete(context.Context, string) error { return nil }
func (s *listOnlyStore) Close() error                         { return nil }

func testJob(id, guildID string) *reminder.Job {
	return &reminder.Job{
		ID:      id,
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(time.Hour)},
		Payload: reminder.NewChannelPayload("c1", "msg", "u1"),
		GuildID: guildID,
	}
}

func TestFindJob(t *testing.T) {
	t.Parallel()
	st := &listOnlyStore{jobs: []*reminder.Job{
		testJob("aabbccdd-1111", "g1"),
		testJob("aax-2222", "g1"),
		testJob("zz-3333", "g2"),
	}}
	c := &Commands{store: st, log: logx.Nop()}
	ctx := context.Background()

	t.Run("unique prefix", func(t *testing.T) {
		job, err := c.findJob(ctx, "g1", "aabb")
		if err != nil {
			t.Fatalf("findJob: %v", err)
		}
		if job.ID != "aabbccdd-1111" {
			t.Fatalf("id = %s", job.ID)
		}
	})

	t.Run("full id", func(t *testing.T) {
		job, err := c.findJob(ctx, "g1", "aax-2222")
		if err != nil {
			t.Fatalf("findJob: %v", err)
		}
		if job.ID != "aax-2222" {
			t.Fatalf("id = %s", job.ID)
		}
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		if _, err := c.findJob(ctx, "g1", "aa"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
			t.Fatalf("err = %v, want ambiguity", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := c.findJob(ctx, "g1", "qq"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("scoped to guild", func(t *testing.T) {
		if _, err := c.findJob(ctx, "g1", "zz"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound for another guild's job", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if _, err := c.findJob(ctx, "g1", "  "); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestRemindCommandTree(t *testing.T) {
	t.Parallel()
	cmd := remindCommand()
	if cmd.Name != "remind" {
		t.Fatalf("name = %q", cmd.Name)
	}

	subs := make(map[string]bool, len(cmd.Options))
	for _, o := range cmd.Options {
		subs[o.Name] = true
	}
	for _, want := range []string{"add", "cron", "interval", "list", "edit", "remove", "pause_unpause", "backup"} {
		if !subs[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}

	// add requires both message and time.
	for _, o := range cmd.Options {
		if o.Name != "add" {
			continue
		}
		required := make(map[string]bool)
		for _, opt := range o.Options {
			if opt.Required {
				required[opt.Name] = true
			}
		}
		if !required["message"] || !required["time"] {
			t.Fatalf("add required options = %v", required)
		}
	}
}

func TestUserError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "unparseable", err: fmt.Errorf("wrap: %w", timeparse.ErrUnparseableTime), want: "could not parse"},
		{name: "past", err: timeparse.ErrPastTime, want: "in the past"},
		{name: "empty recurrence", err: timeparse.ErrEmptyRecurrence, want: "recurrence field"},
		{name: "range", err: timeparse.ErrInvalidRange, want: "Invalid schedule"},
		{name: "timezone", err: timeparse.ErrUnknownTimezone, want: "IANA"},
		{name: "not found", err: store.ErrNotFound, want: "No reminder"},
		{name: "write", err: store.ErrWrite, want: "try again"},
		{name: "unknown", err: errors.New("boom"), want: "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userError(tt.err); !strings.Contains(got, tt.want) {
				t.Fatalf("userError = %q, want mention of %q", got, tt.want)
			}
		})
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	t.Parallel()
	if got := shortID("aabbccdd-1234"); got != "aabbccdd" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("ab"); got != "ab" {
		t.Fatalf("shortID = %q", got)
	}
	if got := truncateMessage("short", 40); got != "short" {
		t.Fatalf("truncateMessage = %q", got)
	}
	long := strings.Repeat("a", 50)
	if got := truncateMessage(long, 10); len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncateMessage = %q", got)
	}

	// Multi-byte messages must stay valid UTF-8 after the cut.
	wide := strings.Repeat("åäö", 20)
	got := truncateMessage(wide, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("truncateMessage split a rune: %q", got)
	}
	if len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("truncateMessage = %q", got)
	}
}

func TestScopeName(t *testing.T) {
	t.Parallel()
	if got := scopeName(""); got != "global" {
		t.Fatalf("scopeName = %q", got)
	}
	if got := scopeName("g1"); got != "guild g1" {
		t.Fatalf("scopeName = %q", got)
	}
}
