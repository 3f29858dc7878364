package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// memStore is an in-memory stand-in with the same update semantics as the
// sqlite store: every committed write re-derives the next fire time.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*reminder.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*reminder.Job)}
}

func (m *memStore) Create(_ context.Context, job *reminder.Job) (string, error) {
	if err := job.Payload.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Recompute(time.Now())
	m.jobs[job.ID] = job.Clone()
	return job.ID, nil
}

func (m *memStore) Get(_ context.Context, id string) (*reminder.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *memStore) List(_ context.Context, f store.Filter) ([]*reminder.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*reminder.Job
	for _, j := range m.jobs {
		if f.GuildID != "" && j.GuildID != f.GuildID {
			continue
		}
		if f.Paused != nil && j.Paused != *f.Paused {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memStore) Update(_ context.Context, id string, mutate func(*reminder.Job) error) (*reminder.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := j.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	cp.ID = id
	cp.Recompute(time.Now())
	m.jobs[id] = cp
	return cp.Clone(), nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) Close() error { return nil }

// seed inserts a record verbatim, NextFire included, the way a restart
// finds rows persisted by a previous process.
func (m *memStore) seed(job *reminder.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
}

type recordingDispatcher struct {
	ch  chan reminder.Payload
	err error
}

func newRecordingDispatcher(err error) *recordingDispatcher {
	return &recordingDispatcher{ch: make(chan reminder.Payload, 32), err: err}
}

func (d *recordingDispatcher) Deliver(_ context.Context, p reminder.Payload) error {
	d.ch <- p
	return d.err
}

func (d *recordingDispatcher) wait(t *testing.T, timeout time.Duration) reminder.Payload {
	t.Helper()
	select {
	case p := <-d.ch:
		return p
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a delivery")
		return reminder.Payload{}
	}
}

func (d *recordingDispatcher) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case p := <-d.ch:
		t.Fatalf("unexpected delivery: %+v", p)
	case <-time.After(within):
	}
}

func startEngine(t *testing.T, st store.Store, disp Dispatcher) *Service {
	t.Helper()
	svc := New(Config{Workers: 1, QueueSize: 8}, st, disp, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

func waitGone(t *testing.T, st store.Store, id string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.Get(context.Background(), id); errors.Is(err, store.ErrNotFound) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s still present", id)
}

func TestOneShotFiresOnceAndIsRemoved(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)

	id, err := st.Create(context.Background(), &reminder.Job{
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(150 * time.Millisecond)},
		Payload: reminder.NewChannelPayload("c1", "one shot", "u1"),
		GuildID: "g1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	startEngine(t, st, disp)

	p := disp.wait(t, 3*time.Second)
	if p.Message != "one shot" {
		t.Fatalf("payload = %+v", p)
	}
	waitGone(t, st, id)
	disp.expectNone(t, 300*time.Millisecond)
}

func TestRecurringAdvances(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)
	ctx := context.Background()

	id, err := st.Create(ctx, &reminder.Job{
		Trigger: &reminder.IntervalTrigger{Seconds: 1},
		Payload: reminder.NewDMPayload("u1", "g1", "hydrate"),
		GuildID: "g1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	startEngine(t, st, disp)

	disp.wait(t, 5*time.Second)
	disp.wait(t, 5*time.Second)

	// The record survives and always points at a future occurrence.
	job, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.NextFire == nil || !job.NextFire.After(time.Now().Add(-time.Second)) {
		t.Fatalf("NextFire = %v", job.NextFire)
	}
}

func TestPausedJobDoesNotFire(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)

	job := &reminder.Job{
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(100 * time.Millisecond)},
		Payload: reminder.NewChannelPayload("c1", "nope", "u1"),
		GuildID: "g1",
		Paused:  true,
	}
	if _, err := st.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	startEngine(t, st, disp)
	disp.expectNone(t, 500*time.Millisecond)
}

func TestNotifyArmsNewJob(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)

	svc := startEngine(t, st, disp)

	// Created after Start: without Notify the loop would sleep on an
	// empty armed set.
	if _, err := st.Create(context.Background(), &reminder.Job{
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(150 * time.Millisecond)},
		Payload: reminder.NewChannelPayload("c1", "late arrival", "u1"),
		GuildID: "g1",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	svc.Notify()

	p := disp.wait(t, 3*time.Second)
	if p.Message != "late arrival" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestNotifyDropsDeletedJob(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)
	ctx := context.Background()

	id, err := st.Create(ctx, &reminder.Job{
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(400 * time.Millisecond)},
		Payload: reminder.NewChannelPayload("c1", "cancelled", "u1"),
		GuildID: "g1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	svc := startEngine(t, st, disp)

	if err := st.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	svc.Notify()

	disp.expectNone(t, 800*time.Millisecond)
}

func TestMissedFireDeliveredOnStartup(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)

	// Simulates a row persisted before downtime: the nominal fire time has
	// already passed but was never delivered.
	past := time.Now().Add(-time.Minute)
	st.seed(&reminder.Job{
		ID:       "missed-1",
		Trigger:  &reminder.DateTrigger{FireAt: past},
		Payload:  reminder.NewChannelPayload("c1", "while you were out", "u1"),
		GuildID:  "g1",
		NextFire: &past,
	})

	startEngine(t, st, disp)

	p := disp.wait(t, 3*time.Second)
	if p.Message != "while you were out" {
		t.Fatalf("payload = %+v", p)
	}
	waitGone(t, st, "missed-1")
}

func TestExpiredRecordRemovedOnStartup(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(nil)

	// No NextFire and no future occurrence: startup expires it.
	st.seed(&reminder.Job{
		ID:      "expired-1",
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(-time.Hour)},
		Payload: reminder.NewChannelPayload("c1", "too late", "u1"),
		GuildID: "g1",
	})

	startEngine(t, st, disp)

	waitGone(t, st, "expired-1")
	disp.expectNone(t, 300*time.Millisecond)
}

func TestDeliveryFailureStillCompletesOneShot(t *testing.T) {
	st := newMemStore()
	disp := newRecordingDispatcher(errors.New("discord down"))

	id, err := st.Create(context.Background(), &reminder.Job{
		Trigger: &reminder.DateTrigger{FireAt: time.Now().Add(100 * time.Millisecond)},
		Payload: reminder.NewChannelPayload("c1", "best effort", "u1"),
		GuildID: "g1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	startEngine(t, st, disp)

	disp.wait(t, 3*time.Second)
	// Completion is persisted before dispatch; a failed delivery is logged,
	// not retried.
	waitGone(t, st, id)
	disp.expectNone(t, 300*time.Millisecond)
}
