// Package engine runs the trigger-evaluation loop.
//
// One coordinating goroutine owns the armed-job ordering and is the only
// writer of fire-state transitions. Deliveries are handed to a bounded
// worker pool so a slow dispatcher never stalls the timeline.
package engine

import (
	"container/heap"
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// Dispatcher performs actual message delivery. Failures are reported back
// for logging and alerting; the engine never retries a delivery.
type Dispatcher interface {
	Deliver(ctx context.Context, p reminder.Payload) error
}

type Config struct {
	Workers         int
	QueueSize       int
	DispatchTimeout time.Duration
}

const (
	defaultWorkers         = 2
	defaultQueueSize       = 64
	defaultDispatchTimeout = 30 * time.Second

	// idleWait bounds the sleep when nothing is armed.
	idleWait = time.Hour

	// writeRetryDelay re-arms a job whose fire could not be persisted.
	writeRetryDelay = 30 * time.Second
)

type fire struct {
	job    *reminder.Job
	jitter time.Duration
}

// Service is the scheduler engine. Construct with New, inject the store
// and dispatcher, and drive it with Start/Stop.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	store store.Store
	disp  Dispatcher

	// owned by the coordinating loop
	h armedHeap

	reload chan struct{}
	queue  chan fire
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, st store.Store, disp Dispatcher, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		cfg:    cfg,
		store:  st,
		disp:   disp,
		reload: make(chan struct{}, 1),
	}
}

// Start loads the armed set from the store and begins the loop.
// Safe to call once; subsequent calls are no-ops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	if err := s.loadArmed(ctx); err != nil {
		return err
	}

	s.stopCh = make(chan struct{})
	s.queue = make(chan fire, s.cfg.QueueSize)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.loop(ctx)

	s.log.Info("engine started",
		logx.Int("armed", s.h.Len()),
		logx.Int("workers", s.cfg.Workers))
	return nil
}

// Stop halts the loop and waits for in-flight deliveries to settle.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify tells the loop that the store changed (create, edit, delete,
// pause, resume). The loop rebuilds its armed set, discarding any wake-up
// scheduled under stale values.
func (s *Service) Notify() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// loadArmed rebuilds the heap from the store. NextFire values persisted
// before a restart are kept as-is, even when past due: those fires were
// missed while the process was down and are delivered once on startup.
// Records with no future occurrence left are expired out of the store.
func (s *Service) loadArmed(ctx context.Context) error {
	active := false
	jobs, err := s.store.List(ctx, store.Filter{Paused: &active, Order: store.OrderID})
	if err != nil {
		return err
	}

	s.h = s.h[:0]
	for _, j := range jobs {
		if j.NextFire == nil {
			// Stale: recompute, persisting the refreshed value.
			upd, err := s.store.Update(ctx, j.ID, func(*reminder.Job) error { return nil })
			if err != nil {
				s.log.Error("failed to refresh job", logx.String("job", j.ID), logx.Err(err))
				continue
			}
			j = upd
		}
		if j.NextFire == nil {
			// No future occurrence: natural expiration.
			if err := s.store.Delete(ctx, j.ID); err != nil {
				s.log.Error("failed to expire job", logx.String("job", j.ID), logx.Err(err))
			} else {
				s.log.Info("expired job removed", logx.String("job", j.ID))
			}
			continue
		}
		s.h = append(s.h, armed{id: j.ID, at: *j.NextFire})
	}
	heap.Init(&s.h)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		wait := idleWait
		if s.h.Len() > 0 {
			if d := time.Until(s.h[0].at); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.reload:
			if err := s.loadArmed(ctx); err != nil {
				s.log.Error("failed to reload armed set", logx.Err(err))
			}
		case <-timer.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue pops and fires every entry whose deadline has passed, in
// ascending (next_fire_time, id) order. Entries that no longer match the
// store are stale and dropped or re-armed.
func (s *Service) fireDue(ctx context.Context) {
	now := time.Now()
	for s.h.Len() > 0 && !s.h[0].at.After(now) {
		entry := heap.Pop(&s.h).(armed)

		job, err := s.store.Get(ctx, entry.id)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted since arming
		}
		if err != nil {
			s.log.Error("failed to read due job", logx.String("job", entry.id), logx.Err(err))
			heap.Push(&s.h, armed{id: entry.id, at: now.Add(writeRetryDelay)})
			continue
		}
		if job.Paused || job.NextFire == nil {
			continue // paused since arming
		}
		if !job.NextFire.Equal(entry.at) {
			// Edited since arming; discard the stale wake-up.
			heap.Push(&s.h, armed{id: job.ID, at: *job.NextFire})
			continue
		}

		s.fireOne(ctx, job, now)
	}
}

// fireOne persists the post-fire state, then hands the delivery off.
// Persisting first trades an occasional missed fire on crash for never
// double-delivering in normal operation.
func (s *Service) fireOne(ctx context.Context, job *reminder.Job, now time.Time) {
	if job.OneShot() {
		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.log.Error("failed to complete one-shot job",
				logx.String("job", job.ID), logx.Err(err))
			heap.Push(&s.h, armed{id: job.ID, at: now.Add(writeRetryDelay)})
			return
		}
	} else {
		// The no-op mutator makes Update re-derive the next fire time from
		// now, advancing past every occurrence that elapsed meanwhile.
		upd, err := s.store.Update(ctx, job.ID, func(*reminder.Job) error { return nil })
		if err != nil {
			s.log.Error("failed to advance recurring job",
				logx.String("job", job.ID), logx.Err(err))
			heap.Push(&s.h, armed{id: job.ID, at: now.Add(writeRetryDelay)})
			return
		}
		if upd.NextFire != nil {
			heap.Push(&s.h, armed{id: upd.ID, at: *upd.NextFire})
			s.log.Debug("recurring job advanced",
				logx.String("job", upd.ID), logx.Time("next", *upd.NextFire))
		} else {
			if err := s.store.Delete(ctx, upd.ID); err != nil {
				s.log.Error("failed to expire recurring job",
					logx.String("job", upd.ID), logx.Err(err))
			} else {
				s.log.Info("recurring job ran off its end bound", logx.String("job", upd.ID))
			}
		}
	}

	var jitter time.Duration
	if maxJ := job.Trigger.Jitter(); maxJ > 0 {
		jitter = time.Duration(rand.Int63n(int64(maxJ)))
	}

	select {
	case s.queue <- fire{job: job.Clone(), jitter: jitter}:
	default:
		s.log.Error("dispatch queue full, delivery dropped",
			logx.String("job", job.ID),
			logx.String("target", job.Payload.Target()))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f := <-s.queue:
			s.deliver(ctx, f, stopCh)
		}
	}
}

func (s *Service) deliver(ctx context.Context, f fire, stopCh chan struct{}) {
	if f.jitter > 0 {
		t := time.NewTimer(f.jitter)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		case <-stopCh:
			t.Stop()
			return
		}
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := s.disp.Deliver(dctx, f.job.Payload)
	if err != nil {
		// Logged with full context; the webhook sink alerts operators.
		// Never retried: at-least-once applies to the schedule, not to
		// individual deliveries.
		s.log.Error("delivery failed",
			logx.String("job", f.job.ID),
			logx.String("target", f.job.Payload.Target()),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Info("reminder delivered",
		logx.String("job", f.job.ID),
		logx.String("target", f.job.Payload.Target()),
		logx.Duration("took", time.Since(start)))
}
