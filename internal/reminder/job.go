package reminder

import "time"

// Job is the persisted description of one scheduled reminder.
type Job struct {
	ID      string
	Trigger Trigger
	Payload Payload

	// GuildID is the guild the reminder was created in. DM payloads also
	// carry their own guild reference; this one exists so channel reminders
	// are listable per guild.
	GuildID string

	// Paused jobs stay in the store but are excluded from trigger
	// evaluation until unpaused.
	Paused bool

	// NextFire caches the next nominal fire time. Nil while paused or when
	// the trigger has no future occurrence. Recomputed after every fire
	// and after every edit.
	NextFire *time.Time

	CreatedAt time.Time
}

// Recompute refreshes NextFire from the trigger definition, honoring the
// paused flag.
func (j *Job) Recompute(now time.Time) {
	if j.Paused {
		j.NextFire = nil
		return
	}
	if next, ok := j.Trigger.NextAfter(now); ok {
		j.NextFire = &next
	} else {
		j.NextFire = nil
	}
}

// OneShot reports whether the job is removed after a successful fire.
func (j *Job) OneShot() bool {
	return j.Trigger.Kind() == TriggerDate
}

// Clone returns a copy safe to hand across goroutines. Trigger values are
// never mutated after creation, so sharing the pointer is fine.
func (j *Job) Clone() *Job {
	cp := *j
	if j.NextFire != nil {
		t := *j.NextFire
		cp.NextFire = &t
	}
	return &cp
}
