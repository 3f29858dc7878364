package reminder

import (
	"encoding/json"
	"fmt"
	"time"
)

// Triggers are persisted as a {kind, data} envelope so the store schema
// stays stable across variants.

type triggerEnvelope struct {
	Kind TriggerKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func MarshalTrigger(tr Trigger) ([]byte, error) {
	if tr == nil {
		return nil, fmt.Errorf("reminder: nil trigger")
	}
	data, err := json.Marshal(tr)
	if err != nil {
		return nil, err
	}
	return json.Marshal(triggerEnvelope{Kind: tr.Kind(), Data: data})
}

func UnmarshalTrigger(b []byte) (Trigger, error) {
	var env triggerEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var tr Trigger
	switch env.Kind {
	case TriggerDate:
		tr = &DateTrigger{}
	case TriggerCron:
		tr = &CronTrigger{}
	case TriggerInterval:
		tr = &IntervalTrigger{}
	default:
		return nil, fmt.Errorf("reminder: unknown trigger kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// ExportJob is the backup shape written by /remind backup.
type ExportJob struct {
	ID        string          `json:"id"`
	Trigger   json.RawMessage `json:"trigger"`
	Payload   Payload         `json:"payload"`
	Paused    bool            `json:"paused"`
	NextFire  *time.Time      `json:"next_fire,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Export renders jobs as indented JSON for operator backups.
func Export(jobs []*Job) ([]byte, error) {
	out := make([]ExportJob, 0, len(jobs))
	for _, j := range jobs {
		tb, err := MarshalTrigger(j.Trigger)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.ID, err)
		}
		out = append(out, ExportJob{
			ID:        j.ID,
			Trigger:   tb,
			Payload:   j.Payload,
			Paused:    j.Paused,
			NextFire:  j.NextFire,
			CreatedAt: j.CreatedAt,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}
