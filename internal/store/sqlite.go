package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite-backed job store, creating the database file
// and schema as needed. Failing to open or migrate is fatal for the
// caller: the engine cannot start without its job table.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, job *reminder.Job) (string, error) {
	if err := job.Payload.Validate(); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.Recompute(time.Now())

	row, err := encodeJob(job)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, trigger_json, payload_json, guild_id, channel_id, user_id, paused, next_fire_ms, created_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		row.id, row.trigger, row.payload, row.guildID, row.channelID, row.userID,
		row.paused, row.nextFireMS, row.createdMS,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert %s: %v", ErrWrite, job.ID, err)
	}
	return job.ID, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*reminder.Job, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *sqliteStore) List(ctx context.Context, f Filter) ([]*reminder.Job, error) {
	q := selectCols + ` FROM jobs`
	var conds []string
	var args []any
	if f.GuildID != "" {
		conds = append(conds, "guild_id = ?")
		args = append(args, f.GuildID)
	}
	if f.ChannelID != "" {
		conds = append(conds, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Paused != nil {
		conds = append(conds, "paused = ?")
		args = append(args, boolInt(*f.Paused))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	switch f.Order {
	case OrderID:
		q += " ORDER BY id ASC"
	default:
		q += " ORDER BY next_fire_ms IS NULL, next_fire_ms ASC, id ASC"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*reminder.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Update(ctx context.Context, id string, mutate func(*reminder.Job) error) (*reminder.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrWrite, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := mutate(job); err != nil {
		return nil, err
	}
	if err := job.Payload.Validate(); err != nil {
		return nil, err
	}
	job.ID = id // the id is immutable
	job.Recompute(time.Now())

	enc, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET trigger_json=?, payload_json=?, guild_id=?, channel_id=?, user_id=?, paused=?, next_fire_ms=?
		 WHERE id=?`,
		enc.trigger, enc.payload, enc.guildID, enc.channelID, enc.userID,
		enc.paused, enc.nextFireMS, id,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: update %s: %v", ErrWrite, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit %s: %v", ErrWrite, id, err)
	}
	return job, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrWrite, id, err)
	}
	return nil
}

// ---- row codec ----

const selectCols = `SELECT id, trigger_json, payload_json, guild_id, paused, next_fire_ms, created_ms`

type jobRow struct {
	id         string
	trigger    string
	payload    string
	guildID    string
	channelID  string
	userID     string
	paused     int
	nextFireMS sql.NullInt64
	createdMS  int64
}

func encodeJob(j *reminder.Job) (jobRow, error) {
	tb, err := reminder.MarshalTrigger(j.Trigger)
	if err != nil {
		return jobRow{}, err
	}
	pb, err := json.Marshal(j.Payload)
	if err != nil {
		return jobRow{}, err
	}
	row := jobRow{
		id:        j.ID,
		trigger:   string(tb),
		payload:   string(pb),
		guildID:   j.GuildID,
		paused:    boolInt(j.Paused),
		createdMS: j.CreatedAt.UnixMilli(),
	}
	// Denormalized filter columns.
	switch j.Payload.Kind {
	case reminder.PayloadChannel:
		row.channelID = j.Payload.ChannelID
		row.userID = j.Payload.AuthorID
	case reminder.PayloadDM:
		row.userID = j.Payload.UserID
	}
	if j.NextFire != nil {
		row.nextFireMS = sql.NullInt64{Int64: j.NextFire.UnixMilli(), Valid: true}
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*reminder.Job, error) {
	var (
		id, triggerJSON, payloadJSON, guildID string
		paused                                int
		nextFireMS                            sql.NullInt64
		createdMS                             int64
	)
	if err := r.Scan(&id, &triggerJSON, &payloadJSON, &guildID, &paused, &nextFireMS, &createdMS); err != nil {
		return nil, err
	}

	tr, err := reminder.UnmarshalTrigger([]byte(triggerJSON))
	if err != nil {
		return nil, fmt.Errorf("store: job %s: %w", id, err)
	}
	var p reminder.Payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return nil, fmt.Errorf("store: job %s: %w", id, err)
	}

	job := &reminder.Job{
		ID:        id,
		Trigger:   tr,
		Payload:   p,
		GuildID:   guildID,
		Paused:    paused != 0,
		CreatedAt: time.UnixMilli(createdMS),
	}
	if nextFireMS.Valid {
		t := time.UnixMilli(nextFireMS.Int64)
		job.NextFire = &t
	}
	return job, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
