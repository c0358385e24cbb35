package db

import (
	"context"
	"database/sql"
	"time"
)

// Raid is one observed raid event awaiting (or past) its shoutout. Rows are
// never deleted: success, dead-lettering, and destination deactivation all
// flip Done.
type Raid struct {
	ID            int64
	FromID        string
	FromName      string
	ToID          string
	ToName        string
	ObservedAt    time.Time
	Done          bool
	Attempts      int
	NextAttemptAt sql.NullTime
	LastError     string
}

// InsertRaid records a raid notification as a pending shoutout. No
// deduplication: a redelivered event makes a second row.
func InsertRaid(ctx context.Context, dbx *sql.DB, r *Raid) error {
	return dbx.QueryRowContext(ctx,
		`INSERT INTO raids(from_id, from_name, to_id, to_name, observed_at, done)
		 VALUES($1,$2,$3,$4,$5,FALSE) RETURNING id`,
		r.FromID, r.FromName, r.ToID, r.ToName, r.ObservedAt).Scan(&r.ID)
}

// ListDueRaids returns pending raids whose next attempt is due, grouped by
// destination with the most recent raid first within each group.
func ListDueRaids(ctx context.Context, dbx *sql.DB, now time.Time) ([]Raid, error) {
	rows, err := dbx.QueryContext(ctx,
		`SELECT id, from_id, COALESCE(from_name,''), to_id, COALESCE(to_name,''), observed_at, done, attempts, next_attempt_at, COALESCE(last_error,'')
		 FROM raids
		 WHERE done=FALSE AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		 ORDER BY to_id, observed_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Raid
	for rows.Next() {
		var r Raid
		if err := rows.Scan(&r.ID, &r.FromID, &r.FromName, &r.ToID, &r.ToName, &r.ObservedAt, &r.Done, &r.Attempts, &r.NextAttemptAt, &r.LastError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRaidDone records a successful shoutout.
func MarkRaidDone(ctx context.Context, dbx *sql.DB, id int64) error {
	_, err := dbx.ExecContext(ctx, `UPDATE raids SET done=TRUE, last_error=NULL WHERE id=$1`, id)
	return err
}

// MarkRaidFailed records a failed attempt and schedules the next one.
func MarkRaidFailed(ctx context.Context, dbx *sql.DB, id int64, lastError string, nextAttempt time.Time) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE raids SET attempts=attempts+1, next_attempt_at=$1, last_error=$2 WHERE id=$3`,
		nextAttempt, lastError, id)
	return err
}

// DeadLetterRaid retires a raid that exhausted its attempts. The row is
// marked done so the sweep stops picking it up, with the final error kept
// for inspection.
func DeadLetterRaid(ctx context.Context, dbx *sql.DB, id int64, lastError string) error {
	_, err := dbx.ExecContext(ctx,
		`UPDATE raids SET done=TRUE, attempts=attempts+1, last_error=$1 WHERE id=$2`,
		lastError, id)
	return err
}

// SuppressRaidsFor marks every pending raid destined for the given user as
// done. Called when the destination credential is deactivated; the shoutout
// must never be sent on behalf of an unregistered user.
func SuppressRaidsFor(ctx context.Context, dbx *sql.DB, toID string) (int64, error) {
	res, err := dbx.ExecContext(ctx, `UPDATE raids SET done=TRUE WHERE to_id=$1 AND done=FALSE`, toID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountPendingRaids reports outbox depth for metrics.
func CountPendingRaids(ctx context.Context, dbx *sql.DB) (int, error) {
	var n int
	err := dbx.QueryRowContext(ctx, `SELECT COUNT(1) FROM raids WHERE done=FALSE`).Scan(&n)
	return n, err
}
