package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	EventSlotCreated = "SLOT_CREATED"
	EventSlotBooked  = "SLOT_BOOKED"
)

const microsPerMinute = int64(time.Minute / time.Microsecond)

const slotColumns = `id, doctor_id, slot_date, start_time, end_time, booked, patient_id, created_at, booked_at`

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func pgDate(d time.Time) pgtype.Date {
	return pgtype.Date{Time: DateOf(d), Valid: true}
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / microsPerMinute)
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date pgtype.Date
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&date,
		&start,
		&end,
		&s.Booked,
		&s.PatientID,
		&s.CreatedAt,
		&s.BookedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = date.Time
	s.Start = fromPgTime(start)
	s.End = fromPgTime(end)
	return &s, nil
}

// SlotStore

func (r *PgStore) Get(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE id = $1
	`, slotID)
	return scanSlot(row)
}

func (r *PgStore) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_slots
		WHERE doctor_id = $1
		  AND slot_date = $2
		ORDER BY start_time, id
	`, doctorID, pgDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgStore) DoctorsWithOpenSlots(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT doctor_id
		FROM doctor_slots
		WHERE slot_date = $1
		  AND NOT booked
	`, pgDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *PgStore) InsertMany(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows := make([][]any, len(slots))
		for i, s := range slots {
			rows[i] = []any{s.ID, s.DoctorID, pgDate(s.Date), pgTime(s.Start), pgTime(s.End), false, s.CreatedAt}
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"doctor_slots"},
			[]string{"id", "doctor_id", "slot_date", "start_time", "end_time", "booked", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy slots: %w", err)
		}
		if int(n) != len(slots) {
			return fmt.Errorf("copy slots: wrote %d of %d rows", n, len(slots))
		}

		batch := &pgx.Batch{}
		for _, s := range slots {
			batch.Queue(insertEventSQL, EventSlotCreated, s.ID, eventPayload(map[string]any{
				"doctor_id": s.DoctorID.String(),
				"date":      FormatDate(s.Date),
				"start":     s.Start.String(),
				"end":       s.End.String(),
			}))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert slot events: %w", err)
		}
		return nil
	})
}

// CompareAndBook relies on the row lock taken by UPDATE: a concurrent
// transaction blocks on it and then re-checks NOT booked against the
// committed row, so it matches zero rows.
func (r *PgStore) CompareAndBook(ctx context.Context, slotID, patientID uuid.UUID) (bool, error) {
	won := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE doctor_slots
			SET booked = true,
			    patient_id = $2,
			    booked_at = now()
			WHERE id = $1
			  AND NOT booked
		`, slotID, patientID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, insertEventSQL, EventSlotBooked, slotID, eventPayload(map[string]any{
			"patient_id": patientID.String(),
		}))
		if err != nil {
			return fmt.Errorf("insert slot event: %w", err)
		}

		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

const insertEventSQL = `
	INSERT INTO slot_events (event_type, slot_id, payload, created_at)
	VALUES ($1, $2, $3, now())
`

func eventPayload(payload map[string]any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}
