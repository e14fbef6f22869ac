package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory reads doctor and patient profiles owned by the registration
// flow. The Create methods exist for seeding and tests.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Email,
		&d.Approved,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func (r *PgDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT d.id, d.user_id, u.name, u.email, d.approved
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgDirectory) ApprovedDoctors(ctx context.Context, ids []uuid.UUID) ([]Doctor, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.user_id, u.name, u.email, d.approved
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = ANY($1::uuid[])
		  AND d.approved
		ORDER BY u.name, d.id
	`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

func (r *PgDirectory) DoctorIDByUserID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM doctors WHERE user_id = $1`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrDoctorNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PgDirectory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `SELECT id, user_id FROM patients WHERE id = $1`, id).Scan(&p.ID, &p.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgDirectory) PatientIDByUserID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM patients WHERE user_id = $1`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrPatientNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// CreateDoctor inserts a user with role Doctor and its profile.
func (r *PgDirectory) CreateDoctor(ctx context.Context, name, email string, approved bool) (*Doctor, error) {
	d := &Doctor{ID: uuid.New(), UserID: uuid.New(), Name: name, Email: email, Approved: approved}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, d.UserID, name, email, "Doctor"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, user_id, approved, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, d.ID, d.UserID, approved)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	return d, nil
}

// CreatePatient inserts a user with role Patient and its profile.
func (r *PgDirectory) CreatePatient(ctx context.Context, name, email string) (*Patient, error) {
	p := &Patient{ID: uuid.New(), UserID: uuid.New()}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, p.UserID, name, email, "Patient"); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, user_id, created_at)
			VALUES ($1, $2, now())
		`, p.ID, p.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

func insertUser(ctx context.Context, tx pgx.Tx, id uuid.UUID, name, email, role string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, id, name, email, role)
	return err
}
