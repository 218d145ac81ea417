package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (store *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS readings (
  id BIGSERIAL PRIMARY KEY,
  stream TEXT NOT NULL,
  group_name TEXT,
  temperature DOUBLE PRECISION,
  ecg DOUBLE PRECISION,
  bpm DOUBLE PRECISION,
  rr DOUBLE PRECISION,
  hrv DOUBLE PRECISION,
  recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_readings_stream_recorded_at ON readings(stream, recorded_at);

CREATE TABLE IF NOT EXISTS patients (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  age INTEGER NOT NULL,
  gender TEXT NOT NULL,
  patient_code TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

	_, err := store.pool.Exec(ctx, schema)
	return err
}

func (store *PostgresStore) Insert(ctx context.Context, reading Reading) (Reading, error) {
	const query = `
INSERT INTO readings (stream, group_name, temperature, ecg, bpm, rr, hrv, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id
`

	var groupName *string
	if reading.Stream == StreamTemperature {
		groupName = &reading.GroupName
	}

	err := store.pool.QueryRow(
		ctx,
		query,
		string(reading.Stream),
		groupName,
		reading.Temperature,
		reading.ECG,
		reading.BPM,
		reading.RR,
		reading.HRV,
		reading.RecordedAt,
	).Scan(&reading.ID)
	if err != nil {
		return Reading{}, err
	}

	return reading, nil
}

func (store *PostgresStore) CountLive(ctx context.Context, stream StreamKind) (int, error) {
	const query = `SELECT COUNT(*) FROM readings WHERE stream = $1`

	var count int
	if err := store.pool.QueryRow(ctx, query, string(stream)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EvictOldest deletes the n oldest rows of the stream by identity: the ids
// are resolved first, then deleted, so a concurrent insert cannot widen the
// deletion the way a recomputed time-range cutoff would.
func (store *PostgresStore) EvictOldest(ctx context.Context, stream StreamKind, n int) error {
	if n <= 0 {
		return nil
	}

	const selectQuery = `
SELECT id FROM readings
WHERE stream = $1
ORDER BY recorded_at ASC, id ASC
LIMIT $2
`

	rows, err := store.pool.Query(ctx, selectQuery, string(stream), n)
	if err != nil {
		return err
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	const deleteQuery = `DELETE FROM readings WHERE id = ANY($1)`
	_, err = store.pool.Exec(ctx, deleteQuery, ids)
	return err
}

func (store *PostgresStore) Latest(ctx context.Context, stream StreamKind, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = MaxRetained
	}

	const query = `
SELECT id, group_name, temperature, ecg, bpm, rr, hrv, recorded_at
FROM readings
WHERE stream = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2
`

	rows, err := store.pool.Query(ctx, query, string(stream), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		reading := Reading{Stream: stream}
		var groupName *string
		if err := rows.Scan(
			&reading.ID,
			&groupName,
			&reading.Temperature,
			&reading.ECG,
			&reading.BPM,
			&reading.RR,
			&reading.HRV,
			&reading.RecordedAt,
		); err != nil {
			return nil, err
		}
		if groupName != nil {
			reading.GroupName = *groupName
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for left, right := 0, len(readings)-1; left < right; left, right = left+1, right-1 {
		readings[left], readings[right] = readings[right], readings[left]
	}

	return readings, nil
}

func (store *PostgresStore) CreatePatient(ctx context.Context, patient Patient) (Patient, error) {
	const query = `
INSERT INTO patients (name, age, gender, patient_code, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`

	err := store.pool.QueryRow(
		ctx,
		query,
		patient.Name,
		patient.Age,
		patient.Gender,
		patient.PatientCode,
		patient.CreatedAt,
	).Scan(&patient.ID)
	if err != nil {
		return Patient{}, err
	}

	return patient, nil
}

func (store *PostgresStore) ListPatients(ctx context.Context, limit int) ([]Patient, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
SELECT id, name, age, gender, patient_code, created_at
FROM patients
ORDER BY id ASC
LIMIT $1
`

	rows, err := store.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patients := make([]Patient, 0, limit)
	for rows.Next() {
		var patient Patient
		if err := rows.Scan(
			&patient.ID,
			&patient.Name,
			&patient.Age,
			&patient.Gender,
			&patient.PatientCode,
			&patient.CreatedAt,
		); err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return patients, nil
}

func (store *PostgresStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return store.pool.Ping(pingCtx)
}

func (store *PostgresStore) Close() {
	store.pool.Close()
}

var _ ReadingStore = (*PostgresStore)(nil)
var _ PatientStore = (*PostgresStore)(nil)
