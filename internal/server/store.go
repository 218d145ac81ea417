package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReadingStore is the retention store contract. Eviction must remove rows by
// identity so it cannot race a concurrent insert shifting the timestamp
// boundary; callers are responsible for serializing insert-then-trim.
// Latest returns up to limit readings oldest-first; a non-positive limit
// defaults to MaxRetained in every implementation.
type ReadingStore interface {
	Insert(ctx context.Context, reading Reading) (Reading, error)
	CountLive(ctx context.Context, stream StreamKind) (int, error)
	EvictOldest(ctx context.Context, stream StreamKind, n int) error
	Latest(ctx context.Context, stream StreamKind, limit int) ([]Reading, error)
	Ping(ctx context.Context) error
	Close()
}

// Patient is a registered device group member. PatientCode is handed back to
// the device on registration and used as its display identifier.
type Patient struct {
	ID          int64     `json:"-"`
	Name        string    `json:"name"`
	Age         int       `json:"age"`
	Gender      string    `json:"gender"`
	PatientCode string    `json:"patientCode"`
	CreatedAt   time.Time `json:"createdAt"`
}

type PatientStore interface {
	// CreatePatient persists the patient. The code is a truncated random
	// identifier and is NOT checked against existing rows; collisions are
	// possible and callers needing a unique key must use the row id.
	CreatePatient(ctx context.Context, patient Patient) (Patient, error)
	ListPatients(ctx context.Context, limit int) ([]Patient, error)
}

// NewPatientCode returns a 6-character uppercase identifier.
func NewPatientCode() string {
	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(compact[:6])
}

// ValidationError marks a submission rejected before any side effect.
type ValidationError struct {
	Err error
}

func (err *ValidationError) Error() string { return err.Err.Error() }

func (err *ValidationError) Unwrap() error { return err.Err }

// StorageError marks a persistence failure; the reading was not durably
// accepted (or its trim did not complete) and must not be broadcast.
type StorageError struct {
	Op  string
	Err error
}

func (err *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", err.Op, err.Err)
}

func (err *StorageError) Unwrap() error { return err.Err }
