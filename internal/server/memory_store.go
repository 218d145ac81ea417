package server

import (
	"context"
	"sync"
)

// MemoryStore keeps readings and patients in process memory. It backs tests
// and database-less development runs; retention trimming is still driven by
// the ingestor, not done implicitly on insert.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	readings map[StreamKind][]Reading
	patients []Patient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{readings: make(map[StreamKind][]Reading)}
}

func (store *MemoryStore) Insert(_ context.Context, reading Reading) (Reading, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.nextID++
	reading.ID = store.nextID
	store.readings[reading.Stream] = append(store.readings[reading.Stream], reading)
	return reading, nil
}

func (store *MemoryStore) CountLive(_ context.Context, stream StreamKind) (int, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.readings[stream]), nil
}

func (store *MemoryStore) EvictOldest(_ context.Context, stream StreamKind, n int) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	live := store.readings[stream]
	if n <= 0 || len(live) == 0 {
		return nil
	}
	if n > len(live) {
		n = len(live)
	}
	store.readings[stream] = append([]Reading(nil), live[n:]...)
	return nil
}

func (store *MemoryStore) Latest(_ context.Context, stream StreamKind, limit int) ([]Reading, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	live := store.readings[stream]
	if limit <= 0 {
		limit = MaxRetained
	}
	if limit > len(live) {
		limit = len(live)
	}

	start := len(live) - limit
	output := make([]Reading, limit)
	copy(output, live[start:])
	return output, nil
}

func (store *MemoryStore) CreatePatient(_ context.Context, patient Patient) (Patient, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.nextID++
	patient.ID = store.nextID
	store.patients = append(store.patients, patient)
	return patient, nil
}

func (store *MemoryStore) ListPatients(_ context.Context, limit int) ([]Patient, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if limit <= 0 || limit > len(store.patients) {
		limit = len(store.patients)
	}

	output := make([]Patient, limit)
	copy(output, store.patients[:limit])
	return output, nil
}

func (store *MemoryStore) Ping(_ context.Context) error { return nil }

func (store *MemoryStore) Close() {}

var _ ReadingStore = (*MemoryStore)(nil)
var _ PatientStore = (*MemoryStore)(nil)
