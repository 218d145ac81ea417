package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ingestor runs one submission end to end: validate, persist, trim the
// retention window, broadcast. Only durably accepted readings are broadcast.
type Ingestor struct {
	store       ReadingStore
	hub         *streamHub
	logger      *zap.Logger
	metrics     *Metrics
	maxRetained int
	now         func() time.Time

	// One lock per stream serializes insert-then-trim so concurrent
	// ingestions cannot both observe count > cap and jointly over-evict.
	locks map[StreamKind]*sync.Mutex
}

func NewIngestor(store ReadingStore, hub *streamHub, logger *zap.Logger, metrics *Metrics, maxRetained int) *Ingestor {
	if maxRetained <= 0 {
		maxRetained = MaxRetained
	}

	return &Ingestor{
		store:       store,
		hub:         hub,
		logger:      logger,
		metrics:     metrics,
		maxRetained: maxRetained,
		now:         time.Now,
		locks: map[StreamKind]*sync.Mutex{
			StreamTemperature: {},
			StreamVitals:      {},
		},
	}
}

// Ingest validates raw against schema, persists the reading with a server
// timestamp, evicts past the retention cap and broadcasts the frame. It
// returns a *ValidationError before any side effect, or a *StorageError if
// the insert or trim fails; a storage failure suppresses the broadcast.
func (ingestor *Ingestor) Ingest(ctx context.Context, schema StreamSchema, raw []byte) (Reading, error) {
	reading, err := DecodeReading(raw, schema)
	if err != nil {
		ingestor.metrics.ValidationFailures.WithLabelValues(string(schema.Stream)).Inc()
		return Reading{}, &ValidationError{Err: err}
	}

	reading.RecordedAt = ingestor.now().UTC()

	stored, err := ingestor.insertAndTrim(ctx, reading)
	if err != nil {
		ingestor.metrics.StorageFailures.Inc()
		ingestor.logger.Error("ingest storage failure",
			zap.String("stream", string(schema.Stream)),
			zap.Error(err),
		)
		return Reading{}, err
	}

	frame, err := json.Marshal(stored)
	if err != nil {
		// The reading is already retained; a marshal failure only skips
		// the broadcast.
		ingestor.logger.Error("marshal broadcast frame", zap.Error(err))
		return stored, nil
	}

	ingestor.hub.publish(frame)
	ingestor.metrics.ReadingsIngested.WithLabelValues(string(schema.Stream)).Inc()
	ingestor.logger.Debug("reading ingested",
		zap.String("stream", string(schema.Stream)),
		zap.Int64("id", stored.ID),
	)

	return stored, nil
}

func (ingestor *Ingestor) insertAndTrim(ctx context.Context, reading Reading) (Reading, error) {
	lock := ingestor.locks[reading.Stream]
	lock.Lock()
	defer lock.Unlock()

	stored, err := ingestor.store.Insert(ctx, reading)
	if err != nil {
		return Reading{}, &StorageError{Op: "insert", Err: err}
	}

	count, err := ingestor.store.CountLive(ctx, reading.Stream)
	if err != nil {
		return Reading{}, &StorageError{Op: "count", Err: err}
	}

	if excess := count - ingestor.maxRetained; excess > 0 {
		if err := ingestor.store.EvictOldest(ctx, reading.Stream, excess); err != nil {
			return Reading{}, &StorageError{Op: "evict", Err: err}
		}
	}

	return stored, nil
}
