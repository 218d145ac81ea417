package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevianto/IOT/internal/config"
	"github.com/kevianto/IOT/internal/server"
)

type fakeIngestor struct {
	err      error
	payloads [][]byte
	schemas  []server.StreamSchema
}

func (ingestor *fakeIngestor) Ingest(_ context.Context, schema server.StreamSchema, raw []byte) (server.Reading, error) {
	ingestor.schemas = append(ingestor.schemas, schema)
	ingestor.payloads = append(ingestor.payloads, raw)
	if ingestor.err != nil {
		return server.Reading{}, ingestor.err
	}
	return server.Reading{Stream: schema.Stream}, nil
}

func newTestSource(ingestor Ingestor) *Source {
	return &Source{
		ingestor:     ingestor,
		logger:       zap.NewNop(),
		config:       config.MQTTConfig{Timeout: time.Second},
		vitalsSchema: server.VitalsSchemaV1,
	}
}

func TestHandleMessageFeedsPipeline(t *testing.T) {
	ingestor := &fakeIngestor{}
	source := newTestSource(ingestor)

	payload := []byte(`{"groupName":"A","temperature":21.5}`)
	source.handleMessage(server.TemperatureSchema, "sensors/temperature", payload)

	require.Len(t, ingestor.payloads, 1)
	require.Equal(t, payload, ingestor.payloads[0])
	require.Equal(t, server.StreamTemperature, ingestor.schemas[0].Stream)
}

func TestHandleMessageSwallowsIngestErrors(t *testing.T) {
	ingestor := &fakeIngestor{err: errors.New("missing field: ecg")}
	source := newTestSource(ingestor)

	require.NotPanics(t, func() {
		source.handleMessage(server.VitalsSchemaV1, "sensors/vitals", []byte(`{"bpm":72}`))
	})
	require.Len(t, ingestor.payloads, 1)
}
