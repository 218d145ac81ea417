package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeTemperatureReading(t *testing.T) {
	reading, err := DecodeReading([]byte(`{"groupName":"A","temperature":22.5}`), TemperatureSchema)
	require.NoError(t, err)

	require.Equal(t, StreamTemperature, reading.Stream)
	require.Equal(t, "A", reading.GroupName)
	require.NotNil(t, reading.Temperature)
	require.Equal(t, 22.5, *reading.Temperature)
}

func TestDecodeReportsMissingRequiredField(t *testing.T) {
	_, err := DecodeReading([]byte(`{"groupName":"A"}`), TemperatureSchema)

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "temperature", missing.Field)
}

func TestDecodeTreatsNullAsMissing(t *testing.T) {
	_, err := DecodeReading([]byte(`{"groupName":null,"temperature":21}`), TemperatureSchema)

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "groupName", missing.Field)
}

func TestDecodeAcceptsZeroValues(t *testing.T) {
	reading, err := DecodeReading([]byte(`{"groupName":"","temperature":0}`), TemperatureSchema)
	require.NoError(t, err)
	require.Equal(t, "", reading.GroupName)
	require.Equal(t, 0.0, *reading.Temperature)

	vitals, err := DecodeReading([]byte(`{"ecg":0,"bpm":0,"rr":0,"hrv":0}`), VitalsSchemaV1)
	require.NoError(t, err)
	require.Equal(t, 0.0, *vitals.BPM)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	reading, err := DecodeReading([]byte(`{"groupName":"A","temperature":21,"deviceId":"esp32-7"}`), TemperatureSchema)
	require.NoError(t, err)
	require.Equal(t, "A", reading.GroupName)

	// A client-supplied timestamp is ignored too; the server assigns its own.
	reading, err = DecodeReading([]byte(`{"groupName":"A","temperature":21,"timestamp":"2020-01-01T00:00:00Z"}`), TemperatureSchema)
	require.NoError(t, err)
	require.True(t, reading.RecordedAt.IsZero())
}

func TestVitalsSchemaVersionsDisagreeOnTemperature(t *testing.T) {
	payload := []byte(`{"ecg":0.4,"bpm":72,"rr":0.8,"hrv":40}`)

	reading, err := DecodeReading(payload, VitalsSchemaV1)
	require.NoError(t, err)
	require.Nil(t, reading.Temperature)

	_, err = DecodeReading(payload, VitalsSchemaV2)
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "temperature", missing.Field)
}

func TestDecodeAcceptsStringNumbers(t *testing.T) {
	reading, err := DecodeReading([]byte(`{"groupName":"B","temperature":"19.5"}`), TemperatureSchema)
	require.NoError(t, err)
	require.Equal(t, 19.5, *reading.Temperature)
}

func TestReadingFrameCarriesStreamFieldsAndTimestamp(t *testing.T) {
	temperature := 22.5
	reading := Reading{
		Stream:      StreamTemperature,
		GroupName:   "A",
		Temperature: &temperature,
		RecordedAt:  time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}

	frame, err := json.Marshal(reading)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	require.Equal(t, "A", decoded["groupName"])
	require.Equal(t, 22.5, decoded["temperature"])
	require.Equal(t, "2024-05-01T12:30:00Z", decoded["timestamp"])
}

func TestVitalsFrameOmitsAbsentTemperature(t *testing.T) {
	ecg, bpm, rr, hrv := 0.4, 72.0, 0.8, 40.0
	reading := Reading{
		Stream:     StreamVitals,
		ECG:        &ecg,
		BPM:        &bpm,
		RR:         &rr,
		HRV:        &hrv,
		RecordedAt: time.Now(),
	}

	frame, err := json.Marshal(reading)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	require.NotContains(t, decoded, "temperature")
	require.Equal(t, 72.0, decoded["bpm"])

	_, err = time.Parse(time.RFC3339, decoded["timestamp"].(string))
	require.NoError(t, err)
}
