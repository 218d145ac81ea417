package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type StreamKind string

const (
	StreamTemperature StreamKind = "temperature"
	StreamVitals      StreamKind = "vitals"
)

// MaxRetained is the hard cap on live rows kept per stream.
const MaxRetained = 100

// Reading is one accepted sensor sample. Which fields are set depends on the
// stream: temperature readings carry GroupName and Temperature, vitals
// readings carry ECG/BPM/RR/HRV and optionally Temperature. RecordedAt is
// assigned by the server at ingestion time, never by the client.
type Reading struct {
	ID          int64
	Stream      StreamKind
	GroupName   string
	Temperature *float64
	ECG         *float64
	BPM         *float64
	RR          *float64
	HRV         *float64
	RecordedAt  time.Time
}

// MarshalJSON emits the wire frame pushed to subscribers and returned from
// the latest endpoint: the stream's fields plus an ISO-8601 timestamp.
func (reading Reading) MarshalJSON() ([]byte, error) {
	frame := map[string]any{
		"timestamp": reading.RecordedAt.UTC().Format(time.RFC3339),
	}

	switch reading.Stream {
	case StreamTemperature:
		frame["groupName"] = reading.GroupName
		if reading.Temperature != nil {
			frame["temperature"] = *reading.Temperature
		}
	case StreamVitals:
		if reading.ECG != nil {
			frame["ecg"] = *reading.ECG
		}
		if reading.BPM != nil {
			frame["bpm"] = *reading.BPM
		}
		if reading.RR != nil {
			frame["rr"] = *reading.RR
		}
		if reading.HRV != nil {
			frame["hrv"] = *reading.HRV
		}
		if reading.Temperature != nil {
			frame["temperature"] = *reading.Temperature
		}
	default:
		return nil, fmt.Errorf("unknown stream kind: %s", reading.Stream)
	}

	return json.Marshal(frame)
}

// StreamSchema enumerates the payload fields for one stream version.
// Required fields must be present and non-null; unknown keys are ignored the
// way the device firmware expects.
type StreamSchema struct {
	Stream   StreamKind
	Required []string
	Optional []string
}

// TemperatureSchema covers `{groupName, temperature}` submissions from the
// ESP32 temperature groups.
var TemperatureSchema = StreamSchema{
	Stream:   StreamTemperature,
	Required: []string{"groupName", "temperature"},
}

// VitalsSchemaV1 is the early vitals payload where devices without a skin
// probe omit temperature.
var VitalsSchemaV1 = StreamSchema{
	Stream:   StreamVitals,
	Required: []string{"ecg", "bpm", "rr", "hrv"},
	Optional: []string{"temperature"},
}

// VitalsSchemaV2 requires temperature on every vitals submission.
var VitalsSchemaV2 = StreamSchema{
	Stream:   StreamVitals,
	Required: []string{"ecg", "bpm", "rr", "hrv", "temperature"},
}

// MissingFieldError reports a required payload field that was absent or null.
type MissingFieldError struct {
	Field string
}

func (err *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field: %s", err.Field)
}

// DecodeReading validates raw against schema and builds the Reading. Fields
// present with zero values are accepted; only absent or null required fields
// fail. The returned reading has no timestamp yet.
func DecodeReading(raw []byte, schema StreamSchema) (Reading, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("invalid json payload: %w", err)
	}

	for _, field := range schema.Required {
		value, present := payload[field]
		if !present || value == nil {
			return Reading{}, &MissingFieldError{Field: field}
		}
	}

	reading := Reading{Stream: schema.Stream}

	switch schema.Stream {
	case StreamTemperature:
		groupName, err := parseStringField(payload, "groupName")
		if err != nil {
			return Reading{}, err
		}
		temperature, err := parseFloatField(payload, "temperature")
		if err != nil {
			return Reading{}, err
		}
		reading.GroupName = groupName
		reading.Temperature = &temperature

	case StreamVitals:
		for _, assign := range []struct {
			field  string
			target **float64
		}{
			{"ecg", &reading.ECG},
			{"bpm", &reading.BPM},
			{"rr", &reading.RR},
			{"hrv", &reading.HRV},
			{"temperature", &reading.Temperature},
		} {
			value, present := payload[assign.field]
			if !present || value == nil {
				continue
			}
			parsed, err := parseFloat(value)
			if err != nil {
				return Reading{}, fmt.Errorf("invalid field %s: %w", assign.field, err)
			}
			*assign.target = &parsed
		}

	default:
		return Reading{}, fmt.Errorf("unknown stream kind: %s", schema.Stream)
	}

	return reading, nil
}

func parseStringField(payload map[string]any, key string) (string, error) {
	value, ok := payload[key]
	if !ok {
		return "", &MissingFieldError{Field: key}
	}

	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("invalid field %s: expected string, got %T", key, value)
	}
	return text, nil
}

func parseFloatField(payload map[string]any, key string) (float64, error) {
	value, ok := payload[key]
	if !ok {
		return 0, &MissingFieldError{Field: key}
	}

	parsed, err := parseFloat(value)
	if err != nil {
		return 0, fmt.Errorf("invalid field %s: %w", key, err)
	}
	return parsed, nil
}

func parseFloat(value any) (float64, error) {
	switch typed := value.(type) {
	case json.Number:
		return typed.Float64()
	case string:
		return strconv.ParseFloat(typed, 64)
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", value)
	}
}
