package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type API struct {
	store             ReadingStore
	patients          PatientStore
	logger            *zap.Logger
	metrics           *Metrics
	registry          *prometheus.Registry
	hub               *streamHub
	ingestor          *Ingestor
	vitalsSchema      StreamSchema
	limiter           *submitLimiter
	trustProxyHeaders bool
	upgrader          websocket.Upgrader
}

type apiConfig struct {
	maxRetained       int
	vitalsSchema      StreamSchema
	rateLimit         int
	rateWindow        time.Duration
	trustProxyHeaders bool
	registry          *prometheus.Registry
}

type APIOption func(*apiConfig)

// WithMaxRetained overrides the retention cap (default MaxRetained).
func WithMaxRetained(maxRetained int) APIOption {
	return func(config *apiConfig) { config.maxRetained = maxRetained }
}

// WithVitalsSchema selects the vitals payload version served on /ecg.
func WithVitalsSchema(schema StreamSchema) APIOption {
	return func(config *apiConfig) { config.vitalsSchema = schema }
}

// WithRateLimit enables per-client fixed-window limiting on POST endpoints.
func WithRateLimit(limit int, window time.Duration) APIOption {
	return func(config *apiConfig) {
		config.rateLimit = limit
		config.rateWindow = window
	}
}

func WithTrustProxyHeaders(trust bool) APIOption {
	return func(config *apiConfig) { config.trustProxyHeaders = trust }
}

// WithMetricsRegistry supplies the Prometheus registry backing /metrics.
func WithMetricsRegistry(registry *prometheus.Registry) APIOption {
	return func(config *apiConfig) { config.registry = registry }
}

func NewAPI(store ReadingStore, patients PatientStore, logger *zap.Logger, options ...APIOption) *API {
	config := apiConfig{
		maxRetained:  MaxRetained,
		vitalsSchema: VitalsSchemaV2,
	}
	for _, option := range options {
		option(&config)
	}
	if config.registry == nil {
		config.registry = prometheus.NewRegistry()
	}

	metrics := NewMetrics(config.registry)
	hub := newStreamHub(logger, metrics)

	api := &API{
		store:             store,
		patients:          patients,
		logger:            logger,
		metrics:           metrics,
		registry:          config.registry,
		hub:               hub,
		ingestor:          NewIngestor(store, hub, logger, metrics, config.maxRetained),
		vitalsSchema:      config.vitalsSchema,
		trustProxyHeaders: config.trustProxyHeaders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	if config.rateLimit > 0 {
		api.limiter = newSubmitLimiter(config.rateLimit, config.rateWindow)
	}

	return api
}

// Ingestor exposes the pipeline so alternative sources (MQTT) can feed it.
func (api *API) Ingestor() *Ingestor {
	return api.ingestor
}

func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", api.handleRoot)
	mux.HandleFunc("/health", api.handleHealth)
	mux.HandleFunc("/ready", api.handleReady)
	mux.HandleFunc("/temperature", api.handleTemperature)
	mux.HandleFunc("/ecg", api.handleECG)
	mux.HandleFunc("/ecg/latest", api.handleECGLatest)
	mux.HandleFunc("/patient", api.handlePatient)
	mux.HandleFunc("/patients", api.handlePatients)
	mux.HandleFunc("/ws", api.handleStream)
	mux.Handle("/metrics", promhttp.HandlerFor(api.registry, promhttp.HandlerOpts{}))
	return mux
}

func (api *API) handleRoot(response http.ResponseWriter, request *http.Request) {
	if request.URL.Path != "/" {
		http.NotFound(response, request)
		return
	}
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	response.WriteHeader(http.StatusOK)
	fmt.Fprint(response, "IOT sensor relay is running")
}

func (api *API) handleHealth(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records, err := api.store.CountLive(request.Context(), StreamVitals)
	if err != nil {
		writeError(response, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	writeJSON(response, http.StatusOK, map[string]any{
		"status":      "ok",
		"records":     records,
		"subscribers": api.hub.subscriberCount(),
	})
}

func (api *API) handleReady(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := api.store.Ping(request.Context()); err != nil {
		writeError(response, http.StatusServiceUnavailable, "not ready")
		return
	}

	writeJSON(response, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (api *API) handleTemperature(response http.ResponseWriter, request *http.Request) {
	api.handleIngest(response, request, TemperatureSchema, "Temperature received and broadcasted")
}

func (api *API) handleECG(response http.ResponseWriter, request *http.Request) {
	api.handleIngest(response, request, api.vitalsSchema, "Vitals received and broadcasted")
}

func (api *API) handleIngest(response http.ResponseWriter, request *http.Request, schema StreamSchema, message string) {
	if request.Method != http.MethodPost {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !api.allowSubmission(request) {
		writeError(response, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	request.Body = http.MaxBytesReader(response, request.Body, 1<<20)
	payload, err := io.ReadAll(request.Body)
	if err != nil {
		writeError(response, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := api.ingestor.Ingest(request.Context(), schema, payload); err != nil {
		var validation *ValidationError
		if errors.As(err, &validation) {
			writeError(response, http.StatusBadRequest, validation.Error())
			return
		}
		writeError(response, http.StatusInternalServerError, "failed to persist reading")
		return
	}

	writeJSON(response, http.StatusOK, map[string]string{"message": message})
}

func (api *API) handleECGLatest(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := MaxRetained
	if rawLimit := request.URL.Query().Get("limit"); rawLimit != "" {
		parsedLimit, err := strconv.Atoi(rawLimit)
		if err != nil || parsedLimit < 1 || parsedLimit > MaxRetained {
			writeError(response, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", MaxRetained))
			return
		}
		limit = parsedLimit
	}

	readings, err := api.store.Latest(request.Context(), StreamVitals, limit)
	if err != nil {
		api.logger.Error("read latest readings", zap.Error(err))
		writeError(response, http.StatusInternalServerError, "failed to read data")
		return
	}

	writeJSON(response, http.StatusOK, readings)
}

func (api *API) handlePatient(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !api.allowSubmission(request) {
		writeError(response, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	request.Body = http.MaxBytesReader(response, request.Body, 1<<20)
	payload, err := io.ReadAll(request.Body)
	if err != nil {
		writeError(response, http.StatusBadRequest, "invalid request body")
		return
	}

	patient, err := decodePatient(payload)
	if err != nil {
		writeError(response, http.StatusBadRequest, err.Error())
		return
	}

	patient.PatientCode = NewPatientCode()
	patient.CreatedAt = time.Now().UTC()

	created, err := api.patients.CreatePatient(request.Context(), patient)
	if err != nil {
		api.logger.Error("create patient", zap.Error(err))
		writeError(response, http.StatusInternalServerError, "failed to persist patient")
		return
	}

	writeJSON(response, http.StatusCreated, map[string]string{
		"message":     "Patient registered",
		"patientCode": created.PatientCode,
	})
}

func (api *API) handlePatients(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	patients, err := api.patients.ListPatients(request.Context(), 100)
	if err != nil {
		api.logger.Error("list patients", zap.Error(err))
		writeError(response, http.StatusInternalServerError, "failed to read data")
		return
	}

	writeJSON(response, http.StatusOK, patients)
}

func (api *API) handleStream(response http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writeError(response, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	conn, err := api.upgrader.Upgrade(response, request, nil)
	if err != nil {
		api.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	api.logger.Info("push subscriber connected", zap.String("remote", request.RemoteAddr))
	api.hub.servePush(conn, websocket.TextMessage)
	api.logger.Info("push subscriber disconnected", zap.String("remote", request.RemoteAddr))
}

func (api *API) allowSubmission(request *http.Request) bool {
	if api.limiter == nil {
		return true
	}
	return api.limiter.Allow(clientIdentity(request, api.trustProxyHeaders), time.Now())
}

var patientFields = []string{"name", "age", "gender"}

func decodePatient(raw []byte) (Patient, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Patient{}, fmt.Errorf("invalid json payload: %w", err)
	}

	for _, field := range patientFields {
		value, present := payload[field]
		if !present || value == nil {
			return Patient{}, &MissingFieldError{Field: field}
		}
	}

	name, err := parseStringField(payload, "name")
	if err != nil {
		return Patient{}, err
	}
	gender, err := parseStringField(payload, "gender")
	if err != nil {
		return Patient{}, err
	}
	age, err := parseFloatField(payload, "age")
	if err != nil {
		return Patient{}, err
	}

	return Patient{Name: name, Age: int(age), Gender: gender}, nil
}

func writeJSON(response http.ResponseWriter, statusCode int, payload any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(statusCode)
	_ = json.NewEncoder(response).Encode(payload)
}

func writeError(response http.ResponseWriter, statusCode int, message string) {
	writeJSON(response, statusCode, map[string]string{"error": message})
}
