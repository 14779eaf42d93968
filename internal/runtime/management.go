package runtime

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	errspkg "github.com/drblury/handlerflow/internal/runtime/errors"
	"github.com/drblury/handlerflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/handlerflow/internal/runtime/logging"
)

// DefaultManagementPort is used when ManagementPort is zero.
const DefaultManagementPort = 8081

// maxManagementBodyBytes bounds request bodies read by the management API.
const maxManagementBodyBytes = 1 << 20

type metadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

type metadataValue struct {
	Value *string `json:"value"`
}

type handlerSettingsPatch struct {
	LoggingEnabled *bool `json:"logging_enabled"`
	CountsEnabled  *bool `json:"counts_enabled"`
	StatsEnabled   *bool `json:"stats_enabled"`
	ShouldTrack    *bool `json:"should_track"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StartManagementServer mounts the management API when it is enabled. The
// server itself is started with the other HTTP servers in Start.
func (s *Service) StartManagementServer() {
	if !s.Conf.ManagementEnabled {
		return
	}

	port := s.Conf.ManagementPort
	if port == 0 {
		port = DefaultManagementPort
	}
	s.RegisterHTTPHandler(port, "/api/", s.ManagementHandler())
}

// ManagementHandler returns the management API.
func (s *Service) ManagementHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/handlers", s.handleGetHandlers)
	mux.HandleFunc("POST /api/handlers/reset", s.handleResetHandler)
	mux.HandleFunc("PUT /api/handlers/settings", s.handleHandlerSettings)
	mux.HandleFunc("GET /api/metadata", s.handleGetMetadata)
	mux.HandleFunc("PUT /api/metadata", s.handlePutMetadata)
	mux.HandleFunc("DELETE /api/metadata", s.handleRemoveMetadata)
	mux.HandleFunc("POST /api/metadata/put-if-absent", s.handlePutIfAbsentMetadata)
	mux.HandleFunc("GET /api/runtime", s.handleRuntime)
	return s.withCORS(mux)
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.ManagementCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Handlers())
}

func (s *Service) handleResetHandler(w http.ResponseWriter, r *http.Request) {
	core, ok := s.Handler(r.URL.Query().Get("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown handler"})
		return
	}
	core.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleHandlerSettings(w http.ResponseWriter, r *http.Request) {
	core, ok := s.Handler(r.URL.Query().Get("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown handler"})
		return
	}
	var patch handlerSettingsPatch
	if _, err := decodeBody(w, r, &patch); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if patch.LoggingEnabled != nil {
		core.SetLoggingEnabled(*patch.LoggingEnabled)
	}
	if patch.CountsEnabled != nil {
		core.SetCountsEnabled(*patch.CountsEnabled)
	}
	if patch.StatsEnabled != nil {
		core.SetStatsEnabled(*patch.StatsEnabled)
	}
	if patch.ShouldTrack != nil {
		core.SetShouldTrack(*patch.ShouldTrack)
	}
	s.writeJSON(w, http.StatusOK, core.Info())
}

func (s *Service) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	key := queryKey(r)
	value, found, err := s.store.GetNullable(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, metadataEntry{Key: *key, Value: value, Found: found})
}

func (s *Service) handlePutMetadata(w http.ResponseWriter, r *http.Request) {
	value, err := decodeMetadataValue(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.PutNullable(r.Context(), queryKey(r), value); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePutIfAbsentMetadata(w http.ResponseWriter, r *http.Request) {
	value, err := decodeMetadataValue(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	key := queryKey(r)
	existing, found, err := s.store.PutIfAbsentNullable(r.Context(), key, value)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if found {
		s.writeJSON(w, http.StatusOK, metadataEntry{Key: *key, Value: existing, Found: true})
		return
	}
	s.writeJSON(w, http.StatusCreated, metadataEntry{Key: *key, Value: *value})
}

func (s *Service) handleRemoveMetadata(w http.ResponseWriter, r *http.Request) {
	key := queryKey(r)
	previous, found, err := s.store.RemoveNullable(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metadataEntry{Key: *key, Value: previous, Found: found})
}

func (s *Service) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	usage := s.getResourceTracker().Snapshot()
	s.handlersMu.RLock()
	usage.Handlers = len(s.handlers)
	s.handlersMu.RUnlock()
	s.writeJSON(w, http.StatusOK, usage)
}

// queryKey returns nil when the key parameter is absent. An empty parameter
// is an empty key.
func queryKey(r *http.Request) *string {
	values, ok := r.URL.Query()["key"]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}

// decodeMetadataValue returns nil for an empty body, a missing value or a
// JSON null.
func decodeMetadataValue(w http.ResponseWriter, r *http.Request) (*string, error) {
	var body metadataValue
	empty, err := decodeBody(w, r, &body)
	if err != nil || empty {
		return nil, err
	}
	return body.Value, nil
}

// decodeBody reports an empty body instead of failing on it.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (bool, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxManagementBodyBytes))
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true, nil
	}
	return false, jsoncodec.DecodeStrict(bytes.NewReader(data), v)
}

func (s *Service) writeStoreError(w http.ResponseWriter, err error) {
	var invalid *errspkg.InvalidArgumentError
	if errors.As(err, &invalid) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: invalid.Error()})
		return
	}
	s.Logger.Error("Metadata store request failed", err, nil)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "metadata store unavailable"})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, body); err != nil {
		s.Logger.Error("Failed to encode management response", err, loggingpkg.LogFields{"status": status})
	}
}
