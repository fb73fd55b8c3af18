package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/audit"
	"github.com/radio-control/controlplane/internal/auth"
	"github.com/radio-control/controlplane/internal/logging"
)

const (
	basePath     = "/api/v1"
	maxBodyBytes = 64 << 10

	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// RegisterRoutes registers every /api/v1 endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(basePath+"/health", s.handleHealth)

	mux.HandleFunc(basePath+"/capabilities", s.protect(auth.ScopeRead, s.handleCapabilities))
	mux.HandleFunc(basePath+"/radios", s.protect(auth.ScopeRead, s.handleRadios))
	mux.HandleFunc(basePath+"/radios/select", s.protect(auth.ScopeControl, s.handleSelectRadio))
	mux.HandleFunc(basePath+"/radios/{id}", s.protect(auth.ScopeRead, s.handleRadioByID))
	mux.HandleFunc(basePath+"/radios/{id}/power", s.protectByMethod(s.handleRadioPower))
	mux.HandleFunc(basePath+"/radios/{id}/channel", s.protectByMethod(s.handleRadioChannel))

	mux.HandleFunc(basePath+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))
	mux.HandleFunc(basePath+"/telemetry/ws", s.protect(auth.ScopeTelemetry, s.handleTelemetryWS))

	auditHandler := s.handleAudit
	if s.auth != nil {
		auditHandler = s.auth.RequireAuth(s.auth.RequireRole(auth.RoleController)(auditHandler))
	}
	mux.HandleFunc(basePath+"/audit", auditHandler)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, adapter.New(adapter.CodeNotFound, ""))
	})
}

func (s *Server) protect(scope string, next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	return s.auth.Protect(scope, next)
}

// protectByMethod requires read for GET and control for POST. Other
// methods fall through to the handler, which answers 405.
func (s *Server) protectByMethod(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	read := s.auth.Protect(auth.ScopeRead, next)
	control := s.auth.Protect(auth.ScopeControl, next)
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			read(w, r)
		case http.MethodPost:
			control(w, r)
		default:
			next(w, r)
		}
	}
}

// decodeStrict decodes exactly one JSON object with no unknown fields.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("Malformed JSON or unknown fields")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return badRequest("Trailing data after JSON object")
	}
	return nil
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	WriteError(w, r, methodNotAllowed(methods...))
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	subsystems := map[string]bool{
		"telemetry":    s.telemetry != nil,
		"orchestrator": s.orchestrator != nil,
		"radioManager": s.radios != nil,
		"audit":        true,
	}
	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    Version,
		"subsystems": subsystems,
	}
	if s.telemetry != nil {
		health["telemetryClients"] = s.telemetry.ClientCount()
	}
	if s.radios != nil {
		list := s.radios.List()
		health["radios"] = len(list.Items)
		health["activeRadioId"] = list.ActiveRadioID
	}

	for _, ok := range subsystems {
		if !ok {
			health["status"] = "degraded"
			err := adapter.New(adapter.CodeServiceDegraded, "One or more subsystems are unavailable")
			for k, v := range health {
				err = err.WithDetails(k, v)
			}
			WriteError(w, r, err)
			return
		}
	}
	WriteSuccess(w, r, health)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, r, map[string]interface{}{
		"telemetry": []string{"sse", "websocket"},
		"commands":  []string{"http-json"},
		"audit":     s.auditLog != nil,
		"version":   Version,
	})
}

func (s *Server) handleRadios(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, r, s.radios.List())
}

func (s *Server) handleSelectRadio(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req struct {
		RadioID string `json:"radioId"`
	}
	if err := decodeStrict(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.orchestrator.SelectRadio(r.Context(), req.RadioID); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]string{"activeRadioId": req.RadioID})
}

func (s *Server) handleRadioByID(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	radio, err := s.radios.GetRadio(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, radio)
}

func (s *Server) handleRadioPower(w http.ResponseWriter, r *http.Request) {
	radioID := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		state, err := s.orchestrator.GetState(r.Context(), radioID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteSuccess(w, r, map[string]interface{}{"powerDbm": state.PowerDbm})

	case http.MethodPost:
		var req struct {
			PowerDbm *float64 `json:"powerDbm"`
		}
		if err := decodeStrict(w, r, &req); err != nil {
			WriteError(w, r, err)
			return
		}
		if req.PowerDbm == nil {
			WriteError(w, r, badRequest("powerDbm is required"))
			return
		}
		if err := s.orchestrator.SetPower(r.Context(), radioID, *req.PowerDbm); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteSuccess(w, r, map[string]interface{}{"powerDbm": *req.PowerDbm})

	default:
		WriteError(w, r, methodNotAllowed(http.MethodGet, http.MethodPost))
	}
}

func (s *Server) handleRadioChannel(w http.ResponseWriter, r *http.Request) {
	radioID := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		state, err := s.orchestrator.GetState(r.Context(), radioID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteSuccess(w, r, s.channelView(radioID, state.FrequencyMhz, 0))

	case http.MethodPost:
		var req struct {
			ChannelIndex *int     `json:"channelIndex,omitempty"`
			FrequencyMhz *float64 `json:"frequencyMhz,omitempty"`
		}
		if err := decodeStrict(w, r, &req); err != nil {
			WriteError(w, r, err)
			return
		}

		switch {
		case req.FrequencyMhz != nil:
			// frequency wins when both are given
			if err := s.orchestrator.SetChannel(r.Context(), radioID, *req.FrequencyMhz); err != nil {
				WriteError(w, r, err)
				return
			}
			WriteSuccess(w, r, s.channelView(radioID, *req.FrequencyMhz, 0))

		case req.ChannelIndex != nil:
			if err := s.orchestrator.SetChannelByIndex(r.Context(), radioID, *req.ChannelIndex); err != nil {
				WriteError(w, r, err)
				return
			}
			freq, _ := s.radios.FrequencyFor(radioID, *req.ChannelIndex)
			WriteSuccess(w, r, s.channelView(radioID, freq, *req.ChannelIndex))

		default:
			WriteError(w, r, badRequest("Either channelIndex or frequencyMhz must be provided"))
		}

	default:
		WriteError(w, r, methodNotAllowed(http.MethodGet, http.MethodPost))
	}
}

// channelView renders a channel with a null index when the frequency is
// not in the radio's table.
func (s *Server) channelView(radioID string, frequencyMhz float64, index int) map[string]interface{} {
	if index == 0 {
		index = s.radios.ChannelIndexFor(radioID, frequencyMhz)
	}
	var channelIndex interface{}
	if index > 0 {
		channelIndex = index
	}
	return map[string]interface{}{"frequencyMhz": frequencyMhz, "channelIndex": channelIndex}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	// the stream outlives the server's write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.log.Warn("failed to clear write deadline", logging.Fields{"error": err})
	}
	s.telemetry.ServeSSE(w, r)
}

func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	s.telemetry.ServeWebSocket(w, r)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.auditLog == nil {
		WriteError(w, r, adapter.New(adapter.CodeNotImplemented, "Audit query requires the SQLite audit store"))
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditLimit {
			WriteError(w, r, badRequest("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	entries, err := s.auditLog.Recent(r.Context(), r.URL.Query().Get("radioId"), limit)
	if err != nil {
		s.log.Error("audit query failed", logging.Fields{"error": err})
		WriteError(w, r, adapter.New(adapter.CodeInternal, ""))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	WriteSuccess(w, r, map[string]interface{}{"items": entries})
}
