// Package httpapi is the presentation layer: the REST surface for order
// and operator actions plus the websocket endpoint partners connect to.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/partner-dispatch/internal/auth"
	"github.com/example/partner-dispatch/internal/dispatch"
	"github.com/example/partner-dispatch/internal/errs"
	"github.com/example/partner-dispatch/internal/ingest"
	"github.com/example/partner-dispatch/internal/models"
	"github.com/example/partner-dispatch/internal/monitor"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/profile"
	"github.com/example/partner-dispatch/internal/push"
	"github.com/example/partner-dispatch/internal/verify"
)

// defaultRadiusKm applies when a dispatch request omits the search radius.
const defaultRadiusKm = 10

// Deps carries everything the server fronts.
type Deps struct {
	Pool        pool.Store
	Coordinator *dispatch.Coordinator
	Gate        *verify.Gate
	Sweeper     *monitor.Sweeper
	Hub         *push.Hub
	Profiles    profile.Store
	Verifier    *auth.Verifier
	Publisher   ingest.Publisher
	Sampler     *ingest.Sampler
	Logger      *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/dispatch", s.handleDispatch).Methods("POST")
	api.HandleFunc("/orders/{order_id}/respond", s.handleRespond).Methods("POST")
	api.HandleFunc("/orders/{order_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/orders/{order_id}/codes", s.handleIssueCode).Methods("POST")
	api.HandleFunc("/orders/{order_id}/verify", s.handleVerify).Methods("POST")
	api.HandleFunc("/partners/{partner_id}/availability", s.handleAvailability).Methods("POST")
	api.HandleFunc("/partners/{partner_id}/location", s.handleLocation).Methods("POST")
	api.HandleFunc("/partners/{partner_id}/force-offline", s.handleForceOffline).Methods("POST")

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type dispatchRequest struct {
	OrderID     string       `json:"order_id"`
	Pickup      models.Coord `json:"pickup"`
	VehicleType string       `json:"vehicle_type"`
	RadiusKm    float64      `json:"radius_km"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RadiusKm <= 0 {
		req.RadiusKm = defaultRadiusKm
	}
	if req.VehicleType == "" {
		req.VehicleType = models.VehicleAny
	}
	status, err := s.deps.Coordinator.Dispatch(r.Context(), req.OrderID, req.Pickup, req.VehicleType, req.RadiusKm)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if status == models.StatusExhausted {
		writeJSON(w, map[string]any{"order_id": req.OrderID, "status": "no_coverage"})
		return
	}
	writeJSON(w, map[string]any{"order_id": req.OrderID, "status": status})
}

type respondRequest struct {
	PartnerID string `json:"partner_id"`
	Accept    bool   `json:"accept"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.deps.Coordinator.Respond(r.Context(), orderID, req.PartnerID, req.Accept)
	if errors.Is(err, errs.ErrStale) {
		// A late response lost a race it was always allowed to lose.
		writeJSON(w, map[string]any{"order_id": orderID, "status": "stale_offer"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"order_id": orderID, "status": "ok"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	if err := s.deps.Coordinator.Cancel(r.Context(), orderID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"order_id": orderID, "status": "cancelled"})
}

type codeRequest struct {
	Phase models.VerificationPhase `json:"phase"`
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	code, err := s.deps.Gate.IssueCode(r.Context(), orderID, req.Phase)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"order_id": orderID, "phase": req.Phase, "code": code})
}

type verifyRequest struct {
	Phase     models.VerificationPhase `json:"phase"`
	Code      string                   `json:"code"`
	PartnerID string                   `json:"partner_id"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Gate.Verify(r.Context(), orderID, req.PartnerID, req.Phase, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"order_id": orderID, "phase": req.Phase, "status": req.Phase.Status()})
}

type availabilityRequest struct {
	Available   bool         `json:"available"`
	Loc         models.Coord `json:"location"`
	VehicleType string       `json:"vehicle_type"`
	Name        string       `json:"name"`
	Phone       string       `json:"phone"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	partnerID := mux.Vars(r)["partner_id"]
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.setAvailability(r.Context(), partnerID, req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"partner_id": partnerID, "available": req.Available})
}

type locationRequest struct {
	Loc     models.Coord `json:"location"`
	OrderID string       `json:"order_id"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	partnerID := mux.Vars(r)["partner_id"]
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	registered, err := s.recordLocation(r.Context(), partnerID, req.Loc, req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"partner_id": partnerID, "registered": registered})
}

func (s *Server) handleForceOffline(w http.ResponseWriter, r *http.Request) {
	partnerID := mux.Vars(r)["partner_id"]
	if err := s.deps.Sweeper.ForceOffline(r.Context(), partnerID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"partner_id": partnerID, "status": "offline"})
}

// writeError maps the error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrCodeMismatch):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("unclassified handler error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
