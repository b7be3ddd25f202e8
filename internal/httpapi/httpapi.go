// Package httpapi is the webhook and minimal admin HTTP surface,
// genericized off the carrier-specific handler shapes in the original
// call-control layer: route registration, form-decoded webhook
// payloads, and JSON admin endpoints, but speaking the carrier-neutral
// vocabulary and exact surface this system needs.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/birddigital/callbridge/internal/carrierrest"
	"github.com/birddigital/callbridge/internal/config"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/session"
	"github.com/birddigital/callbridge/internal/store"
)

// Handlers bundles everything the HTTP surface depends on: the session
// manager (webhook + media-stream dispatch), the call-session store
// (admin reads), the carrier REST client (outbound dialing), and the
// configuration (route paths and host; the media-stream URL handed back
// to the carrier is built from the request's Host and the WS path).
type Handlers struct {
	manager  *session.Manager
	store    *store.Store
	carrier  *carrierrest.Client
	cfg      *config.Config
	log      *logging.Logger
	validate *validator.Validate

	startedAt time.Time
}

// New builds a Handlers bundle.
func New(manager *session.Manager, st *store.Store, carrierClient *carrierrest.Client, cfg *config.Config, log *logging.Logger) *Handlers {
	return &Handlers{
		manager:   manager,
		store:     st,
		carrier:   carrierClient,
		cfg:       cfg,
		log:       log,
		validate:  validator.New(),
		startedAt: time.Now(),
	}
}

// Mux builds the registered http.Handler, wrapping every route (the
// admin routes included) in permissive CORS for browser-based dashboards.
func (h *Handlers) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(h.cfg.Server.WebhookPath, h.handleVoiceWebhook)
	mux.HandleFunc("/carrier/status", h.handleStatusWebhook)
	mux.HandleFunc(h.cfg.Server.WSPath, h.manager.ServeMediaStream)

	mux.HandleFunc("/api/call", h.handlePlaceCall)
	mux.HandleFunc("/api/calls", h.handleListCalls)
	mux.HandleFunc("/api/calls/", h.handleEndCall)
	mux.HandleFunc("/health", h.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// handleVoiceWebhook answers POST /carrier/voice: it tells the carrier
// to open a bidirectional media stream back to this process for the
// duration of the call, carrying the caller's prompt and call id as
// custom stream parameters.
func (h *Handlers) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callSID := r.FormValue("CallSid")
	if callSID == "" {
		h.log.Warn("httpapi: voice webhook missing CallSid")
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	prompt := ""
	if rec, err := h.store.GetByCarrierCallID(r.Context(), callSID); err == nil {
		prompt = rec.Prompt
	}

	scheme := "wss"
	wsURL := fmt.Sprintf("%s://%s%s", scheme, r.Host, h.cfg.Server.WSPath)

	markup, err := carrierrest.StreamMarkup(wsURL,
		carrierrest.StreamParam{Name: "call_sid", Value: callSID},
		carrierrest.StreamParam{Name: "prompt", Value: prompt},
	)
	if err != nil {
		h.log.Error("httpapi: build stream markup: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(markup)
}

// handleStatusWebhook answers POST /carrier/status: a fire-and-forget
// call-state notification. The session itself reconciles final status
// on teardown; this handler only updates the record for states the
// session may never see (e.g. no-answer, busy, a carrier-side cancel
// before any media stream ever connects).
func (h *Handlers) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callSID := r.FormValue("CallSid")
	callStatus := r.FormValue("CallStatus")
	if callSID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	status := mapCarrierStatus(callStatus)
	rec, err := h.store.GetByCarrierCallID(r.Context(), callSID)
	if err != nil {
		h.log.Debug("httpapi: status webhook for unknown call %s (%s)", callSID, callStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	if status.IsTerminal() && status != store.StatusCompleted {
		// A terminal state reached before the media stream ever ran
		// (no-answer, busy, carrier-side failure/cancel): the session
		// never started, so there is nothing for it to tear down.
		if err := h.store.UpdateStatus(r.Context(), rec.CallID, status, ""); err != nil {
			h.log.Warn("httpapi: update status from webhook: %v", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// mapCarrierStatus reconciles the carrier's own status vocabulary onto
// this system's state machine.
func mapCarrierStatus(carrierStatus string) store.Status {
	switch strings.ToLower(carrierStatus) {
	case "queued", "initiated":
		return store.StatusInitiating
	case "ringing":
		return store.StatusRinging
	case "answered", "in-progress":
		return store.StatusInProgress
	case "completed":
		return store.StatusCompleted
	case "busy":
		return store.StatusBusy
	case "no-answer":
		return store.StatusNoAnswer
	case "canceled", "cancelled":
		return store.StatusCanceled
	default:
		return store.StatusFailed
	}
}

type placeCallRequest struct {
	To        string                 `json:"to" validate:"required"`
	Prompt    string                 `json:"prompt"`
	WebhookURL string                `json:"webhook_url"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type placeCallResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handlePlaceCall answers POST /api/call: dials an outbound call and
// records a pending session the carrier's subsequent voice webhook and
// media stream will pick up by carrier call id.
func (h *Handlers) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, placeCallResponse{Success: false, Error: "method not allowed"})
		return
	}

	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, placeCallResponse{Success: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, placeCallResponse{Success: false, Error: err.Error()})
		return
	}

	webhookURL := req.WebhookURL
	if webhookURL == "" {
		webhookURL = fmt.Sprintf("https://%s%s", h.cfg.Server.Host, h.cfg.Server.WebhookPath)
	}

	call, err := h.carrier.PlaceCall(r.Context(), carrierrest.DialRequest{
		From:             h.cfg.Carrier.FromNumber,
		To:               req.To,
		AnswerWebhookURL: webhookURL,
		StatusCallback:   fmt.Sprintf("https://%s/carrier/status", h.cfg.Server.Host),
	})
	if err != nil {
		h.log.Error("httpapi: place call: %v", err)
		writeJSON(w, http.StatusBadGateway, placeCallResponse{Success: false, Error: err.Error()})
		return
	}

	callID := uuid.NewString()
	rec := &store.CallSession{
		CallID:        callID,
		CarrierCallID: call.SID,
		PeerNumber:    req.To,
		Prompt:        req.Prompt,
		Direction:     store.DirectionOutbound,
		Status:        store.StatusInitiating,
		StartTime:     time.Now(),
		Metadata:      req.Metadata,
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]interface{}{}
	}
	if err := h.store.Create(r.Context(), rec); err != nil {
		h.log.Error("httpapi: record outbound call: %v", err)
		writeJSON(w, http.StatusInternalServerError, placeCallResponse{Success: false, Error: "failed to record call"})
		return
	}

	writeJSON(w, http.StatusOK, placeCallResponse{Success: true, CallID: callID})
}

type callSummary struct {
	CallID    string `json:"call_id"`
	ToNumber  string `json:"to_number"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

type listCallsResponse struct {
	Calls []callSummary `json:"calls"`
	Count int           `json:"count"`
}

// handleListCalls answers GET /api/calls.
func (h *Handlers) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := h.store.List(r.Context(), 100)
	if err != nil {
		h.log.Error("httpapi: list calls: %v", err)
		writeJSON(w, http.StatusInternalServerError, listCallsResponse{})
		return
	}

	calls := make([]callSummary, 0, len(records))
	for _, rec := range records {
		calls = append(calls, callSummary{
			CallID:    rec.CallID,
			ToNumber:  rec.PeerNumber,
			Status:    string(rec.Status),
			Direction: string(rec.Direction),
		})
	}

	writeJSON(w, http.StatusOK, listCallsResponse{Calls: calls, Count: len(calls)})
}

type endCallResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// handleEndCall answers POST /api/calls/{id}/end.
func (h *Handlers) handleEndCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/end") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	callID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/calls/"), "/end")
	if callID == "" {
		writeJSON(w, http.StatusBadRequest, endCallResponse{Success: false, Error: "missing call id"})
		return
	}

	ended := h.manager.End(callID)
	if !ended {
		// Not a currently-bridged call; still record the caller's
		// intent to end it if a pending/ringing record exists.
		if rec, err := h.store.Get(r.Context(), callID); err == nil && !rec.Status.IsTerminal() {
			_ = h.store.UpdateStatus(r.Context(), callID, store.StatusCanceled, "ended via admin API")
			ended = true
		}
	}

	writeJSON(w, http.StatusOK, endCallResponse{Success: ended})
}

type healthResponse struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
}

// handleHealth answers GET /health.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ActiveCalls: h.manager.ActiveCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already written; nothing more to do but note it
		// would have happened during response encoding.
		fmt.Fprintf(w, `{"success":false,"error":"encode response"}`)
	}
}
