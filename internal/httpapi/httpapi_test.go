package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/birddigital/callbridge/internal/carrierrest"
	"github.com/birddigital/callbridge/internal/config"
	"github.com/birddigital/callbridge/internal/logging"
	"github.com/birddigital/callbridge/internal/session"
)

func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Host = "example.test"
	cfg.Server.WebhookPath = "/carrier/voice"
	cfg.Server.WSPath = "/carrier/media-stream"

	log := logging.New("test", logging.LevelDebug)
	manager := session.NewManager(cfg, nil, nil, nil, nil, log)
	carrierClient := carrierrest.New("", "", "example.signalwire.com")
	return New(manager, nil, carrierClient, cfg, log)
}

func TestHandleHealth(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got == "" {
		t.Fatalf("expected a body, got empty")
	}
}

func TestHandleVoiceWebhookMissingCallSid(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/carrier/voice", nil)
	rec := httptest.NewRecorder()

	h.handleVoiceWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleVoiceWebhookWrongMethod(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/carrier/voice", nil)
	rec := httptest.NewRecorder()

	h.handleVoiceWebhook(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleStatusWebhookMissingCallSid(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/carrier/status", nil)
	rec := httptest.NewRecorder()

	h.handleStatusWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePlaceCallInvalidBody(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/call", nil)
	rec := httptest.NewRecorder()

	h.handlePlaceCall(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMapCarrierStatus(t *testing.T) {
	cases := map[string]string{
		"ringing":     "ringing",
		"answered":    "in-progress",
		"in-progress": "in-progress",
		"completed":   "completed",
		"busy":        "busy",
		"no-answer":   "no-answer",
		"canceled":    "canceled",
		"garbage":     "failed",
	}
	for carrierStatus, want := range cases {
		if got := string(mapCarrierStatus(carrierStatus)); got != want {
			t.Errorf("mapCarrierStatus(%q) = %q, want %q", carrierStatus, got, want)
		}
	}
}
