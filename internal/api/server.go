// Package api exposes the relay's HTTP surface: call initiation, provider
// webhooks, audio artifacts, the streaming socket and inspection endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/session"
	"github.com/malikkhubiev/qdrant/internal/telephony"
)

// Calls is the orchestrator surface used by the HTTP handlers.
type Calls interface {
	InitiateCall(ctx context.Context, phone string) (string, error)
	HandleEvent(ev *telephony.Event) string
	SendResponse(callID, text string) string
	Snapshots() []session.Snapshot
}

// Providers resolves webhook senders by name.
type Providers interface {
	Has(name string) bool
	Route(name string) (telephony.Provider, error)
	Engines() []string
}

// Artifacts locates published audio files.
type Artifacts interface {
	Path(name string) (string, error)
}

// Deps wires the handlers. Stream, Metrics and Traces are optional.
type Deps struct {
	Calls     Calls
	Providers Providers
	Artifacts Artifacts
	Stream    http.Handler
	Metrics   http.Handler
	Traces    TraceReader
}

// NewHandler registers every route on a fresh mux wrapped in CORS.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /health", handleHealth)

	mux.HandleFunc("POST /api/calls/initiate", d.handleInitiate)
	mux.HandleFunc("POST /initiate_call", d.handleInitiate)
	mux.HandleFunc("GET /api/calls", d.handleListCalls)
	mux.HandleFunc("POST /send_response", d.handleSendResponse)

	mux.HandleFunc("POST /api/events/{provider}", func(w http.ResponseWriter, r *http.Request) {
		d.handleEvent(w, r, r.PathValue("provider"))
	})
	for _, name := range d.Providers.Engines() {
		provider := name
		mux.HandleFunc("POST /"+provider+"_events", func(w http.ResponseWriter, r *http.Request) {
			d.handleEvent(w, r, provider)
		})
	}

	mux.HandleFunc("GET /audio/{filename}", d.handleAudio)
	if d.Stream != nil {
		mux.Handle("GET /ws/{call_id}", d.Stream)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	registerTraceRoutes(mux, d.Traces)

	return CORS(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type initiateRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type initiateResponse struct {
	CallID  string `json:"call_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (d Deps) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "phone_number is required"})
		return
	}

	callID, err := d.Calls.InitiateCall(r.Context(), req.PhoneNumber)
	if err != nil {
		var rej *telephony.RejectedError
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": rej.Message})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, initiateResponse{CallID: callID, Status: "initiated", Message: "Call started"})
}

func (d Deps) handleEvent(w http.ResponseWriter, r *http.Request, name string) {
	if !d.Providers.Has(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "detail": "unknown provider"})
		return
	}
	provider, err := d.Providers.Route(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "detail": err.Error()})
		return
	}

	ev, err := provider.ParseEvent(r)
	if errors.Is(err, telephony.ErrInvalidSignature) {
		slog.Warn("webhook signature rejected", "provider", name)
		writeJSON(w, http.StatusForbidden, map[string]string{"status": "error"})
		return
	}
	if err != nil {
		slog.Warn("bad webhook", "provider", name, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	ack := d.Calls.HandleEvent(ev)
	provider.Acknowledge(w, ev, ack)
}

func (d Deps) handleListCalls(w http.ResponseWriter, r *http.Request) {
	snaps := d.Calls.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{"calls": snaps, "total": len(snaps)})
}

type sendResponseRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

func (d Deps) handleSendResponse(w http.ResponseWriter, r *http.Request) {
	var req sendResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "call_id and text are required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": d.Calls.SendResponse(req.CallID, strings.TrimSpace(req.Text))})
}

func (d Deps) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	path, err := d.Artifacts.Path(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	w.Header().Set("Content-Type", pipeline.ContentType(name))
	http.ServeFile(w, r, path)
}
