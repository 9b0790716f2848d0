package api

import (
	"net/http"
	"strconv"

	"github.com/malikkhubiev/qdrant/internal/trace"
)

// defaultTraceCallLimit is how many traced calls are returned when the
// caller omits ?limit=.
const defaultTraceCallLimit = 20

// TraceReader is the read side of the trace store.
type TraceReader interface {
	ListCalls(limit, offset int) ([]trace.Call, int, error)
	GetCall(id string) (*trace.Call, []trace.Turn, error)
	GetTurn(callID, turnID string) (*trace.Turn, []trace.Stage, error)
}

func registerTraceRoutes(mux *http.ServeMux, store TraceReader) {
	mux.HandleFunc("GET /api/traces/calls", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceCallLimit)
		offset := queryInt(r, "offset", 0)
		calls, total, err := store.ListCalls(limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"calls": calls, "total": total})
	})

	mux.HandleFunc("GET /api/traces/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		call, turns, err := store.GetCall(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"call": call, "turns": turns})
	})

	mux.HandleFunc("GET /api/traces/calls/{id}/turns/{turnId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		turn, stages, err := store.GetTurn(r.PathValue("id"), r.PathValue("turnId"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turn": turn, "stages": stages})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
