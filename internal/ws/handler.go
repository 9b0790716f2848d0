package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/malikkhubiev/qdrant/internal/audio"
	"github.com/malikkhubiev/qdrant/internal/metrics"
	"github.com/malikkhubiev/qdrant/internal/orchestrator"
	"github.com/malikkhubiev/qdrant/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errBadSampleRate = errors.New("invalid sample_rate")

// Calls is the orchestrator surface a stream drives.
type Calls interface {
	AttachStream(callID string, f session.StreamFormat) (*session.Session, error)
	DetachStream(callID string)
	HandleAudio(callID string, chunk []byte) bool
	FlushIfIdle(callID string, now time.Time) bool
	HandleText(callID, kind, text string) string
}

// HandlerConfig holds the stream handler's collaborators and limits.
type HandlerConfig struct {
	Calls         Calls
	Hub           *Hub
	MaxConcurrent int64
	CheckInterval time.Duration
}

// Handler serves /ws/{call_id} with admission control.
type Handler struct {
	cfg HandlerConfig
	sem *semaphore.Weighted
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 250 * time.Millisecond
	}
	return &Handler{cfg: cfg, sem: semaphore.NewWeighted(cfg.MaxConcurrent)}
}

const finalRecognition = "final_recognition"

// recognition is a text frame from the client's own recognizer.
type recognition struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// recognitionStatus tells the client why a final recognition was not answered.
type recognitionStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ServeHTTP upgrades the connection and streams the call.
// Returns 503 if at max concurrent stream capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if callID == "" {
		http.Error(w, "missing call id", http.StatusBadRequest)
		return
	}
	format, err := streamFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.sem.TryAcquire(1) {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.sem.Release(1)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c, ok := h.cfg.Hub.register(callID, ws)
	if !ok {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "call already streaming"))
		return
	}
	defer h.cfg.Hub.unregister(callID, c)

	if _, err := h.cfg.Calls.AttachStream(callID, format); err != nil {
		slog.Error("attach stream", "call_id", callID, "error", err)
		return
	}
	defer h.cfg.Calls.DetachStream(callID)

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()
	slog.Info("stream opened", "call_id", callID, "codec", format.Codec, "sample_rate", format.SampleRate)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.watchIdle(ctx, callID)

	h.readLoop(callID, ws, c)
	slog.Info("stream closed", "call_id", callID)
}

func streamFormat(r *http.Request) (session.StreamFormat, error) {
	codec, err := audio.ParseCodec(r.URL.Query().Get("codec"))
	if err != nil {
		return session.StreamFormat{}, err
	}
	rate := 16000
	if s := r.URL.Query().Get("sample_rate"); s != "" {
		rate, err = strconv.Atoi(s)
		if err != nil || rate <= 0 {
			return session.StreamFormat{}, errBadSampleRate
		}
	}
	return session.StreamFormat{Codec: codec, SampleRate: rate}, nil
}

// watchIdle flushes the call's buffer once the caller goes quiet.
func (h *Handler) watchIdle(ctx context.Context, callID string) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.cfg.Calls.FlushIfIdle(callID, now)
		}
	}
}

// readLoop feeds binary frames to the audio buffer and hands recognition
// frames to the orchestrator, echoing them back.
func (h *Handler) readLoop(callID string, ws *websocket.Conn, c *conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			slog.Debug("connection closed", "call_id", callID, "error", err)
			return
		}

		if msgType == websocket.BinaryMessage {
			h.cfg.Calls.HandleAudio(callID, data)
			continue
		}

		var rec recognition
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("bad text frame", "call_id", callID, "error", err)
			continue
		}
		ack := h.cfg.Calls.HandleText(callID, rec.Type, rec.Text)
		slog.Debug("recognition frame", "call_id", callID, "type", rec.Type, "ack", ack)
		if err := c.writeJSON(rec); err != nil {
			slog.Warn("echo frame", "call_id", callID, "error", err)
		}
		// a final recognition that did not start a turn is reported back
		if rec.Type == finalRecognition && ack != orchestrator.AckProcessing {
			if err := c.writeJSON(recognitionStatus{Type: "recognition_status", Status: ack}); err != nil {
				slog.Warn("status frame", "call_id", callID, "error", err)
			}
		}
	}
}
