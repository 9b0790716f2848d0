// Package orchestrator drives call sessions: it reacts to telephony webhooks
// and streamed audio, runs the answer pipeline and issues playback.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/malikkhubiev/qdrant/internal/metrics"
	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/prompts"
	"github.com/malikkhubiev/qdrant/internal/session"
	"github.com/malikkhubiev/qdrant/internal/telephony"
	"github.com/malikkhubiev/qdrant/internal/trace"
)

// Webhook acknowledgements.
const (
	AckUnknownCall = "unknown_call"
	AckAccepted    = "accepted"
	AckGreeted     = "greeted"
	AckAnswered    = "answered"
	AckIgnored     = "ignored"
	AckProcessing  = "processing"
	AckBusy        = "busy"
	AckEnded       = "ended"
	AckProcessed   = "processed"
)

// Operator reply outcomes.
const (
	ReplySent    = "sent"
	ReplyStored  = "stored"
	ReplyUnknown = "unknown_call"
)

// Message is pushed to a call's streaming socket.
type Message struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Notifier delivers messages to the socket attached to a call, if any.
type Notifier interface {
	Push(callID string, m Message) bool
}

// Speech converts between audio and text.
type Speech interface {
	SpeechToText(ctx context.Context, in pipeline.AudioInput) (string, error)
	TextToSpeech(ctx context.Context, text string) (string, error)
}

// Completion generates replies through a named engine.
type Completion interface {
	Complete(ctx context.Context, p pipeline.Prompt, engine string) (*pipeline.LLMResult, error)
}

// Providers resolves telephony providers by name.
type Providers interface {
	Route(name string) (telephony.Provider, error)
	Default() (telephony.Provider, error)
}

// HistoryRecorder persists finished exchanges outside the session.
type HistoryRecorder interface {
	StoreAsync(ctx context.Context, callID, question, answer string)
}

// ArtifactLocator reports whether a published audio artifact still exists.
type ArtifactLocator interface {
	Path(name string) (string, error)
}

// Config wires the orchestrator's collaborators and tunables.
type Config struct {
	Store     *session.Store
	Providers Providers
	Speech    Speech
	Knowledge pipeline.KnowledgeSource
	LLM       Completion
	LLMEngine string
	Prompts   *prompts.Builder
	// Optional collaborators.
	History   HistoryRecorder
	Notifier  Notifier
	Artifacts ArtifactLocator
	Tracer    *trace.Tracer

	BaseURL            string
	SystemPrompt       string
	Greeting           string
	Apology            string
	GreetOnAnswer      bool
	TopK               int
	PromptHistoryTurns int
	IdleTimeout        time.Duration
	TurnTimeout        time.Duration
	MaxConcurrentTurns int64
	SilenceThresholdDB float64
}

// Orchestrator owns the call state machine.
type Orchestrator struct {
	cfg   Config
	store *session.Store
	sem   *semaphore.Weighted
	turns sync.WaitGroup
	now   func() time.Time

	apologyMu   sync.Mutex
	apologyFile string
}

func New(cfg Config) *Orchestrator {
	if cfg.Greeting == "" {
		cfg.Greeting = prompts.DefaultGreeting
	}
	if cfg.Apology == "" {
		cfg.Apology = prompts.DefaultApology
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 1500 * time.Millisecond
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrentTurns <= 0 {
		cfg.MaxConcurrentTurns = 50
	}
	if cfg.SilenceThresholdDB == 0 {
		cfg.SilenceThresholdDB = -50
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewBuilder(nil, cfg.PromptHistoryTurns, 0)
	}
	cfg.SystemPrompt = prompts.ForSession(cfg.SystemPrompt)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Orchestrator{
		cfg:   cfg,
		store: cfg.Store,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrentTurns),
		now:   time.Now,
	}
}

// AudioURL is the public address of an artifact.
func (o *Orchestrator) AudioURL(name string) string {
	return o.cfg.BaseURL + "/audio/" + name
}

// InitiateCall registers a session and asks the default provider to dial phone.
// On failure the session is removed again.
func (o *Orchestrator) InitiateCall(ctx context.Context, phone string) (string, error) {
	provider, err := o.cfg.Providers.Default()
	if err != nil {
		return "", err
	}
	sess, err := o.store.Create("")
	if err != nil {
		return "", err
	}
	callID := sess.ID()
	sess.SetProvider(provider.Name())

	orig, err := provider.Originate(ctx, phone, callID)
	if err != nil {
		o.store.Remove(callID)
		metrics.Errors.WithLabelValues("originate", provider.Name()).Inc()
		slog.Error("originate call", "call_id", callID, "provider", provider.Name(), "error", err)
		return "", fmt.Errorf("originate call: %w", err)
	}
	o.opened(callID, provider.Name(), "outbound")
	slog.Info("call initiated", "call_id", callID, "provider", provider.Name(), "provider_session_id", orig.ProviderSessionID)
	return callID, nil
}

func (o *Orchestrator) opened(callID, provider, origin string) {
	metrics.CallsTotal.WithLabelValues(origin).Inc()
	metrics.CallsActive.Inc()
	o.cfg.Tracer.StartCall(callID, provider, origin)
}

// endCall removes the session; it reports whether this call did the removal.
func (o *Orchestrator) endCall(callID, reason string) bool {
	if !o.store.Remove(callID) {
		return false
	}
	metrics.CallsEnded.WithLabelValues(reason).Inc()
	metrics.CallsActive.Dec()
	o.cfg.Tracer.EndCall(callID, reason)
	slog.Info("call ended", "call_id", callID, "reason", reason)
	return true
}

// HandleEvent applies a provider webhook and returns the acknowledgement.
// Answer work continues in the background.
func (o *Orchestrator) HandleEvent(ev *telephony.Event) string {
	ack := o.handleEvent(ev)
	metrics.WebhookEvents.WithLabelValues(ev.Provider, ack).Inc()
	slog.Debug("webhook event", "call_id", ev.CallID, "provider", ev.Provider, "kind", ev.Kind, "ack", ack)
	return ack
}

func (o *Orchestrator) handleEvent(ev *telephony.Event) string {
	if ev.Kind == telephony.KindIncoming {
		return o.incoming(ev)
	}
	sess, ok := o.store.Get(ev.CallID)
	if !ok {
		return AckUnknownCall
	}
	sess.SetProvider(ev.Provider)

	switch ev.Kind {
	case telephony.KindFinished, telephony.KindFailed:
		o.endCall(ev.CallID, string(ev.Kind))
		return AckEnded

	case telephony.KindAnswered:
		if !sess.MarkAnswered(ev.ProviderSessionID) {
			return AckProcessed
		}
		slog.Info("call answered", "call_id", ev.CallID, "provider_session_id", sess.ProviderSessionID())
		if !o.cfg.GreetOnAnswer || !sess.BeginTurn() {
			return AckAnswered
		}
		o.startTurn(sess, turnInput{trigger: "greeting", reply: o.cfg.Greeting})
		return AckGreeted

	case telephony.KindRecording:
		if !sess.RecognitionActive() {
			return AckIgnored
		}
		if !o.beginTurn(sess) {
			return AckBusy
		}
		o.startTurn(sess, turnInput{trigger: "recording", recordingURL: ev.RecordingURL})
		return AckProcessing

	case telephony.KindTranscript:
		if !sess.RecognitionActive() {
			return AckIgnored
		}
		if !o.beginTurn(sess) {
			return AckBusy
		}
		o.startTurn(sess, turnInput{trigger: "transcript", text: ev.Text})
		return AckProcessing
	}
	return AckProcessed
}

func (o *Orchestrator) incoming(ev *telephony.Event) string {
	sess, err := o.store.Create(ev.CallID)
	if errors.Is(err, session.ErrExists) {
		return AckProcessed
	}
	if err != nil {
		slog.Error("create inbound session", "call_id", ev.CallID, "error", err)
		return AckProcessed
	}
	sess.SetProvider(ev.Provider)
	o.opened(sess.ID(), ev.Provider, "inbound")
	slog.Info("incoming call", "call_id", sess.ID(), "provider", ev.Provider)
	return AckAccepted
}

func (o *Orchestrator) beginTurn(sess *session.Session) bool {
	if sess.BeginTurn() {
		return true
	}
	metrics.TurnsRejected.Inc()
	return false
}

// AttachStream binds a streaming socket to callID, creating a browser-only
// session already listening when the call is unknown.
func (o *Orchestrator) AttachStream(callID string, format session.StreamFormat) (*session.Session, error) {
	sess, ok := o.store.Get(callID)
	if !ok {
		var err error
		sess, err = o.store.Create(callID)
		if errors.Is(err, session.ErrExists) {
			sess, ok = o.store.Get(callID)
			if !ok {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		} else {
			o.opened(callID, "", "stream")
			sess.MarkAnswered("")
		}
	}
	sess.SetStreamFormat(format)
	return sess, nil
}

// DetachStream ends the call whose socket went away.
func (o *Orchestrator) DetachStream(callID string) {
	o.endCall(callID, "disconnect")
}

// HandleAudio buffers a streamed chunk; it reports whether the chunk was kept.
func (o *Orchestrator) HandleAudio(callID string, chunk []byte) bool {
	sess, ok := o.store.Get(callID)
	if !ok || len(chunk) == 0 {
		return false
	}
	metrics.AudioChunks.Inc()
	return sess.AppendAudio(chunk, o.now())
}

// FlushIfIdle starts a turn from buffered audio once the caller has been quiet
// for the idle timeout. Silent buffers are dropped without recognition.
func (o *Orchestrator) FlushIfIdle(callID string, now time.Time) bool {
	sess, ok := o.store.Get(callID)
	if !ok {
		return false
	}
	data, ok := sess.TakeIdleAudio(now, o.cfg.IdleTimeout)
	if !ok {
		return false
	}
	in, silent, err := o.streamInput(sess.StreamFormat(), data)
	if err != nil {
		slog.Warn("decode streamed audio", "call_id", callID, "error", err)
		sess.EndTurn()
		return false
	}
	if silent {
		metrics.SilentFlushes.Inc()
		sess.EndTurn()
		return false
	}
	o.startTurn(sess, turnInput{trigger: "stream", audio: &in})
	return true
}

// HandleText applies a recognition frame from the socket. Only final
// recognitions start a turn.
func (o *Orchestrator) HandleText(callID, kind, text string) string {
	sess, ok := o.store.Get(callID)
	if !ok {
		return AckUnknownCall
	}
	text = strings.TrimSpace(text)
	if kind != "final_recognition" || text == "" || !sess.RecognitionActive() {
		return AckIgnored
	}
	if !o.beginTurn(sess) {
		return AckBusy
	}
	sess.DiscardAudio()
	o.startTurn(sess, turnInput{trigger: "final_recognition", text: text})
	return AckProcessing
}

// SendResponse records an operator reply and pushes it to the call's socket.
func (o *Orchestrator) SendResponse(callID, text string) string {
	sess, ok := o.store.Get(callID)
	if !ok {
		return ReplyUnknown
	}
	sess.AppendHistory(session.SpeakerAgent, text, o.now())
	if o.notify(callID, Message{Type: "agent_message", Text: text}) {
		return ReplySent
	}
	return ReplyStored
}

func (o *Orchestrator) notify(callID string, m Message) bool {
	if o.cfg.Notifier == nil {
		return false
	}
	return o.cfg.Notifier.Push(callID, m)
}

// Snapshots lists the live sessions.
func (o *Orchestrator) Snapshots() []session.Snapshot {
	list := o.store.List()
	out := make([]session.Snapshot, len(list))
	for i, s := range list {
		out[i] = s.Snapshot()
	}
	return out
}

// Wait blocks until in-flight turns finish.
func (o *Orchestrator) Wait() {
	o.turns.Wait()
}
