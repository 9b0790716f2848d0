package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxIOLen = 500

// Writer is the persistence side of the tracer; *Store implements it.
type Writer interface {
	CreateCall(Call) error
	EndCall(id, reason string, at time.Time) error
	CreateTurn(Turn) error
	FinishTurn(Turn) error
	CreateStage(Stage) error
}

type traceMsg struct {
	kind   string // "call_create", "call_end", "turn_create", "turn_finish", "stage"
	call   Call
	turn   Turn
	stage  Stage
	reason string
}

// Tracer writes call traces asynchronously through a buffered channel.
// All methods are nil-safe (no-op on nil receiver); writes are dropped
// when the buffer is full.
type Tracer struct {
	w    Writer
	ch   chan traceMsg
	done chan struct{}
}

// NewTracer starts the background writer. Must call Close when done.
func NewTracer(w Writer) *Tracer {
	t := &Tracer{
		w:    w,
		ch:   make(chan traceMsg, 256),
		done: make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"call_create": func() error { return t.w.CreateCall(m.call) },
		"call_end":    func() error { return t.w.EndCall(m.call.ID, m.reason, *m.call.EndedAt) },
		"turn_create": func() error { return t.w.CreateTurn(m.turn) },
		"turn_finish": func() error { return t.w.FinishTurn(m.turn) },
		"stage":       func() error { return t.w.CreateStage(m.stage) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) send(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Warn("trace buffer full, dropping", "kind", m.kind)
	}
}

func (t *Tracer) StartCall(callID, provider, origin string) {
	if t == nil {
		return
	}
	t.send(traceMsg{kind: "call_create", call: Call{ID: callID, Provider: provider, Origin: origin, StartedAt: time.Now()}})
}

func (t *Tracer) EndCall(callID, reason string) {
	if t == nil {
		return
	}
	now := time.Now()
	t.send(traceMsg{kind: "call_end", call: Call{ID: callID, EndedAt: &now}, reason: reason})
}

// StartTurn begins a turn and returns its ID.
func (t *Tracer) StartTurn(callID, trigger string) string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.send(traceMsg{kind: "turn_create", turn: Turn{ID: id, CallID: callID, Trigger: trigger, StartedAt: time.Now()}})
	return id
}

func (t *Tracer) FinishTurn(turnID string, durationMs float64, question, answer, status string) {
	if t == nil || turnID == "" {
		return
	}
	t.send(traceMsg{kind: "turn_finish", turn: Turn{
		ID:         turnID,
		DurationMs: durationMs,
		Question:   truncate(question, maxIOLen),
		Answer:     truncate(answer, maxIOLen),
		Status:     status,
	}})
}

// RecordStage records a completed stage.
func (t *Tracer) RecordStage(turnID, name string, startedAt time.Time, input, output string, err error) {
	if t == nil || turnID == "" {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	t.send(traceMsg{kind: "stage", stage: Stage{
		ID:         uuid.NewString(),
		TurnID:     turnID,
		Name:       name,
		StartedAt:  startedAt,
		DurationMs: float64(time.Since(startedAt).Milliseconds()),
		Input:      truncate(input, maxIOLen),
		Output:     truncate(output, maxIOLen),
		Status:     status,
		Error:      errMsg,
	}})
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
