package trace

import "time"

// Call is one traced phone or browser call.
type Call struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider,omitempty"`
	Origin    string     `json:"origin,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	TurnCount int        `json:"turn_count,omitempty"`
}

// Turn is one question/answer exchange within a call.
type Turn struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	Question   string    `json:"question,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Status     string    `json:"status"`
	StageCount int       `json:"stage_count,omitempty"`
}

// Stage is one gateway call inside a turn (stt, knowledge, llm, tts, play).
type Stage struct {
	ID         string    `json:"id"`
	TurnID     string    `json:"turn_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
