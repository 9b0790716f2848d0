package session

import (
	"sync"
	"time"

	"github.com/malikkhubiev/qdrant/internal/audio"
)

// State is a call's position in the answer loop.
type State int

const (
	StateCreated State = iota
	StateAnswered
	StateListening
	StateAnswering
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAnswered:
		return "answered"
	case StateListening:
		return "listening"
	case StateAnswering:
		return "answering"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type Speaker string

const (
	SpeakerClient Speaker = "client"
	SpeakerAgent  Speaker = "agent"
)

// Utterance is one entry of the dialog history.
type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// StreamFormat describes audio arriving over the streaming socket.
type StreamFormat struct {
	Codec      audio.Codec
	SampleRate int
}

// Session is the mutable record for one call. All access goes through its
// methods, which serialize on the session mutex.
type Session struct {
	id        string
	createdAt time.Time

	mu                sync.Mutex
	state             State
	providerSessionID string
	provider          string
	history           []Utterance
	historyLimit      int
	buf               []byte
	lastActivity      time.Time
	question          string
	format            StreamFormat
}

func newSession(id string, historyLimit int, now time.Time) *Session {
	return &Session{
		id:           id,
		createdAt:    now,
		historyLimit: historyLimit,
		lastActivity: now,
		format:       StreamFormat{Codec: audio.CodecPCM, SampleRate: 16000},
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ProviderSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerSessionID
}

// SetProvider records which telephony provider carries the call.
func (s *Session) SetProvider(name string) {
	s.mu.Lock()
	if s.provider == "" {
		s.provider = name
	}
	s.mu.Unlock()
}

func (s *Session) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// MarkAnswered records the provider leg and opens recognition. It returns false
// if the call was already answered or has ended; a late provider id is still
// recorded when none was known.
func (s *Session) MarkAnswered(providerSessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.providerSessionID == "" {
		s.providerSessionID = providerSessionID
	}
	if s.state != StateCreated {
		return false
	}
	s.state = StateListening
	return true
}

// RecognitionActive is true once the call has been answered and until it ends.
func (s *Session) RecognitionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recognitionActive()
}

func (s *Session) recognitionActive() bool {
	return s.state == StateAnswered || s.state == StateListening || s.state == StateAnswering
}

func (s *Session) SetStreamFormat(f StreamFormat) {
	s.mu.Lock()
	s.format = f
	s.mu.Unlock()
}

func (s *Session) StreamFormat() StreamFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// AppendAudio buffers a streamed chunk. Chunks arriving before answer or
// after the end are dropped.
func (s *Session) AppendAudio(chunk []byte, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recognitionActive() {
		return false
	}
	s.buf = append(s.buf, chunk...)
	s.lastActivity = now
	return true
}

// TakeIdleAudio hands over the buffered utterance when the caller has been
// quiet for longer than idle. On success the buffer is emptied and the session
// moves to ANSWERING.
func (s *Session) TakeIdleAudio(now time.Time, idle time.Duration) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening || len(s.buf) == 0 || now.Sub(s.lastActivity) <= idle {
		return nil, false
	}
	data := s.buf
	s.buf = nil
	s.state = StateAnswering
	return data, true
}

// DiscardAudio empties the buffer without starting a turn.
func (s *Session) DiscardAudio() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// BeginTurn moves LISTENING to ANSWERING. Any buffered audio is dropped since
// the turn is driven by a recording or transcript instead.
func (s *Session) BeginTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return false
	}
	s.state = StateAnswering
	s.buf = nil
	return true
}

// EndTurn returns an ANSWERING session to LISTENING and clears the pending question.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.question = ""
	if s.state == StateAnswering {
		s.state = StateListening
	}
}

func (s *Session) SetQuestion(q string) {
	s.mu.Lock()
	s.question = q
	s.mu.Unlock()
}

// AppendHistory adds an utterance, evicting the oldest entries beyond the limit.
func (s *Session) AppendHistory(speaker Speaker, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Utterance{Speaker: speaker, Text: text, At: at})
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = append([]Utterance(nil), s.history[len(s.history)-s.historyLimit:]...)
	}
}

// RecentHistory returns a copy of the last n utterances (all when n <= 0).
func (s *Session) RecentHistory(n int) []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]Utterance(nil), h...)
}

func (s *Session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return false
	}
	s.state = StateEnded
	s.buf = nil
	return true
}

// Snapshot is a point-in-time copy of a session for inspection.
type Snapshot struct {
	CallID             string      `json:"call_id"`
	ProviderSessionID  string      `json:"provider_session_id,omitempty"`
	Provider           string      `json:"provider,omitempty"`
	State              string      `json:"state"`
	RecognitionActive  bool        `json:"recognition_active"`
	WaitingForResponse bool        `json:"waiting_for_response"`
	CurrentQuestion    string      `json:"current_question,omitempty"`
	BufferedBytes      int         `json:"buffered_bytes"`
	LastActivity       time.Time   `json:"last_activity"`
	CreatedAt          time.Time   `json:"created_at"`
	History            []Utterance `json:"dialog_history"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CallID:             s.id,
		ProviderSessionID:  s.providerSessionID,
		Provider:           s.provider,
		State:              s.state.String(),
		RecognitionActive:  s.recognitionActive(),
		WaitingForResponse: s.state == StateAnswering,
		CurrentQuestion:    s.question,
		BufferedBytes:      len(s.buf),
		LastActivity:       s.lastActivity,
		CreatedAt:          s.createdAt,
		History:            append([]Utterance(nil), s.history...),
	}
}
