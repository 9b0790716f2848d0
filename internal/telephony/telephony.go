// Package telephony adapts telephony providers to the call orchestrator:
// originating calls, playing audio into a live leg, and normalizing webhooks.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrMissingCorrelation = errors.New("missing call correlation")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

// Kind classifies a provider webhook.
type Kind string

const (
	KindIncoming   Kind = "incoming"
	KindAnswered   Kind = "answered"
	KindRecording  Kind = "recording"
	KindTranscript Kind = "transcript"
	KindFinished   Kind = "finished"
	KindFailed     Kind = "failed"
	KindOther      Kind = "other"
)

// Terminal reports whether the event ends the call.
func (k Kind) Terminal() bool {
	return k == KindFinished || k == KindFailed
}

// Event is a provider webhook normalized for the orchestrator.
type Event struct {
	Provider          string
	CallID            string
	ProviderSessionID string
	Kind              Kind
	Status            string
	RecordingURL      string
	Text              string
}

// Origination is the provider's answer to an outbound call request.
type Origination struct {
	ProviderSessionID string
}

// Provider is a telephony backend.
type Provider interface {
	Name() string
	Originate(ctx context.Context, phone, callID string) (*Origination, error)
	// Play sends audioURL into the leg identified by providerSessionID.
	Play(ctx context.Context, callID, providerSessionID, audioURL string) error
	FetchRecording(ctx context.Context, url string) ([]byte, string, error)
	ParseEvent(r *http.Request) (*Event, error)
	Acknowledge(w http.ResponseWriter, ev *Event, ack string)
}

// RejectedError is returned when the provider answered but refused the request.
type RejectedError struct {
	Provider string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Message)
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func fetch(ctx context.Context, client *http.Client, label, url string, auth func(*http.Request)) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if auth != nil {
		auth(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s recording request: %w", label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("%s recording status %d: %s", label, resp.StatusCode, body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%s recording read: %w", label, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func writeJSONAck(w http.ResponseWriter, ack string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": ack})
}
