package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultSipuniURL = "https://sipuni.com/api"

// SipuniConfig configures the SIPuni callback API.
type SipuniConfig struct {
	APIKey   string
	SIPID    string
	CallerID string
	APIURL   string
	// WebhookURL is where SIPuni posts call events.
	WebhookURL string
}

// Sipuni drives calls through the SIPuni callback API.
type Sipuni struct {
	cfg    SipuniConfig
	client *http.Client
}

func NewSipuni(cfg SipuniConfig, client *http.Client) *Sipuni {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultSipuniURL
	}
	if cfg.CallerID == "" {
		cfg.CallerID = "AI Assistant"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Sipuni{cfg: cfg, client: defaultClient(client)}
}

func (s *Sipuni) Name() string { return "sipuni" }

type sipuniResult struct {
	Result  string `json:"result"`
	Message string `json:"message"`
	CallID  string `json:"call_id"`
}

func (s *Sipuni) Originate(ctx context.Context, phone, callID string) (*Origination, error) {
	res, err := s.post(ctx, "/callback/call_number", map[string]any{
		"phone":       phone,
		"sipnumber":   s.cfg.SIPID,
		"callerid":    s.cfg.CallerID,
		"webhook":     s.cfg.WebhookURL,
		"custom_data": callID,
	})
	if err != nil {
		return nil, err
	}
	if res.Result != "success" {
		msg := res.Message
		if msg == "" {
			msg = "Call failed"
		}
		return nil, &RejectedError{Provider: "sipuni", Message: msg}
	}
	return &Origination{ProviderSessionID: res.CallID}, nil
}

func (s *Sipuni) Play(ctx context.Context, _, providerSessionID, audioURL string) error {
	_, err := s.post(ctx, "/callback/play", map[string]any{
		"call_id":        providerSessionID,
		"audio_url":      audioURL,
		"silence_detect": true,
	})
	return err
}

func (s *Sipuni) post(ctx context.Context, endpoint string, payload map[string]any) (*sipuniResult, error) {
	payload["secret"] = s.cfg.APIKey
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sipuni request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sipuni request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sipuni read %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sipuni status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var res sipuniResult
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode sipuni response: %w", err)
		}
	}
	return &res, nil
}

func (s *Sipuni) FetchRecording(ctx context.Context, url string) ([]byte, string, error) {
	return fetch(ctx, s.client, "sipuni", url, nil)
}

type sipuniEvent struct {
	CustomData string `json:"custom_data"`
	CallID     string `json:"call_id"`
	Status     string `json:"status"`
	RecordURL  string `json:"record_url"`
	Text       string `json:"text"`
}

// ParseEvent reads a SIPuni webhook. custom_data carries our call id;
// call_id is SIPuni's own leg id.
func (s *Sipuni) ParseEvent(r *http.Request) (*Event, error) {
	var in sipuniEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode sipuni event: %w", err)
	}
	if in.CustomData == "" {
		return nil, ErrMissingCorrelation
	}
	ev := &Event{
		Provider:          "sipuni",
		CallID:            in.CustomData,
		ProviderSessionID: in.CallID,
		Status:            in.Status,
		RecordingURL:      in.RecordURL,
		Text:              strings.TrimSpace(in.Text),
	}
	if ev.ProviderSessionID == "" {
		ev.ProviderSessionID = in.CustomData
	}
	ev.Kind = sipuniKind(in.Status, ev)
	return ev, nil
}

func sipuniKind(status string, ev *Event) Kind {
	switch strings.ToLower(status) {
	case "answered":
		return KindAnswered
	case "incoming", "ringing":
		return KindIncoming
	case "finished", "hangup", "completed", "ended":
		return KindFinished
	case "failed", "busy", "noanswer", "no_answer", "cancel":
		return KindFailed
	}
	switch {
	case ev.RecordingURL != "":
		return KindRecording
	case ev.Text != "":
		return KindTranscript
	}
	return KindOther
}

func (s *Sipuni) Acknowledge(w http.ResponseWriter, _ *Event, ack string) {
	writeJSONAck(w, ack)
}
