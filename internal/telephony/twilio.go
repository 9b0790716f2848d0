package telephony

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultTwilioURL = "https://api.twilio.com/2010-04-01"

// TwilioConfig configures the Twilio REST API and webhook handling.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	APIURL     string
	// WebhookURL is the public events endpoint; the call id is appended as a query parameter.
	WebhookURL        string
	ValidateSignature bool
}

// Twilio drives calls through the Twilio Voice API.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilio(cfg TwilioConfig, client *http.Client) (*Twilio, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultTwilioURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Twilio{cfg: cfg, client: defaultClient(client)}, nil
}

func (t *Twilio) Name() string { return "twilio" }

// TwilioError is an error body returned by the Twilio API.
type TwilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (t *Twilio) callbackURL(callID string, extra ...string) string {
	q := url.Values{"call_id": {callID}}
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	sep := "?"
	if strings.Contains(t.cfg.WebhookURL, "?") {
		sep = "&"
	}
	return t.cfg.WebhookURL + sep + q.Encode()
}

func (t *Twilio) Originate(ctx context.Context, phone, callID string) (*Origination, error) {
	cb := t.callbackURL(callID)
	data := url.Values{}
	data.Set("To", phone)
	data.Set("From", t.cfg.FromNumber)
	data.Set("Url", cb)
	data.Set("StatusCallback", cb)
	data.Add("StatusCallbackEvent", "completed")

	var call twilioCall
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", t.cfg.APIURL, t.cfg.AccountSID)
	if err := t.post(ctx, endpoint, data, &call); err != nil {
		var apiErr *TwilioError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, &RejectedError{Provider: "twilio", Message: apiErr.Message}
		}
		return nil, err
	}
	return &Origination{ProviderSessionID: call.SID}, nil
}

// Play redirects the live call to the audio and records the caller's reply.
func (t *Twilio) Play(ctx context.Context, callID, providerSessionID, audioURL string) error {
	twiml := playTwiML(audioURL, t.recordElement(callID))
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", t.cfg.APIURL, t.cfg.AccountSID, url.PathEscape(providerSessionID))
	return t.post(ctx, endpoint, url.Values{"Twiml": {twiml}}, nil)
}

func (t *Twilio) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("twilio read: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &TwilioError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil {
			return fmt.Errorf("twilio status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return apiErr
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode twilio response: %w", err)
		}
	}
	return nil
}

func (t *Twilio) FetchRecording(ctx context.Context, recordingURL string) ([]byte, string, error) {
	return fetch(ctx, t.client, "twilio", recordingURL, func(r *http.Request) {
		r.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	})
}

// ParseEvent reads a Twilio voice webhook. The call id travels in the
// callback URL query; CallSid identifies the leg.
func (t *Twilio) ParseEvent(r *http.Request) (*Event, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse twilio form: %w", err)
	}
	if t.cfg.ValidateSignature {
		if err := ValidateTwilioSignature(t.cfg.AuthToken, t.signedURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature")); err != nil {
			return nil, err
		}
	}
	callID := r.URL.Query().Get("call_id")
	if callID == "" && r.PostForm.Get("Direction") == "inbound" {
		// Inbound calls hit the number's static voice URL; the leg id is the only correlation.
		callID = r.PostForm.Get("CallSid")
	}
	if callID == "" {
		return nil, ErrMissingCorrelation
	}
	ev := &Event{
		Provider:          "twilio",
		CallID:            callID,
		ProviderSessionID: r.PostForm.Get("CallSid"),
		Status:            r.PostForm.Get("CallStatus"),
		RecordingURL:      r.PostForm.Get("RecordingUrl"),
		Text:              strings.TrimSpace(r.PostForm.Get("SpeechResult")),
	}

	switch {
	case r.URL.Query().Get("stage") == "hold":
		// <Record> action callback or a hold redirect: keep the leg open until the answer is played.
		ev.Status = "hold"
		ev.RecordingURL = ""
		ev.Kind = KindOther
	case ev.RecordingURL != "":
		ev.Kind = KindRecording
	case ev.Text != "":
		ev.Kind = KindTranscript
	default:
		ev.Kind = twilioKind(ev.Status, r.PostForm.Get("Direction"))
	}
	return ev, nil
}

func twilioKind(status, direction string) Kind {
	switch status {
	case "in-progress":
		return KindAnswered
	case "ringing":
		if direction == "inbound" {
			return KindIncoming
		}
	case "completed":
		return KindFinished
	case "failed", "busy", "no-answer", "canceled":
		return KindFailed
	}
	return KindOther
}

// signedURL reconstructs the URL Twilio signed: the configured public
// webhook base plus the request query.
func (t *Twilio) signedURL(r *http.Request) string {
	base := t.cfg.WebhookURL
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		scheme := "https"
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "" {
			scheme = "http"
		}
		base = scheme + "://" + r.Host + r.URL.Path
	}
	if r.URL.RawQuery != "" {
		return base + "?" + r.URL.RawQuery
	}
	return base
}

// holdPauseSeconds is one hold cycle; each cycle redirects back to the hold stage.
const holdPauseSeconds = 20

// Acknowledge answers call-progress webhooks with TwiML; everything else gets JSON.
func (t *Twilio) Acknowledge(w http.ResponseWriter, ev *Event, ack string) {
	if ev == nil {
		writeJSONAck(w, ack)
		return
	}
	switch {
	case ev.Status == "hold":
		// Keep the leg open until Play replaces the TwiML, however long the turn runs.
		writeTwiML(w, fmt.Sprintf(`<Response><Pause length="%d"/><Redirect method="POST">%s</Redirect></Response>`,
			holdPauseSeconds, xmlEscape(t.callbackURL(ev.CallID, "stage", "hold"))))
	case ev.Kind == KindIncoming:
		// Answering the inbound leg; the redirect comes back as in-progress.
		writeTwiML(w, `<Response><Redirect method="POST">`+xmlEscape(t.callbackURL(ev.CallID))+`</Redirect></Response>`)
	case ev.Kind == KindAnswered:
		writeTwiML(w, "<Response>"+t.recordElement(ev.CallID)+"</Response>")
	default:
		writeJSONAck(w, ack)
	}
}

func (t *Twilio) recordElement(callID string) string {
	return fmt.Sprintf(`<Record action="%s" recordingStatusCallback="%s" timeout="2" maxLength="30" playBeep="false"/>`,
		xmlEscape(t.callbackURL(callID, "stage", "hold")),
		xmlEscape(t.callbackURL(callID)))
}

func playTwiML(audioURL, record string) string {
	return "<Response><Play>" + xmlEscape(audioURL) + "</Play>" + record + "</Response>"
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, xml.Header+body)
}

func xmlEscape(s string) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
