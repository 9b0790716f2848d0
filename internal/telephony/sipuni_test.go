package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSipuniOriginate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback/call_number" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"result":"success","call_id":"sp-1"}`))
	}))
	defer srv.Close()

	s := NewSipuni(SipuniConfig{APIKey: "k", SIPID: "100", APIURL: srv.URL, WebhookURL: "https://relay/api/events/sipuni"}, srv.Client())
	orig, err := s.Originate(context.Background(), "+79990000000", "call-1")
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if orig.ProviderSessionID != "sp-1" {
		t.Errorf("ProviderSessionID = %q", orig.ProviderSessionID)
	}
	want := map[string]any{
		"phone": "+79990000000", "sipnumber": "100", "callerid": "AI Assistant",
		"webhook": "https://relay/api/events/sipuni", "custom_data": "call-1", "secret": "k",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%s] = %v, want %v", k, got[k], v)
		}
	}
}

func TestSipuniOriginate_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"error","message":"bad number"}`))
	}))
	defer srv.Close()

	s := NewSipuni(SipuniConfig{APIURL: srv.URL}, srv.Client())
	_, err := s.Originate(context.Background(), "x", "call-1")
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Message != "bad number" {
		t.Fatalf("err = %v, want RejectedError(bad number)", err)
	}
}

func TestSipuniOriginate_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSipuni(SipuniConfig{APIURL: srv.URL}, srv.Client())
	_, err := s.Originate(context.Background(), "x", "call-1")
	var rej *RejectedError
	if err == nil || errors.As(err, &rej) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestSipuniPlay(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback/play" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"result":"success"}`))
	}))
	defer srv.Close()

	s := NewSipuni(SipuniConfig{APIURL: srv.URL}, srv.Client())
	if err := s.Play(context.Background(), "call-1", "sp-1", "https://relay/audio/tts_a.ogg"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got["call_id"] != "sp-1" || got["audio_url"] != "https://relay/audio/tts_a.ogg" || got["silence_detect"] != true {
		t.Errorf("payload = %v", got)
	}
}

func TestSipuniParseEvent(t *testing.T) {
	s := NewSipuni(SipuniConfig{}, nil)
	tests := []struct {
		body    string
		kind    Kind
		leg     string
		wantErr error
	}{
		{`{"custom_data":"c1","call_id":"sp","status":"answered"}`, KindAnswered, "sp", nil},
		{`{"custom_data":"c1","record_url":"http://x/r.wav"}`, KindRecording, "c1", nil},
		{`{"custom_data":"c1","text":" да "}`, KindTranscript, "c1", nil},
		{`{"custom_data":"c1","status":"hangup"}`, KindFinished, "c1", nil},
		{`{"custom_data":"c1","status":"busy"}`, KindFailed, "c1", nil},
		{`{"custom_data":"c1"}`, KindOther, "c1", nil},
		{`{"status":"answered"}`, "", "", ErrMissingCorrelation},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/api/events/sipuni", strings.NewReader(tt.body))
		ev, err := s.ParseEvent(r)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: err = %v, want %v", tt.body, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.body, err)
		}
		if ev.Kind != tt.kind || ev.ProviderSessionID != tt.leg || ev.CallID != "c1" {
			t.Errorf("%s: got kind=%s leg=%s", tt.body, ev.Kind, ev.ProviderSessionID)
		}
	}
}

func TestSipuniAcknowledge(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSipuni(SipuniConfig{}, nil).Acknowledge(rec, &Event{Kind: KindAnswered}, "greeted")
	if strings.TrimSpace(rec.Body.String()) != `{"status":"greeted"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}
