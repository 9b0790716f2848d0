package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestTwilio(t *testing.T, apiURL string, validate bool) *Twilio {
	t.Helper()
	tw, err := NewTwilio(TwilioConfig{
		AccountSID:        "AC1",
		AuthToken:         "secret",
		FromNumber:        "+15550000000",
		APIURL:            apiURL,
		WebhookURL:        "https://relay.example/api/events/twilio",
		ValidateSignature: validate,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tw
}

func TestNewTwilio_RequiresCredentials(t *testing.T) {
	if _, err := NewTwilio(TwilioConfig{AuthToken: "x"}, nil); err == nil {
		t.Error("expected error without account sid")
	}
}

func TestTwilioOriginate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC1/Calls.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "AC1" || pass != "secret" {
			t.Errorf("basic auth = %s:%s", user, pass)
		}
		r.ParseForm()
		if r.PostForm.Get("To") != "+79990000000" || r.PostForm.Get("From") != "+15550000000" {
			t.Errorf("form = %v", r.PostForm)
		}
		if !strings.Contains(r.PostForm.Get("Url"), "call_id=call-1") {
			t.Errorf("Url = %s", r.PostForm.Get("Url"))
		}
		w.Write([]byte(`{"sid":"CA123","status":"queued"}`))
	}))
	defer srv.Close()

	orig, err := newTestTwilio(t, srv.URL, false).Originate(context.Background(), "+79990000000", "call-1")
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if orig.ProviderSessionID != "CA123" {
		t.Errorf("ProviderSessionID = %q", orig.ProviderSessionID)
	}
}

func TestTwilioOriginate_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`))
	}))
	defer srv.Close()

	_, err := newTestTwilio(t, srv.URL, false).Originate(context.Background(), "bogus", "call-1")
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectedError", err)
	}
}

func TestTwilioPlay(t *testing.T) {
	var twiml string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC1/Calls/CA123.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm()
		twiml = r.PostForm.Get("Twiml")
		w.Write([]byte(`{"sid":"CA123"}`))
	}))
	defer srv.Close()

	if err := newTestTwilio(t, srv.URL, false).Play(context.Background(), "call-1", "CA123", "https://relay.example/audio/tts_a.mp3"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !strings.Contains(twiml, "<Play>https://relay.example/audio/tts_a.mp3</Play>") {
		t.Errorf("twiml = %s", twiml)
	}
	if !strings.Contains(twiml, "<Record") || !strings.Contains(twiml, "call_id=call-1") {
		t.Errorf("twiml missing record callback: %s", twiml)
	}
}

func twilioRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestTwilioParseEvent(t *testing.T) {
	tw := newTestTwilio(t, "", false)
	tests := []struct {
		target string
		form   url.Values
		kind   Kind
	}{
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}}, KindAnswered},
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}, "Direction": {"inbound"}}, KindIncoming},
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://api.twilio.com/r/RE1"}}, KindRecording},
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"сколько стоит"}}, KindTranscript},
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, KindFinished},
		{"/api/events/twilio?call_id=c1", url.Values{"CallSid": {"CA1"}, "CallStatus": {"no-answer"}}, KindFailed},
		{"/api/events/twilio?call_id=c1&stage=hold", url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://x"}}, KindOther},
	}
	for _, tt := range tests {
		ev, err := tw.ParseEvent(twilioRequest(tt.target, tt.form))
		if err != nil {
			t.Fatalf("%v: %v", tt.form, err)
		}
		if ev.Kind != tt.kind || ev.CallID != "c1" || ev.ProviderSessionID != "CA1" {
			t.Errorf("%v: got %+v", tt.form, ev)
		}
	}

	ev, err := tw.ParseEvent(twilioRequest("/api/events/twilio", url.Values{"CallSid": {"CA9"}, "CallStatus": {"ringing"}, "Direction": {"inbound"}}))
	if err != nil || ev.CallID != "CA9" || ev.Kind != KindIncoming {
		t.Errorf("inbound without call_id: ev=%+v err=%v", ev, err)
	}

	_, err = tw.ParseEvent(twilioRequest("/api/events/twilio", url.Values{"CallSid": {"CA1"}}))
	if !errors.Is(err, ErrMissingCorrelation) {
		t.Errorf("err = %v, want ErrMissingCorrelation", err)
	}
}

func TestTwilioParseEvent_Signature(t *testing.T) {
	tw := newTestTwilio(t, "", true)
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	signed := "https://relay.example/api/events/twilio?call_id=c1"

	r := twilioRequest("/api/events/twilio?call_id=c1", form)
	r.Header.Set("X-Twilio-Signature", TwilioSignature("secret", signed, form))
	if _, err := tw.ParseEvent(r); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	r = twilioRequest("/api/events/twilio?call_id=c1", form)
	r.Header.Set("X-Twilio-Signature", TwilioSignature("wrong", signed, form))
	if _, err := tw.ParseEvent(r); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestTwilioAcknowledge(t *testing.T) {
	tw := newTestTwilio(t, "", false)

	rec := httptest.NewRecorder()
	tw.Acknowledge(rec, &Event{CallID: "c1", Kind: KindAnswered}, "greeted")
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "<Record") {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	tw.Acknowledge(rec, &Event{CallID: "CA9", Kind: KindIncoming}, "accepted")
	if !strings.Contains(rec.Body.String(), "<Redirect") || !strings.Contains(rec.Body.String(), "call_id=CA9") {
		t.Errorf("incoming body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	tw.Acknowledge(rec, &Event{CallID: "c1", Kind: KindFinished}, "ended")
	if strings.TrimSpace(rec.Body.String()) != `{"status":"ended"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestTwilioFetchRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("missing basic auth")
		}
		w.Header().Set("Content-Type", "audio/x-wav")
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	data, ct, err := newTestTwilio(t, "", false).FetchRecording(context.Background(), srv.URL+"/r/RE1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "RIFF" || ct != "audio/x-wav" {
		t.Errorf("got %q %q", data, ct)
	}
}

func TestTwilioHoldLoopsUntilPlay(t *testing.T) {
	tw := newTestTwilio(t, "", false)

	rec := httptest.NewRecorder()
	tw.Acknowledge(rec, &Event{CallID: "c1", Kind: KindOther, Status: "hold"}, "processed")
	body := rec.Body.String()
	if !strings.Contains(body, `<Pause length="20"/>`) || !strings.Contains(body, "call_id=c1&amp;stage=hold") {
		t.Fatalf("hold body = %s", body)
	}

	// the redirect lands on the hold stage again
	ev, err := tw.ParseEvent(twilioRequest("/api/events/twilio?call_id=c1&stage=hold", url.Values{"CallSid": {"CA1"}}))
	if err != nil || ev.Status != "hold" {
		t.Fatalf("redirect event = %+v, %v", ev, err)
	}
	rec = httptest.NewRecorder()
	tw.Acknowledge(rec, ev, "processed")
	if !strings.Contains(rec.Body.String(), "<Redirect") {
		t.Errorf("second cycle = %s", rec.Body.String())
	}
}
