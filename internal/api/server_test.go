package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/malikkhubiev/qdrant/internal/orchestrator"
	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/session"
	"github.com/malikkhubiev/qdrant/internal/telephony"
)

type stubTTS struct{}

func (stubTTS) SynthesizeAudio(_ context.Context, text string, _ pipeline.TTSOptions) ([]byte, error) {
	return []byte("OggS" + text), nil
}

func (stubTTS) Format() string { return "ogg" }

type stubLLM struct{}

func (stubLLM) Complete(context.Context, pipeline.Prompt) (*pipeline.LLMResult, error) {
	return &pipeline.LLMResult{Text: "Хостинг стоит 300 рублей."}, nil
}

// sipuniFake records playback requests and answers originations.
type sipuniFake struct {
	mu     sync.Mutex
	plays  []map[string]any
	result string
	status int
}

func (f *sipuniFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.URL.Path == "/callback/play" {
		f.plays = append(f.plays, body)
	}
	w.Write([]byte(`{"result":"` + f.result + `","message":"rejected"}`))
}

func (f *sipuniFake) respond(result string, status int) {
	f.mu.Lock()
	f.result, f.status = result, status
	f.mu.Unlock()
}

func (f *sipuniFake) Plays() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.plays...)
}

type testRelay struct {
	srv    *httptest.Server
	orch   *orchestrator.Orchestrator
	sipuni *sipuniFake
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	fake := &sipuniFake{result: "success"}
	sipSrv := httptest.NewServer(fake)
	t.Cleanup(sipSrv.Close)

	artifacts, err := pipeline.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	providers := pipeline.NewRouter(map[string]telephony.Provider{
		"sipuni": telephony.NewSipuni(telephony.SipuniConfig{APIURL: sipSrv.URL}, sipSrv.Client()),
	}, "sipuni")

	orch := orchestrator.New(orchestrator.Config{
		Store:     session.NewStore(40),
		Providers: providers,
		Speech: pipeline.NewSpeech(pipeline.SpeechConfig{
			TTS:       pipeline.NewTTSRouter(map[string]pipeline.TTSSynthesizer{"stub": stubTTS{}}, "stub"),
			TTSEngine: "stub",
			Artifacts: artifacts,
		}),
		Knowledge:     pipeline.NewStaticKnowledge(pipeline.DefaultSnippets()),
		LLM:           pipeline.NewLLMRouter(map[string]pipeline.Completer{"stub": stubLLM{}}, "stub"),
		Artifacts:     artifacts,
		BaseURL:       "https://relay.example",
		GreetOnAnswer: true,
	})

	srv := httptest.NewServer(NewHandler(Deps{Calls: orch, Providers: providers, Artifacts: artifacts}))
	t.Cleanup(srv.Close)
	return &testRelay{srv: srv, orch: orch, sipuni: fake}
}

func (tr *testRelay) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(tr.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestScenario_HTTP(t *testing.T) {
	tr := newTestRelay(t)

	code, out := tr.post(t, "/api/calls/initiate", `{"phone_number":"+79990000000"}`)
	if code != http.StatusOK || out["status"] != "initiated" {
		t.Fatalf("initiate = %d %v", code, out)
	}
	callID := out["call_id"].(string)

	_, out = tr.post(t, "/api/events/sipuni", `{"custom_data":"`+callID+`","call_id":"sp-1","status":"answered"}`)
	if out["status"] != "greeted" {
		t.Fatalf("answered ack = %v", out)
	}
	tr.orch.Wait()

	plays := tr.sipuni.Plays()
	if len(plays) != 1 || plays[0]["call_id"] != "sp-1" {
		t.Fatalf("plays = %v", plays)
	}
	audioURL := plays[0]["audio_url"].(string)
	filename := strings.TrimPrefix(audioURL, "https://relay.example/audio/")

	resp, err := http.Get(tr.srv.URL + "/audio/" + filename)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/ogg" || len(body) == 0 {
		t.Errorf("audio = %d %s %d bytes", resp.StatusCode, resp.Header.Get("Content-Type"), len(body))
	}

	_, out = tr.post(t, "/sipuni_events", `{"custom_data":"`+callID+`","status":"finished"}`)
	if out["status"] != "ended" {
		t.Errorf("finished ack = %v", out)
	}
	_, out = tr.post(t, "/api/events/sipuni", `{"custom_data":"`+callID+`","record_url":"https://x/r.wav"}`)
	if out["status"] != "unknown_call" {
		t.Errorf("late ack = %v", out)
	}
}

func TestInitiate_Errors(t *testing.T) {
	tr := newTestRelay(t)

	code, out := tr.post(t, "/initiate_call", `{"phone_number":""}`)
	if code != http.StatusBadRequest || out["detail"] == nil {
		t.Errorf("empty phone = %d %v", code, out)
	}

	tr.sipuni.respond("error", 0)
	code, out = tr.post(t, "/initiate_call", `{"phone_number":"+7"}`)
	if code != http.StatusBadRequest || out["detail"] != "rejected" {
		t.Errorf("rejected = %d %v", code, out)
	}

	tr.sipuni.respond("", http.StatusInternalServerError)
	code, _ = tr.post(t, "/api/calls/initiate", `{"phone_number":"+7"}`)
	if code != http.StatusBadGateway {
		t.Errorf("upstream failure = %d, want 502", code)
	}

	if snaps := tr.orch.Snapshots(); len(snaps) != 0 {
		t.Errorf("sessions left after failed originations: %d", len(snaps))
	}
}

func TestEvent_MissingCorrelation(t *testing.T) {
	tr := newTestRelay(t)
	code, out := tr.post(t, "/api/events/sipuni", `{"status":"answered"}`)
	if code != http.StatusBadRequest || out["status"] != "error" {
		t.Errorf("got %d %v", code, out)
	}
	code, _ = tr.post(t, "/api/events/nope", `{}`)
	if code != http.StatusNotFound {
		t.Errorf("unknown provider = %d", code)
	}
}

func TestAudio_NotFound(t *testing.T) {
	tr := newTestRelay(t)
	for _, name := range []string{"tts_missing.ogg", "secret.txt"} {
		resp, err := http.Get(tr.srv.URL + "/audio/" + name)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]string
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound || out["error"] != "File not found" {
			t.Errorf("%s: %d %v", name, resp.StatusCode, out)
		}
	}
}

func TestRootSendResponseAndCORS(t *testing.T) {
	tr := newTestRelay(t)

	resp, err := http.Get(tr.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]string
	json.NewDecoder(resp.Body).Decode(&root)
	resp.Body.Close()
	if root["status"] != "ok" || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("root = %v, cors = %q", root, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	_, out := tr.post(t, "/send_response", `{"call_id":"nope","text":"hi"}`)
	if out["status"] != "unknown_call" {
		t.Errorf("send_response = %v", out)
	}

	req, _ := http.NewRequest(http.MethodOptions, tr.srv.URL+"/api/calls/initiate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}
