package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestChunkText(t *testing.T) {
	text := "первый абзац\n\nвторой абзац\n\n\n\n" + strings.Repeat("x", 30)
	chunks := chunkText(text, 60)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %q", chunks)
	}
	if !strings.Contains(chunks[0], "первый") || !strings.Contains(chunks[0], "второй") {
		t.Errorf("first chunk = %q", chunks[0])
	}
	if chunks[1] != strings.Repeat("x", 30) {
		t.Errorf("second chunk = %q", chunks[1])
	}
	if got := chunkText("  \n\n ", 10); len(got) != 0 {
		t.Errorf("blank text chunks = %q", got)
	}
}

func TestLoadDocument_ConvertsHTML(t *testing.T) {
	dir := t.TempDir()
	html := filepath.Join(dir, "tariffs.html")
	os.WriteFile(html, []byte("<html><body><h1>Тарифы</h1><p>Хостинг от 300 рублей.</p></body></html>"), 0o644)
	txt := filepath.Join(dir, "faq.txt")
	os.WriteFile(txt, []byte("<b>как есть</b>"), 0o644)

	md, err := loadDocument(html)
	if err != nil {
		t.Fatalf("loadDocument html: %v", err)
	}
	if strings.Contains(md, "<p>") || !strings.Contains(md, "Тарифы") || !strings.Contains(md, "300 рублей") {
		t.Errorf("markdown = %q", md)
	}

	plain, err := loadDocument(txt)
	if err != nil {
		t.Fatalf("loadDocument txt: %v", err)
	}
	if plain != "<b>как есть</b>" {
		t.Errorf("txt = %q", plain)
	}
}

func TestInitiateCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/calls/initiate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["phone_number"] == "+70000000000" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"Call failed"}`))
			return
		}
		w.Write([]byte(`{"call_id":"abc","status":"initiated","message":"Call started"}`))
	}))
	defer srv.Close()

	id, err := initiateCall(context.Background(), srv.Client(), srv.URL+"/", "+79991234567")
	if err != nil || id != "abc" {
		t.Fatalf("initiateCall = %q, %v", id, err)
	}
	if _, err = initiateCall(context.Background(), srv.Client(), srv.URL, "+70000000000"); err == nil || !strings.Contains(err.Error(), "Call failed") {
		t.Errorf("rejected call err = %v", err)
	}
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL("https://relay.example.com/", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "wss://relay.example.com/ws/c1?codec=pcm&sample_rate=16000" {
		t.Errorf("url = %s", got)
	}
}

func TestPercentile(t *testing.T) {
	data := []float64{50, 10, 40, 20, 30}
	if p := percentile(data, 50); p != 30 {
		t.Errorf("p50 = %v", p)
	}
	if p := percentile(data, 99); p != 50 {
		t.Errorf("p99 = %v", p)
	}
}

func TestSyntheticSpeechLength(t *testing.T) {
	if n := len(syntheticSpeech(2 * time.Second)); n != 2*loadtestRate*2 {
		t.Errorf("len = %d", n)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Setenv("TELEPHONY_PROVIDER", "sipuni")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	providers, err := buildProviders(loadConfig())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if got := providers.Engines(); len(got) != 2 || got[0] != "sipuni" || got[1] != "twilio" {
		t.Errorf("engines = %v", got)
	}
	def, _ := providers.Default()
	if def.Name() != "sipuni" {
		t.Errorf("default = %s", def.Name())
	}

	t.Setenv("TELEPHONY_PROVIDER", "asterisk")
	if _, err = buildProviders(loadConfig()); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"RELAY_PORT", "IDLE_TIMEOUT", "RAG_TOP_K", "GREET_ON_ANSWER"} {
		t.Setenv(k, "")
	}
	cfg := loadConfig()
	if cfg.port != "8000" || cfg.idleTimeout != 1500*time.Millisecond || cfg.ragTopK != 3 || !cfg.greetOnAnswer {
		t.Errorf("defaults = %+v", cfg)
	}
}
