package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestYandexTTS_PostsOggOpusForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Api-Key k" || r.Header.Get("x-folder-id") != "f" {
			t.Errorf("auth headers = %v", r.Header)
		}
		r.ParseForm()
		if r.Form.Get("text") != "Добрый день" || r.Form.Get("format") != "oggopus" ||
			r.Form.Get("voice") != "alena" || r.Form.Get("lang") != "ru-RU" {
			t.Errorf("form = %v", r.Form)
		}
		w.Write([]byte("OggS-audio"))
	}))
	defer srv.Close()

	tts := NewYandexTTS(YandexConfig{APIKey: "k", FolderID: "f", TTSURL: srv.URL}, srv.Client())
	router := NewTTSRouter(map[string]TTSSynthesizer{"yandex": tts}, "yandex")

	res, err := router.Synthesize(context.Background(), "Добрый день", "yandex", TTSOptions{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Format != "ogg" || string(res.Audio) != "OggS-audio" {
		t.Errorf("result = %s %q", res.Format, res.Audio)
	}
}

func TestOpenAISynthesizer_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" || r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("request = %s %v", r.URL.Path, r.Header)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "nova" || body["response_format"] != "mp3" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	s := NewOpenAISynthesizer(srv.URL, "sk", "tts-1", "alloy", srv.Client())
	data, err := s.SynthesizeAudio(context.Background(), "hi", TTSOptions{Voice: "nova"})
	if err != nil || string(data) != "ID3" {
		t.Errorf("SynthesizeAudio = %q, %v", data, err)
	}
}

func TestTTSRouter_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty/v1/audio/speech" {
			return
		}
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	router := NewTTSRouter(map[string]TTSSynthesizer{
		"down":  NewOpenAISynthesizer(srv.URL, "", "m", "v", srv.Client()),
		"empty": NewOpenAISynthesizer(srv.URL+"/empty", "", "m", "v", srv.Client()),
	}, "down")

	if _, err := router.Synthesize(context.Background(), "", "down", TTSOptions{}); err != ErrEmptyText {
		t.Errorf("empty text err = %v", err)
	}
	if _, err := router.Synthesize(context.Background(), "hi", "down", TTSOptions{}); err == nil {
		t.Error("upstream 429 should fail")
	}
	if _, err := router.Synthesize(context.Background(), "hi", "empty", TTSOptions{}); err == nil {
		t.Error("empty audio should fail")
	}
}
