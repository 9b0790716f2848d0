package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/malikkhubiev/qdrant/internal/metrics"
)

var (
	ErrEmptyText = errors.New("empty text")
	errNoAudio   = errors.New("tts returned no audio")
)

// TTSOptions are per-utterance overrides. Zero values keep the backend defaults.
type TTSOptions struct {
	Speed float64
	Voice string
}

// TTSSynthesizer produces audio from text. Format is the file extension of the
// audio it returns.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
	Format() string
}

type TTSResult struct {
	Audio     []byte  `json:"-"`
	Format    string  `json:"format"`
	LatencyMs float64 `json:"latency_ms"`
}

// TTSRouter picks a synthesizer by engine name.
type TTSRouter struct {
	*Router[TTSSynthesizer]
}

func NewTTSRouter(backends map[string]TTSSynthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize voices text on the chosen engine. Empty input and empty output
// are both errors.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	audio, err := backend.SynthesizeAudio(ctx, text, opts)
	switch {
	case err != nil:
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	case len(audio) == 0:
		metrics.Errors.WithLabelValues("tts", "empty").Inc()
		return nil, errNoAudio
	}
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(elapsed.Seconds())
	return &TTSResult{Audio: audio, Format: backend.Format(), LatencyMs: float64(elapsed.Milliseconds())}, nil
}

// jsonSpeech is a synthesizer that posts a JSON document and receives mp3 bytes.
type jsonSpeech struct {
	label   string
	url     string
	headers map[string]string
	body    func(text string, opts TTSOptions) any
	client  *http.Client
}

func (j *jsonSpeech) Format() string { return "mp3" }

func (j *jsonSpeech) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	payload, err := json.Marshal(j.body(text, opts))
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", j.label, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", j.label, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range j.headers {
		req.Header.Set(k, v)
	}
	return fetchAudio(j.client, j.label, req)
}

// NewOpenAISynthesizer targets any server exposing the OpenAI /v1/audio/speech
// route. An empty apiKey sends no Authorization header.
func NewOpenAISynthesizer(url, apiKey, model, voice string, client *http.Client) TTSSynthesizer {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &jsonSpeech{
		label:   "openai tts",
		url:     url + "/v1/audio/speech",
		headers: headers,
		client:  client,
		body: func(text string, opts TTSOptions) any {
			v := voice
			if opts.Voice != "" {
				v = opts.Voice
			}
			return struct {
				Input          string  `json:"input"`
				Model          string  `json:"model"`
				Voice          string  `json:"voice"`
				Speed          float64 `json:"speed,omitempty"`
				ResponseFormat string  `json:"response_format"`
			}{text, model, v, opts.Speed, "mp3"}
		},
	}
}

// NewElevenLabsSynthesizer uses the ElevenLabs cloud API with a fixed voice.
func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) TTSSynthesizer {
	return &jsonSpeech{
		label: "elevenlabs",
		url:   "https://api.elevenlabs.io/v1/text-to-speech/" + voiceID,
		headers: map[string]string{
			"xi-api-key": apiKey,
			"Accept":     "audio/mpeg",
		},
		client: client,
		body: func(text string, _ TTSOptions) any {
			return map[string]string{"text": text, "model_id": modelID}
		},
	}
}

func fetchAudio(client *http.Client, label string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(label, resp)
	}
	return io.ReadAll(resp.Body)
}
