package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/malikkhubiev/qdrant/internal/audio"
	"github.com/malikkhubiev/qdrant/internal/metrics"
)

// Encoding names the container/sample format of an audio payload.
type Encoding string

const (
	EncodingLPCM    Encoding = "lpcm" // signed 16-bit little-endian mono
	EncodingOggOpus Encoding = "oggopus"
	EncodingWAV     Encoding = "wav"
	EncodingMP3     Encoding = "mp3"
)

var ErrEmptyAudio = errors.New("empty audio")

// AudioInput is an utterance handed to speech recognition.
type AudioInput struct {
	Data       []byte
	Encoding   Encoding
	SampleRate int // only meaningful for LPCM
}

// DetectEncoding classifies a fetched recording. The payload's leading
// bytes win over the declared content type and the URL extension; anything
// unrecognized is sent as OggOpus, the recognizer's native format.
func DetectEncoding(data []byte, contentType, url string) Encoding {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return EncodingOggOpus
	case bytes.HasPrefix(data, []byte("RIFF")):
		return EncodingWAV
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return EncodingMP3
	}
	switch {
	case contains(contentType, "wav"), hasSuffix(url, ".wav"):
		return EncodingWAV
	case contains(contentType, "mpeg"), contains(contentType, "mp3"), hasSuffix(url, ".mp3"):
		return EncodingMP3
	}
	return EncodingOggOpus
}

// ASRTranscriber produces transcriptions from audio.
type ASRTranscriber interface {
	Transcribe(ctx context.Context, in AudioInput) (*ASRResult, error)
}

// ASRResult holds the transcription output.
type ASRResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// ASRRouter dispatches to the correct ASR backend based on engine name.
type ASRRouter struct {
	*Router[ASRTranscriber]
}

// NewASRRouter creates a router with registered ASR backends and a fallback default.
func NewASRRouter(backends map[string]ASRTranscriber, fallback string) *ASRRouter {
	return &ASRRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the correct backend and transcribes the audio.
func (r *ASRRouter) Transcribe(ctx context.Context, in AudioInput, engine string) (*ASRResult, error) {
	if len(in.Data) == 0 {
		return nil, ErrEmptyAudio
	}
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := backend.Transcribe(ctx, in)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "request").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())
	return res, nil
}

// MultipartASRClient sends audio as a multipart upload to any whisper-compatible
// HTTP endpoint (/inference for whisper.cpp, /v1/audio/transcriptions for
// OpenAI-style servers).
type MultipartASRClient struct {
	url      string
	endpoint string
	label    string
	client   *http.Client
}

// NewWhisperClient creates a client for a whisper-compatible server.
func NewWhisperClient(url, endpoint string, poolSize int) *MultipartASRClient {
	if endpoint == "" {
		endpoint = "/inference"
	}
	return &MultipartASRClient{
		url:      url,
		endpoint: endpoint,
		label:    "whisper",
		client:   NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Transcribe uploads the utterance and returns the transcript.
func (c *MultipartASRClient) Transcribe(ctx context.Context, in AudioInput) (*ASRResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(c.label, resp)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.label, err)
	}

	return &ASRResult{
		Text:      result.Text,
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(in AudioInput) (*bytes.Buffer, string, error) {
	data, name := in.Data, "audio."+string(in.Encoding)
	switch in.Encoding {
	case EncodingLPCM:
		data = audio.SamplesToWAV(decodeLPCM(in.Data), in.SampleRate)
		name = "audio.wav"
	case EncodingOggOpus:
		name = "audio.ogg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

func decodeLPCM(data []byte) []float32 {
	samples, _, _ := audio.Decode(data, audio.CodecPCM, 0)
	return samples
}

func contains(s, sub string) bool { return strings.Contains(strings.ToLower(s), sub) }

func hasSuffix(s, suffix string) bool {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.HasSuffix(strings.ToLower(s), suffix)
}
