package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/malikkhubiev/qdrant/internal/audio"
)

const (
	yandexSTTURL = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"
	yandexTTSURL = "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"
)

// YandexConfig holds SpeechKit credentials and voice settings shared by the
// recognition and synthesis clients.
type YandexConfig struct {
	APIKey   string
	FolderID string
	Lang     string
	Voice    string
	STTURL   string
	TTSURL   string
}

func (c YandexConfig) withDefaults() YandexConfig {
	if c.Lang == "" {
		c.Lang = "ru-RU"
	}
	if c.Voice == "" {
		c.Voice = "alena"
	}
	if c.STTURL == "" {
		c.STTURL = yandexSTTURL
	}
	if c.TTSURL == "" {
		c.TTSURL = yandexTTSURL
	}
	return c
}

func (c YandexConfig) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Api-Key "+c.APIKey)
	if c.FolderID != "" {
		req.Header.Set("x-folder-id", c.FolderID)
	}
}

// YandexSTT recognizes short utterances with the SpeechKit v1 synchronous API.
type YandexSTT struct {
	cfg    YandexConfig
	client *http.Client
}

func NewYandexSTT(cfg YandexConfig, client *http.Client) *YandexSTT {
	return &YandexSTT{cfg: cfg.withDefaults(), client: client}
}

func (y *YandexSTT) Transcribe(ctx context.Context, in AudioInput) (*ASRResult, error) {
	start := time.Now()

	body, params, err := y.prepare(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", y.cfg.STTURL+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create yandex stt request: %w", err)
	}
	y.cfg.authorize(req)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yandex stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("yandex stt", resp)
	}

	var result yandexSTTResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode yandex stt response: %w", err)
	}
	if result.ErrorCode != "" {
		return nil, fmt.Errorf("yandex stt %s: %s", result.ErrorCode, result.ErrorMessage)
	}

	return &ASRResult{
		Text:      strings.TrimSpace(result.Result),
		LatencyMs: float64(time.Since(start).Milliseconds()),
	}, nil
}

// prepare converts the input into one of the two formats the v1 API accepts.
func (y *YandexSTT) prepare(in AudioInput) ([]byte, url.Values, error) {
	params := url.Values{"lang": {y.cfg.Lang}}
	switch in.Encoding {
	case EncodingOggOpus:
		params.Set("format", "oggopus")
		return in.Data, params, nil
	case EncodingLPCM:
		samples, rate := audio.ToSpeechRate(decodeLPCM(in.Data), in.SampleRate)
		params.Set("format", "lpcm")
		params.Set("sampleRateHertz", strconv.Itoa(rate))
		return audio.SamplesToPCM16(samples), params, nil
	case EncodingWAV:
		samples, rate, err := audio.ParseWAV(in.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("yandex stt: %w", err)
		}
		samples, rate = audio.ToSpeechRate(samples, rate)
		params.Set("format", "lpcm")
		params.Set("sampleRateHertz", strconv.Itoa(rate))
		return audio.SamplesToPCM16(samples), params, nil
	}
	return nil, nil, fmt.Errorf("yandex stt: unsupported encoding %q", in.Encoding)
}

type yandexSTTResponse struct {
	Result       string `json:"result"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// YandexTTS synthesizes OggOpus speech with the SpeechKit v1 API.
type YandexTTS struct {
	cfg    YandexConfig
	client *http.Client
}

func NewYandexTTS(cfg YandexConfig, client *http.Client) *YandexTTS {
	return &YandexTTS{cfg: cfg.withDefaults(), client: client}
}

func (y *YandexTTS) Format() string { return "ogg" }

func (y *YandexTTS) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voice := y.cfg.Voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	form := url.Values{
		"text":   {text},
		"lang":   {y.cfg.Lang},
		"voice":  {voice},
		"format": {"oggopus"},
	}
	if opts.Speed > 0 {
		form.Set("speed", strconv.FormatFloat(opts.Speed, 'f', 1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", y.cfg.TTSURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create yandex tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	y.cfg.authorize(req)

	return fetchAudio(y.client, "yandex tts", req)
}
