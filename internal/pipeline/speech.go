package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// SpeechConfig wires the speech routers to the artifact store.
type SpeechConfig struct {
	STT       *ASRRouter
	STTEngine string
	TTS       *TTSRouter
	TTSEngine string
	Voice     TTSOptions
	Artifacts *ArtifactStore
}

// Speech converts utterances to text and replies to published audio artifacts.
type Speech struct {
	cfg SpeechConfig
}

func NewSpeech(cfg SpeechConfig) *Speech {
	return &Speech{cfg: cfg}
}

// SpeechToText returns the recognized text. An empty transcript is an error.
func (s *Speech) SpeechToText(ctx context.Context, in AudioInput) (string, error) {
	res, err := s.cfg.STT.Transcribe(ctx, in, s.cfg.STTEngine)
	if err != nil {
		return "", fmt.Errorf("speech to text: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("speech to text: nothing recognized")
	}
	return text, nil
}

// TextToSpeech synthesizes text and returns the artifact filename.
func (s *Speech) TextToSpeech(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	res, err := s.cfg.TTS.Synthesize(ctx, text, s.cfg.TTSEngine, s.cfg.Voice)
	if err != nil {
		return "", fmt.Errorf("text to speech: %w", err)
	}
	name, err := s.cfg.Artifacts.Save(res.Audio, res.Format)
	if err != nil {
		return "", fmt.Errorf("text to speech: %w", err)
	}
	return name, nil
}
