package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/telephony"
)

type play struct {
	callID, leg, url string
}

type fakeProvider struct {
	mu           sync.Mutex
	plays        []play
	originateErr error
	recording    []byte
	contentType  string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Originate(_ context.Context, _, _ string) (*telephony.Origination, error) {
	if p.originateErr != nil {
		return nil, p.originateErr
	}
	return &telephony.Origination{ProviderSessionID: "leg-0"}, nil
}

func (p *fakeProvider) Play(_ context.Context, callID, leg, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, play{callID, leg, url})
	return nil
}

func (p *fakeProvider) FetchRecording(_ context.Context, url string) ([]byte, string, error) {
	if p.recording == nil {
		return nil, "", errors.New("no recording")
	}
	if p.contentType != "" {
		return p.recording, p.contentType, nil
	}
	return p.recording, "audio/wav", nil
}

func (p *fakeProvider) ParseEvent(*http.Request) (*telephony.Event, error) { return nil, nil }

func (p *fakeProvider) Acknowledge(http.ResponseWriter, *telephony.Event, string) {}

func (p *fakeProvider) Plays() []play {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]play(nil), p.plays...)
}

type fakeSpeech struct {
	mu         sync.Mutex
	transcript string
	sttErr     error
	ttsErr     error
	ttsBlock   chan struct{}
	inputs     []pipeline.AudioInput
	spoken     []string
	n          int
}

func (s *fakeSpeech) SpeechToText(_ context.Context, in pipeline.AudioInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return s.transcript, s.sttErr
}

func (s *fakeSpeech) TextToSpeech(ctx context.Context, text string) (string, error) {
	if s.ttsBlock != nil {
		select {
		case <-s.ttsBlock:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttsErr != nil {
		return "", s.ttsErr
	}
	s.n++
	s.spoken = append(s.spoken, text)
	return fmt.Sprintf("tts_%d.ogg", s.n), nil
}

func (s *fakeSpeech) setTTSErr(err error) {
	s.mu.Lock()
	s.ttsErr = err
	s.mu.Unlock()
}

func (s *fakeSpeech) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *fakeSpeech) Inputs() []pipeline.AudioInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.AudioInput(nil), s.inputs...)
}

type fakeKnowledge struct {
	err error
}

func (k *fakeKnowledge) Retrieve(context.Context, string, int) ([]pipeline.Snippet, error) {
	if k.err != nil {
		return nil, k.err
	}
	return []pipeline.Snippet{{ID: "1", Text: "Цена: 300 руб."}}, nil
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []pipeline.Prompt
	block   chan struct{}
}

func (l *fakeLLM) Complete(ctx context.Context, p pipeline.Prompt, _ string) (*pipeline.LLMResult, error) {
	if l.block != nil {
		select {
		case <-l.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, p)
	if l.err != nil {
		return nil, l.err
	}
	return &pipeline.LLMResult{Text: l.reply}, nil
}

func (l *fakeLLM) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *fakeLLM) Prompts() []pipeline.Prompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pipeline.Prompt(nil), l.prompts...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	attached map[string]bool
	messages []Message
}

func (n *fakeNotifier) Push(callID string, m Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.attached[callID] {
		return false
	}
	n.messages = append(n.messages, m)
	return true
}

func (n *fakeNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}
