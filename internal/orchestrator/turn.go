package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/malikkhubiev/qdrant/internal/audio"
	"github.com/malikkhubiev/qdrant/internal/metrics"
	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/session"
	"github.com/malikkhubiev/qdrant/internal/telephony"
)

// apologyTimeout bounds the apology when the turn itself ran out of time.
const apologyTimeout = 15 * time.Second

// turnInput is what started a turn. Exactly one source is set; reply skips
// recognition and completion and speaks the text as is.
type turnInput struct {
	trigger      string
	audio        *pipeline.AudioInput
	recordingURL string
	text         string
	reply        string
}

// startTurn runs the turn in the background. The session must already be
// ANSWERING. Only the answer pipeline holds an admission slot; a turn that
// cannot get one, like any failed turn, still delivers the apology.
func (o *Orchestrator) startTurn(sess *session.Session, in turnInput) {
	o.turns.Add(1)
	go func() {
		defer o.turns.Done()
		defer sess.EndTurn()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TurnTimeout)
		defer cancel()

		start := time.Now()
		turnID := o.cfg.Tracer.StartTurn(sess.ID(), in.trigger)

		var question, reply, artifact string
		err := o.sem.Acquire(ctx, 1)
		if err != nil {
			metrics.TurnsRejected.Inc()
			err = fmt.Errorf("turn not admitted: %w", err)
		} else {
			question, reply, artifact, err = o.answer(ctx, sess, in, turnID)
			o.sem.Release(1)
		}
		o.finishTurn(ctx, sess, in, turnID, start, question, reply, artifact, err)
	}()
}

// answer produces the reply and its audio.
func (o *Orchestrator) answer(ctx context.Context, sess *session.Session, in turnInput, turnID string) (question, reply, artifact string, err error) {
	question, reply, err = o.compose(ctx, sess, in, turnID)
	if err != nil {
		return question, "", "", err
	}
	artifact, err = o.synthesize(ctx, turnID, reply)
	return question, reply, artifact, err
}

// finishTurn substitutes the apology for a failed answer, then delivers
// exactly once.
func (o *Orchestrator) finishTurn(ctx context.Context, sess *session.Session, in turnInput, turnID string, start time.Time, question, reply, artifact string, err error) {
	log := slog.With("call_id", sess.ID(), "trigger", in.trigger)

	status := "ok"
	if err != nil {
		log.Error("turn failed, apologizing", "error", err)
		metrics.Apologies.Inc()
		status = "apology"
		reply = o.cfg.Apology
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
			defer cancel()
		}
		artifact, err = o.apologyArtifact(ctx, turnID)
		if err != nil {
			log.Error("apology synthesis failed", "error", err)
		}
	}

	o.deliver(ctx, sess, turnID, reply, artifact)

	elapsed := time.Since(start)
	metrics.TurnDuration.Observe(elapsed.Seconds())
	o.cfg.Tracer.FinishTurn(turnID, float64(elapsed.Milliseconds()), question, reply, status)
	log.Info("turn done", "status", status, "question", question, "reply", reply, "ms", elapsed.Milliseconds())
}

// compose produces the reply text: recognize, retrieve, prompt, complete,
// then record the exchange.
func (o *Orchestrator) compose(ctx context.Context, sess *session.Session, in turnInput, turnID string) (string, string, error) {
	if in.reply != "" {
		sess.AppendHistory(session.SpeakerAgent, in.reply, o.now())
		return "", in.reply, nil
	}

	question, err := o.question(ctx, sess, in, turnID)
	if err != nil {
		return "", "", err
	}
	sess.SetQuestion(question)

	start := time.Now()
	snippets, err := o.cfg.Knowledge.Retrieve(ctx, question, o.cfg.TopK)
	o.cfg.Tracer.RecordStage(turnID, "knowledge", start, question, strconv.Itoa(len(snippets))+" snippets", err)
	if err != nil {
		metrics.Errors.WithLabelValues("knowledge", "retrieve").Inc()
		return question, "", fmt.Errorf("knowledge: %w", err)
	}
	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = s.Text
	}

	history := sess.RecentHistory(o.cfg.PromptHistoryTurns)
	prompt := pipeline.Prompt{
		System: o.cfg.SystemPrompt,
		User:   o.cfg.Prompts.Build(question, texts, history),
	}

	start = time.Now()
	res, err := o.cfg.LLM.Complete(ctx, prompt, o.cfg.LLMEngine)
	out := ""
	if res != nil {
		out = res.Text
	}
	o.cfg.Tracer.RecordStage(turnID, "llm", start, prompt.User, out, err)
	if err != nil {
		return question, "", fmt.Errorf("completion: %w", err)
	}

	now := o.now()
	sess.AppendHistory(session.SpeakerClient, question, now)
	sess.AppendHistory(session.SpeakerAgent, res.Text, now)
	if o.cfg.History != nil {
		o.cfg.History.StoreAsync(ctx, sess.ID(), question, res.Text)
	}
	return question, res.Text, nil
}

func (o *Orchestrator) question(ctx context.Context, sess *session.Session, in turnInput, turnID string) (string, error) {
	if in.text != "" {
		return in.text, nil
	}

	var input pipeline.AudioInput
	switch {
	case in.audio != nil:
		input = *in.audio
	case in.recordingURL != "":
		var err error
		input, err = o.fetchRecording(ctx, sess, in.recordingURL, turnID)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("turn has no input")
	}

	start := time.Now()
	text, err := o.cfg.Speech.SpeechToText(ctx, input)
	o.cfg.Tracer.RecordStage(turnID, "stt", start, fmt.Sprintf("%s bytes=%d", input.Encoding, len(input.Data)), text, err)
	return text, err
}

func (o *Orchestrator) fetchRecording(ctx context.Context, sess *session.Session, url, turnID string) (pipeline.AudioInput, error) {
	provider, err := o.providerFor(sess)
	if err != nil {
		return pipeline.AudioInput{}, err
	}
	start := time.Now()
	data, contentType, err := provider.FetchRecording(ctx, url)
	o.cfg.Tracer.RecordStage(turnID, "fetch", start, url, contentType, err)
	metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("fetch", "request").Inc()
		return pipeline.AudioInput{}, fmt.Errorf("fetch recording: %w", err)
	}
	return pipeline.AudioInput{Data: data, Encoding: pipeline.DetectEncoding(data, contentType, url)}, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, turnID, text string) (string, error) {
	start := time.Now()
	name, err := o.cfg.Speech.TextToSpeech(ctx, text)
	o.cfg.Tracer.RecordStage(turnID, "tts", start, text, name, err)
	return name, err
}

// apologyArtifact returns the cached apology audio, synthesizing it on a
// miss. Synthesis runs unlocked so one slow request does not queue every
// other call's apology behind it.
func (o *Orchestrator) apologyArtifact(ctx context.Context, turnID string) (string, error) {
	if name := o.cachedApology(); name != "" {
		return name, nil
	}
	name, err := o.synthesize(ctx, turnID, o.cfg.Apology)
	if err != nil {
		return "", err
	}
	o.apologyMu.Lock()
	o.apologyFile = name
	o.apologyMu.Unlock()
	return name, nil
}

// cachedApology returns the cached artifact while it still exists.
func (o *Orchestrator) cachedApology() string {
	o.apologyMu.Lock()
	defer o.apologyMu.Unlock()
	if o.apologyFile == "" || o.cfg.Artifacts == nil {
		return o.apologyFile
	}
	if _, err := o.cfg.Artifacts.Path(o.apologyFile); err != nil {
		o.apologyFile = ""
	}
	return o.apologyFile
}

// deliver pushes the reply to the socket and plays it into the provider leg.
// Playback needs a provider session id and a live call.
func (o *Orchestrator) deliver(ctx context.Context, sess *session.Session, turnID, text, artifact string) {
	msg := Message{Type: "agent_message", Text: text}
	if artifact != "" {
		msg.AudioURL = o.AudioURL(artifact)
	}
	o.notify(sess.ID(), msg)

	if artifact == "" {
		return
	}
	leg := sess.ProviderSessionID()
	if leg == "" || sess.State() == session.StateEnded {
		return
	}
	provider, err := o.providerFor(sess)
	if err != nil {
		slog.Error("playback provider", "call_id", sess.ID(), "error", err)
		return
	}

	start := time.Now()
	err = provider.Play(ctx, sess.ID(), leg, msg.AudioURL)
	o.cfg.Tracer.RecordStage(turnID, "play", start, msg.AudioURL, "", err)
	metrics.StageDuration.WithLabelValues("play").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("play", provider.Name()).Inc()
		slog.Error("play audio", "call_id", sess.ID(), "provider", provider.Name(), "error", err)
	}
}

func (o *Orchestrator) providerFor(sess *session.Session) (telephony.Provider, error) {
	if name := sess.Provider(); name != "" {
		return o.cfg.Providers.Route(name)
	}
	return o.cfg.Providers.Default()
}

// streamInput converts a flushed socket buffer into recognizer input and
// reports whether it is silence.
func (o *Orchestrator) streamInput(f session.StreamFormat, data []byte) (pipeline.AudioInput, bool, error) {
	if f.Codec == audio.CodecOggOpus {
		return pipeline.AudioInput{Data: data, Encoding: pipeline.EncodingOggOpus}, false, nil
	}
	samples, rate, err := audio.Decode(data, f.Codec, f.SampleRate)
	if err != nil {
		return pipeline.AudioInput{}, false, err
	}
	if audio.IsSilent(samples, o.cfg.SilenceThresholdDB) {
		return pipeline.AudioInput{}, true, nil
	}
	if f.Codec != audio.CodecPCM {
		data = audio.SamplesToPCM16(samples)
	}
	return pipeline.AudioInput{Data: data, Encoding: pipeline.EncodingLPCM, SampleRate: rate}, false, nil
}
