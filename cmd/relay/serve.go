package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malikkhubiev/qdrant/internal/api"
	"github.com/malikkhubiev/qdrant/internal/models"
	"github.com/malikkhubiev/qdrant/internal/orchestrator"
	"github.com/malikkhubiev/qdrant/internal/pipeline"
	"github.com/malikkhubiev/qdrant/internal/prompts"
	"github.com/malikkhubiev/qdrant/internal/session"
	"github.com/malikkhubiev/qdrant/internal/telephony"
	"github.com/malikkhubiev/qdrant/internal/trace"
	"github.com/malikkhubiev/qdrant/internal/ws"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg.logLevel)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	artifacts, err := pipeline.NewArtifactStore(cfg.audioDir)
	if err != nil {
		return err
	}
	janitor, err := pipeline.NewJanitor(artifacts, cfg.audioJanitorSchedule, cfg.audioRetention)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	speech := buildSpeech(cfg, artifacts)

	llm, err := buildLLM(initCtx, cfg)
	if err != nil {
		return err
	}

	knowledge, history, err := buildKnowledge(initCtx, cfg)
	if err != nil {
		return err
	}

	var counter prompts.Counter
	if tc, tcErr := prompts.NewTiktokenCounter(cfg.llmModel); tcErr == nil {
		counter = tc
	} else {
		slog.Warn("tiktoken unavailable, estimating prompt tokens", "error", tcErr)
	}

	var (
		tracer *trace.Tracer
		traces api.TraceReader
	)
	if cfg.traceDatabaseURL != "" {
		store, openErr := trace.Open(cfg.traceDatabaseURL)
		if openErr != nil {
			return fmt.Errorf("open trace store: %w", openErr)
		}
		defer store.Close()
		tracer = trace.NewTracer(store)
		defer tracer.Close()
		traces = store
		slog.Info("call tracing enabled")
	}

	hub := ws.NewHub()
	ocfg := orchestrator.Config{
		Store:              session.NewStore(cfg.historyLimit),
		Providers:          providers,
		Speech:             speech,
		Knowledge:          knowledge,
		LLM:                llm,
		LLMEngine:          cfg.llmEngine,
		Prompts:            prompts.NewBuilder(counter, cfg.promptHistoryTurns, cfg.promptTokenBudget),
		Notifier:           hub,
		Artifacts:          artifacts,
		Tracer:             tracer,
		BaseURL:            cfg.baseURL,
		SystemPrompt:       cfg.llmSystemPrompt,
		Greeting:           cfg.greeting,
		Apology:            cfg.apology,
		GreetOnAnswer:      cfg.greetOnAnswer,
		TopK:               cfg.ragTopK,
		PromptHistoryTurns: cfg.promptHistoryTurns,
		IdleTimeout:        cfg.idleTimeout,
		TurnTimeout:        cfg.turnTimeout,
		MaxConcurrentTurns: int64(cfg.maxConcurrentTurns),
		SilenceThresholdDB: cfg.silenceThresholdDB,
	}
	if history != nil {
		ocfg.History = history
		defer history.Wait()
	}
	orch := orchestrator.New(ocfg)

	handler := api.NewHandler(api.Deps{
		Calls:     orch,
		Providers: providers,
		Artifacts: artifacts,
		Stream: ws.NewHandler(ws.HandlerConfig{
			Calls:         orch,
			Hub:           hub,
			MaxConcurrent: int64(cfg.maxConcurrentConns),
			CheckInterval: cfg.idleCheckInterval,
		}),
		Metrics: promhttp.Handler(),
		Traces:  traces,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(ctx)
	}()

	slog.Info("relay starting",
		"port", cfg.port,
		"base_url", cfg.baseURL,
		"telephony", providers.Engines(),
		"stt", cfg.sttEngine,
		"tts", cfg.ttsEngine,
		"llm", cfg.llmEngine,
		"knowledge", cfg.knowledgeSource,
	)
	if err = srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err = <-shutdownErr; err != nil {
		slog.Warn("shutdown", "error", err)
	}
	orch.Wait()
	return nil
}

// buildProviders registers every telephony provider that has credentials,
// plus the configured default even when its credentials are missing so that
// misconfiguration surfaces as upstream errors rather than a silent fallback.
func buildProviders(cfg config) (*pipeline.Router[telephony.Provider], error) {
	backends := map[string]telephony.Provider{}

	if cfg.sipuniAPIKey != "" || cfg.telephonyProvider == "sipuni" {
		backends["sipuni"] = telephony.NewSipuni(telephony.SipuniConfig{
			APIKey:     cfg.sipuniAPIKey,
			SIPID:      cfg.sipuniSIPID,
			CallerID:   cfg.sipuniCallerID,
			APIURL:     cfg.sipuniAPIURL,
			WebhookURL: cfg.baseURL + "/api/events/sipuni",
		}, nil)
	}
	if cfg.twilioAccountSID != "" || cfg.telephonyProvider == "twilio" {
		tw, err := telephony.NewTwilio(telephony.TwilioConfig{
			AccountSID:        cfg.twilioAccountSID,
			AuthToken:         cfg.twilioAuthToken,
			FromNumber:        cfg.twilioFromNumber,
			APIURL:            cfg.twilioAPIURL,
			WebhookURL:        cfg.baseURL + "/api/events/twilio",
			ValidateSignature: cfg.twilioValidateSig,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("twilio: %w", err)
		}
		backends["twilio"] = tw
	}

	if _, ok := backends[cfg.telephonyProvider]; !ok {
		return nil, fmt.Errorf("unknown telephony provider %q", cfg.telephonyProvider)
	}
	return pipeline.NewRouter(backends, cfg.telephonyProvider), nil
}

func buildSpeech(cfg config, artifacts *pipeline.ArtifactStore) *pipeline.Speech {
	yc := pipeline.YandexConfig{
		APIKey:   cfg.yandexAPIKey,
		FolderID: cfg.yandexFolderID,
		Lang:     cfg.yandexLang,
		Voice:    cfg.yandexVoice,
	}
	speechClient := pipeline.NewPooledHTTPClient(cfg.speechPoolSize, 30*time.Second)

	stt := map[string]pipeline.ASRTranscriber{
		"yandex": pipeline.NewYandexSTT(yc, speechClient),
	}
	if cfg.whisperURL != "" {
		stt["whisper"] = pipeline.NewWhisperClient(cfg.whisperURL, cfg.whisperEndpoint, cfg.speechPoolSize)
	}

	tts := map[string]pipeline.TTSSynthesizer{
		"yandex": pipeline.NewYandexTTS(yc, speechClient),
	}
	if cfg.openaiTTSURL != "" {
		tts["openai"] = pipeline.NewOpenAISynthesizer(cfg.openaiTTSURL, cfg.openaiTTSKey, cfg.openaiTTSModel, cfg.openaiTTSVoice, speechClient)
	}
	if cfg.elevenlabsAPIKey != "" {
		tts["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, speechClient)
	}

	return pipeline.NewSpeech(pipeline.SpeechConfig{
		STT:       pipeline.NewASRRouter(stt, "yandex"),
		STTEngine: cfg.sttEngine,
		TTS:       pipeline.NewTTSRouter(tts, "yandex"),
		TTSEngine: cfg.ttsEngine,
		Voice:     pipeline.TTSOptions{Speed: cfg.ttsSpeed},
		Artifacts: artifacts,
	})
}

func buildLLM(ctx context.Context, cfg config) (*pipeline.LLMRouter, error) {
	backends := map[string]pipeline.Completer{
		"openai": pipeline.NewOpenAIChatClient(pipeline.OpenAIChatConfig{
			APIKey:      cfg.deepseekAPIKey,
			BaseURL:     cfg.llmBaseURL,
			Model:       cfg.llmModel,
			Temperature: cfg.llmTemperature,
			MaxTokens:   cfg.llmMaxTokens,
			HTTPClient:  pipeline.NewPooledHTTPClient(cfg.llmPoolSize, 60*time.Second),
		}),
		"agent": pipeline.NewAgentCompleter(pipeline.AgentConfig{
			APIKey:      cfg.deepseekAPIKey,
			BaseURL:     cfg.llmBaseURL,
			Model:       cfg.llmModel,
			Temperature: cfg.llmTemperature,
			MaxTokens:   cfg.llmMaxTokens,
		}),
		"ollama": pipeline.NewOllamaLLMClient(cfg.ollamaURL, cfg.ollamaModel, cfg.llmMaxTokens, cfg.llmPoolSize),
	}
	if cfg.anthropicAPIKey != "" {
		backends["anthropic"] = pipeline.NewAnthropicLLMClient(cfg.anthropicAPIKey, cfg.anthropicURL, cfg.anthropicModel, cfg.llmTemperature, cfg.llmMaxTokens, cfg.llmPoolSize)
	}
	if cfg.geminiAPIKey != "" {
		gc, err := pipeline.NewGeminiCompleter(ctx, pipeline.GeminiConfig{
			APIKey:      cfg.geminiAPIKey,
			BaseURL:     cfg.geminiURL,
			Model:       cfg.geminiModel,
			Temperature: cfg.llmTemperature,
			MaxTokens:   cfg.llmMaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		backends["gemini"] = gc
	}

	if cfg.llmEngine == "ollama" {
		go models.NewOllama(cfg.ollamaURL, nil).Warm(context.Background(), cfg.ollamaModel, 10*time.Minute, func(err error) {
			if err != nil {
				slog.Warn("ollama model not ready", "model", cfg.ollamaModel, "error", err)
				return
			}
			slog.Info("ollama model ready", "model", cfg.ollamaModel)
		})
	}

	return pipeline.NewLLMRouter(backends, "openai"), nil
}

// buildKnowledge returns the retrieval source selected by KNOWLEDGE_SOURCE and,
// when enabled, the call history recorder. Both Qdrant-backed parts share one
// embedder and client.
func buildKnowledge(ctx context.Context, cfg config) (pipeline.KnowledgeSource, *pipeline.CallHistoryClient, error) {
	sources := map[string]pipeline.KnowledgeSource{
		"static": pipeline.NewStaticKnowledge(pipeline.DefaultSnippets()),
	}
	if cfg.knowledgeSource != "qdrant" && !cfg.callHistory {
		knowledge, err := pipeline.NewRouter(sources, "static").Route(cfg.knowledgeSource)
		return knowledge, nil, err
	}

	embedder := pipeline.NewEmbeddingClient(cfg.ollamaURL, cfg.embeddingModel, cfg.qdrantPoolSize)
	qdrant := pipeline.NewQdrantClient(cfg.qdrantURL, cfg.qdrantPoolSize)

	if cfg.knowledgeSource == "qdrant" {
		if err := qdrant.EnsureCollection(ctx, "knowledge_base", cfg.vectorSize); err != nil {
			return nil, nil, fmt.Errorf("ensure knowledge_base: %w", err)
		}
		sources["qdrant"] = pipeline.NewRAGClient(pipeline.RAGConfig{
			Embedder:       embedder,
			Qdrant:         qdrant,
			Collection:     "knowledge_base",
			TopK:           cfg.ragTopK,
			ScoreThreshold: cfg.ragScoreThreshold,
		})
		slog.Info("knowledge from qdrant", "url", cfg.qdrantURL, "top_k", cfg.ragTopK)
	}
	knowledge, err := pipeline.NewRouter(sources, "static").Route(cfg.knowledgeSource)
	if err != nil {
		return nil, nil, err
	}

	var history *pipeline.CallHistoryClient
	if cfg.callHistory {
		if err := qdrant.EnsureCollection(ctx, "call_history", cfg.vectorSize); err != nil {
			return nil, nil, fmt.Errorf("ensure call_history: %w", err)
		}
		history = pipeline.NewCallHistoryClient(embedder, qdrant, "call_history")
		slog.Info("call history enabled")
	}
	return knowledge, history, nil
}
