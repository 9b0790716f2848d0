package main

import (
	"time"

	"github.com/malikkhubiev/qdrant/internal/env"
	"github.com/malikkhubiev/qdrant/internal/prompts"
)

type config struct {
	port     string
	baseURL  string
	logLevel string

	telephonyProvider string
	sipuniAPIKey      string
	sipuniSIPID       string
	sipuniAPIURL      string
	sipuniCallerID    string
	twilioAccountSID  string
	twilioAuthToken   string
	twilioFromNumber  string
	twilioAPIURL      string
	twilioValidateSig bool

	sttEngine         string
	ttsEngine         string
	yandexAPIKey      string
	yandexFolderID    string
	yandexLang        string
	yandexVoice       string
	whisperURL        string
	whisperEndpoint   string
	openaiTTSURL      string
	openaiTTSKey      string
	openaiTTSModel    string
	openaiTTSVoice    string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string
	ttsSpeed          float64
	speechPoolSize    int

	llmEngine       string
	deepseekAPIKey  string
	llmBaseURL      string
	llmModel        string
	llmTemperature  float64
	llmMaxTokens    int
	llmSystemPrompt string
	geminiAPIKey    string
	geminiModel     string
	geminiURL       string
	anthropicAPIKey string
	anthropicURL    string
	anthropicModel  string
	ollamaURL       string
	ollamaModel     string
	llmPoolSize     int

	knowledgeSource   string
	qdrantURL         string
	qdrantPoolSize    int
	embeddingModel    string
	vectorSize        int
	ragTopK           int
	ragScoreThreshold float64
	callHistory       bool

	audioDir             string
	audioRetention       time.Duration
	audioJanitorSchedule string

	greetOnAnswer      bool
	greeting           string
	apology            string
	idleTimeout        time.Duration
	idleCheckInterval  time.Duration
	turnTimeout        time.Duration
	silenceThresholdDB float64
	historyLimit       int
	promptHistoryTurns int
	promptTokenBudget  int
	maxConcurrentTurns int
	maxConcurrentConns int

	traceDatabaseURL string
}

func loadConfig() config {
	return config{
		port:     env.Str("RELAY_PORT", "8000"),
		baseURL:  env.Str("BASE_URL", "https://qdrant-ci3r.onrender.com"),
		logLevel: env.Str("LOG_LEVEL", "info"),

		telephonyProvider: env.Str("TELEPHONY_PROVIDER", "sipuni"),
		sipuniAPIKey:      env.Str("SIPUNI_API_KEY", ""),
		sipuniSIPID:       env.Str("SIPUNI_SIP_ID", ""),
		sipuniAPIURL:      env.Str("SIPUNI_API_URL", "https://sipuni.com/api"),
		sipuniCallerID:    env.Str("SIPUNI_CALLER_ID", "AI Assistant"),
		twilioAccountSID:  env.Str("TWILIO_ACCOUNT_SID", ""),
		twilioAuthToken:   env.Str("TWILIO_AUTH_TOKEN", ""),
		twilioFromNumber:  env.Str("TWILIO_FROM_NUMBER", ""),
		twilioAPIURL:      env.Str("TWILIO_API_URL", ""),
		twilioValidateSig: env.Bool("TWILIO_VALIDATE_SIGNATURE", true),

		sttEngine:         env.Str("STT_ENGINE", "yandex"),
		ttsEngine:         env.Str("TTS_ENGINE", "yandex"),
		yandexAPIKey:      env.Str("YANDEX_API_KEY", ""),
		yandexFolderID:    env.Str("YANDEX_FOLDER_ID", ""),
		yandexLang:        env.Str("YANDEX_LANG", "ru-RU"),
		yandexVoice:       env.Str("YANDEX_VOICE", "alena"),
		whisperURL:        env.Str("WHISPER_URL", ""),
		whisperEndpoint:   env.Str("WHISPER_ENDPOINT", "/inference"),
		openaiTTSURL:      env.Str("OPENAI_TTS_URL", ""),
		openaiTTSKey:      env.Str("OPENAI_TTS_API_KEY", ""),
		openaiTTSModel:    env.Str("OPENAI_TTS_MODEL", "tts-1"),
		openaiTTSVoice:    env.Str("OPENAI_TTS_VOICE", "alloy"),
		elevenlabsAPIKey:  env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: env.Str("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		ttsSpeed:          env.Float("TTS_SPEED", 1.0),
		speechPoolSize:    env.Int("SPEECH_POOL_SIZE", 50),

		llmEngine:       env.Str("LLM_ENGINE", "openai"),
		deepseekAPIKey:  env.Str("DEEPSEEK_API_KEY", ""),
		llmBaseURL:      env.Str("LLM_BASE_URL", "https://api.deepseek.com/v1"),
		llmModel:        env.Str("LLM_MODEL", "deepseek-chat"),
		llmTemperature:  env.Float("LLM_TEMPERATURE", 0.7),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 300),
		llmSystemPrompt: env.Str("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),
		geminiAPIKey:    env.Str("GEMINI_API_KEY", ""),
		geminiModel:     env.Str("GEMINI_MODEL", "gemini-2.0-flash"),
		geminiURL:       env.Str("GEMINI_URL", ""),
		anthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		anthropicURL:    env.Str("ANTHROPIC_URL", "https://api.anthropic.com"),
		anthropicModel:  env.Str("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		ollamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:     env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		llmPoolSize:     env.Int("LLM_POOL_SIZE", 50),

		knowledgeSource:   env.Str("KNOWLEDGE_SOURCE", "static"),
		qdrantURL:         env.Str("QDRANT_URL", "http://localhost:6333"),
		qdrantPoolSize:    env.Int("QDRANT_POOL_SIZE", 10),
		embeddingModel:    env.Str("EMBEDDING_MODEL", "nomic-embed-text"),
		vectorSize:        env.Int("VECTOR_SIZE", 768),
		ragTopK:           env.Int("RAG_TOP_K", 3),
		ragScoreThreshold: env.Float("RAG_SCORE_THRESHOLD", 0.5),
		callHistory:       env.Bool("CALL_HISTORY", false),

		audioDir:             env.Str("AUDIO_DIR", "audio"),
		audioRetention:       env.Duration("AUDIO_RETENTION", 24*time.Hour),
		audioJanitorSchedule: env.Str("AUDIO_JANITOR_SCHEDULE", "@every 10m"),

		greetOnAnswer:      env.Bool("GREET_ON_ANSWER", true),
		greeting:           env.Str("GREETING", prompts.DefaultGreeting),
		apology:            env.Str("APOLOGY", prompts.DefaultApology),
		idleTimeout:        env.Duration("IDLE_TIMEOUT", 1500*time.Millisecond),
		idleCheckInterval:  env.Duration("IDLE_CHECK_INTERVAL", 250*time.Millisecond),
		turnTimeout:        env.Duration("TURN_TIMEOUT", 60*time.Second),
		silenceThresholdDB: env.Float("SILENCE_THRESHOLD_DB", -50),
		historyLimit:       env.Int("HISTORY_LIMIT", 40),
		promptHistoryTurns: env.Int("PROMPT_HISTORY_TURNS", 6),
		promptTokenBudget:  env.Int("PROMPT_TOKEN_BUDGET", 1500),
		maxConcurrentTurns: env.Int("MAX_CONCURRENT_TURNS", 50),
		maxConcurrentConns: env.Int("MAX_CONCURRENT_STREAMS", 100),

		traceDatabaseURL: env.Str("TRACE_DATABASE_URL", ""),
	}
}
