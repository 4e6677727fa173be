package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Credit     CreditConfig
	Transcript TranscriptConfig
	WhatsApp   WhatsAppConfig
	Chat       ChatConfig
	Knowledge  KnowledgeConfig
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Credit: CreditConfig{
			Path: strings.TrimSpace(os.Getenv("CREDIT_DB_PATH")),
		},
		Transcript: TranscriptConfig{
			Path: strings.TrimSpace(os.Getenv("TRANSCRIPT_DB_PATH")),
		},
		WhatsApp:  loadWhatsAppConfig(),
		Chat:      chat,
		Knowledge: KnowledgeConfig{Path: strings.TrimSpace(os.Getenv("KNOWLEDGE_BASE_PATH"))},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3000"
	}

	if strings.Contains(port, ":") {
		// Accept ":3000" or "127.0.0.1:3000" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the OpenRouter completion endpoint.
type AIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether a usable API key is present.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.APIKey != "your_openrouter_api_key"
}

func loadAIConfig() (AIConfig, error) {
	timeout, err := parseOptionalIntEnv("OPENROUTER_TIMEOUT_SECONDS")
	if err != nil {
		return AIConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return AIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		BaseURL: getEnvOrDefault("OPENROUTER_URL", "https://openrouter.ai/api/v1"),
		Model:   getEnvOrDefault("OPENROUTER_MODEL", "google/gemini-2.0-flash-exp:free"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// CreditConfig locates the credit data store.
type CreditConfig struct {
	Path string
}

// Enabled reports whether the credit database is configured.
func (c CreditConfig) Enabled() bool {
	return c.Path != ""
}

// TranscriptConfig locates the chat logging store. An empty path disables
// chat logging entirely; that is a valid operating mode.
type TranscriptConfig struct {
	Path string
}

// Enabled reports whether chat logging is configured.
func (c TranscriptConfig) Enabled() bool {
	return c.Path != ""
}

// WhatsAppConfig carries the Meta Graph API credentials.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	AppSecret     string
	GraphBaseURL  string
}

// Enabled reports whether every required WhatsApp credential is present.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != "" && c.VerifyToken != "" && c.AppSecret != ""
}

func loadWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{
		AccessToken:   strings.TrimSpace(os.Getenv("META_ACCESS_TOKEN")),
		PhoneNumberID: strings.TrimSpace(os.Getenv("META_PHONE_NUMBER_ID")),
		VerifyToken:   strings.TrimSpace(os.Getenv("META_WEBHOOK_VERIFY_TOKEN")),
		AppSecret:     strings.TrimSpace(os.Getenv("META_APP_SECRET")),
		GraphBaseURL:  getEnvOrDefault("META_GRAPH_BASE_URL", "https://graph.facebook.com/v19.0"),
	}
}

// ChatConfig tunes the conversation layer.
type ChatConfig struct {
	// WebResponseDelay is the debounce window for the interactive web channel.
	WebResponseDelay time.Duration
	// WhatsAppResponseDelay is the debounce window for the asynchronous
	// WhatsApp channel, where users tend to send several texts in a row.
	WhatsAppResponseDelay time.Duration
	// HistoryLimit caps user/assistant turns kept per session.
	HistoryLimit int
	// SessionMaxIdle is the inactivity threshold for the idle sweep.
	SessionMaxIdle time.Duration
	// CleanupEnabled turns on the daily transcript cleanup job.
	CleanupEnabled bool
	// CleanupMaxAgeDays is how old an ended transcript session must be
	// before the cleanup job deletes it.
	CleanupMaxAgeDays int
}

func loadChatConfig() (ChatConfig, error) {
	webDelayMs, err := parseOptionalIntEnv("RESPONSE_DELAY_MS")
	if err != nil {
		return ChatConfig{}, err
	}
	webDelay := 3500 * time.Millisecond
	if webDelayMs != nil {
		webDelay = time.Duration(*webDelayMs) * time.Millisecond
	}

	waDelayMs, err := parseOptionalIntEnv("WHATSAPP_RESPONSE_DELAY_MS")
	if err != nil {
		return ChatConfig{}, err
	}
	waDelay := 15 * time.Second
	if waDelayMs != nil {
		waDelay = time.Duration(*waDelayMs) * time.Millisecond
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 2 {
			historyLimit = 2
		} else {
			historyLimit = *override
		}
	}

	maxIdleMin, err := parseOptionalIntEnv("SESSION_MAX_IDLE_MINUTES")
	if err != nil {
		return ChatConfig{}, err
	}
	maxIdle := time.Hour
	if maxIdleMin != nil {
		maxIdle = time.Duration(*maxIdleMin) * time.Minute
	}

	cleanupEnabled, err := parseBoolEnv("ENABLE_CLEANUP", false)
	if err != nil {
		return ChatConfig{}, err
	}

	cleanupDays := 30
	if override, err := parseOptionalIntEnv("CLEANUP_OLD_SESSIONS_DAYS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		cleanupDays = *override
	}

	return ChatConfig{
		WebResponseDelay:      webDelay,
		WhatsAppResponseDelay: waDelay,
		HistoryLimit:          historyLimit,
		SessionMaxIdle:        maxIdle,
		CleanupEnabled:        cleanupEnabled,
		CleanupMaxAgeDays:     cleanupDays,
	}, nil
}

// KnowledgeConfig locates the static knowledge-base text.
type KnowledgeConfig struct {
	Path string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
