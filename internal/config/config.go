// Package config loads runtime configuration for the agent core from the
// environment, following the teacher's env-first pattern: godotenv.Overload
// so a local .env wins over the ambient shell, then a handful of defaults
// that are awkward to express as zero values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMClientConfig selects and configures the model collaborator (§6).
type LLMClientConfig struct {
	Provider  string `yaml:"provider"` // "openai" | "anthropic" | "google"; default "openai"
	Model     string `yaml:"model"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
	API     string `yaml:"api"` // "completions" | "responses"
}

type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

type GoogleConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseUrl"`
}

// MCPServerConfig describes one external MCP server to connect to, or one
// endpoint the Command Catalog should itself be exposed over.
type MCPServerConfig struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	URL              string
	KeepAliveSeconds int
}

type MCPConfig struct {
	Servers []MCPServerConfig
	// ListenAddr, if set, exposes the Command Catalog as an MCP server over
	// Streamable HTTP at this address (e.g. ":8765").
	ListenAddr string
}

// StepLoopConfig tunes §4.1.
type StepLoopConfig struct {
	MaxSteps            int  `yaml:"maxSteps"`
	StepDeadlineMs      int  `yaml:"stepDeadlineMs"`
	ModelDeadlineMs     int  `yaml:"modelDeadlineMs"`
	FailureThreshold    int  `yaml:"failureThreshold"`
	RetryDelaySeconds   int  `yaml:"retryDelaySeconds"`
	CommandsPerStep     int  `yaml:"commandsPerStep"`
	EnableStrategy      bool `yaml:"enableStrategy"`
	StrategyInterval    int  `yaml:"strategyInterval"`
	RestrategizeOnStall bool `yaml:"restrategizeOnStall"`
	AutoNavigateToURLs  bool `yaml:"autoNavigateToUrls"`
	// DiagnosticModel overrides LLMClientConfig.Model for the one-shot
	// diagnostic call issued when the failure threshold is hit (§4.1
	// "Failure policy"); empty means reuse the run's main model.
	DiagnosticModel string `yaml:"diagnosticModel"`
	// PreflightCommands run in config order before step 1, ignoring
	// individual failures (§4.1 "Preflight").
	PreflightCommands []string `yaml:"preflightCommands"`
	// PricingTablePath optionally overrides the built-in model pricing
	// table (§8 "Cost") with a YAML file of the same shape.
	PricingTablePath string `yaml:"pricingTablePath"`
}

// ConversationConfig tunes §4.2.
type ConversationConfig struct {
	ContextWindowTokens  int               `yaml:"contextWindowTokens"`
	SummaryEnabled       bool              `yaml:"summaryEnabled"`
	SummaryInterval      int               `yaml:"summaryInterval"`
	SummaryTargetPercent float64           `yaml:"summaryTargetPercent"` // default 0.60
	SensitiveValues      map[string]string `yaml:"sensitiveValues"`
}

// StallConfig tunes §4.3.
type StallConfig struct {
	WindowSize              int `yaml:"windowSize"`
	MaxRepeatedActions      int `yaml:"maxRepeatedActions"`
	MaxRepeatedFingerprints int `yaml:"maxRepeatedFingerprints"`
	MaxStagnantPages        int `yaml:"maxStagnantPages"`
}

// SandboxConfig tunes §4.5.
type SandboxConfig struct {
	TimeoutSeconds          int      `yaml:"timeoutSeconds"`
	MaxMemoryMB             int      `yaml:"maxMemoryMb"`
	AllowedDomains          []string `yaml:"allowedDomains"`
	BlockedDomains          []string `yaml:"blockedDomains"`
	EnableNetworking        bool     `yaml:"enableNetworking"`
	EnableFileAccess        bool     `yaml:"enableFileAccess"`
	WorkDir                 string   `yaml:"workDir"`
	ResourceCheckIntervalMs int      `yaml:"resourceCheckIntervalMs"`
	CaptureOutput           bool     `yaml:"captureOutput"`
	StepLimit               int      `yaml:"stepLimit"`
}

// BrowserConfig tunes the chromedp-backed Browser collaborator (§6).
type BrowserConfig struct {
	Headless                 bool   `yaml:"headless"`
	ExecPath                 string `yaml:"execPath"`
	UserAgent                string `yaml:"userAgent"`
	NavigationTimeoutSeconds int    `yaml:"navigationTimeoutSeconds"`
	SearXNGEndpoint          string `yaml:"searxngEndpoint"`
}

// ObsConfig tunes OpenTelemetry export, following internal/observability/otel.go.
type ObsConfig struct {
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	Environment    string `yaml:"environment"`
	OTLP           string `yaml:"otlp"`
	LogPath        string `yaml:"logPath"`
	LogLevel       string `yaml:"logLevel"`
	LogPayloads    bool   `yaml:"logPayloads"`
	TruncateBytes  int    `yaml:"truncateBytes"`
}

// S3SSEConfig configures server-side encryption for objects written via
// S3Config, mirroring the modes the AWS SDK itself distinguishes.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", or "sse-kms"
	KMSKeyID string `yaml:"kmsKeyId"`
}

// S3Config configures the screenshot-archival object store (internal/
// objectstore). Only Bucket/Region are required; the rest support
// S3-compatible services (MinIO) and constrained network environments.
type S3Config struct {
	Bucket                string     `yaml:"bucket"`
	Region                string     `yaml:"region"`
	Endpoint              string     `yaml:"endpoint"`
	Prefix                string     `yaml:"prefix"`
	AccessKey             string     `yaml:"accessKey"`
	SecretKey             string     `yaml:"secretKey"`
	UsePathStyle          bool       `yaml:"usePathStyle"`
	TLSInsecureSkipVerify bool       `yaml:"tlsInsecureSkipVerify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// StoreConfig configures the optional durable backends from SPEC_FULL's
// domain stack: Postgres for the execution log, S3 for archival, ClickHouse
// for sandbox metrics, Kafka for the event bus, Redis for cross-process
// fingerprint/budget state, Qdrant for cross-run memory.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgresDsn"`

	S3               S3Config `yaml:"s3"`
	ClickHouseDSN    string   `yaml:"clickhouseDsn"`
	ClickHouseTable  string   `yaml:"clickhouseTable"`
	KafkaBrokers     []string `yaml:"kafkaBrokers"`
	KafkaTopic       string   `yaml:"kafkaTopic"`
	RedisAddr        string   `yaml:"redisAddr"`
	RedisPassword    string   `yaml:"redisPassword"`
	RedisDB          int      `yaml:"redisDb"`
	QdrantAddr       string   `yaml:"qdrantAddr"`
	QdrantCollection string   `yaml:"qdrantCollection"`
}

type Config struct {
	LLMClient    LLMClientConfig    `yaml:"llmClient"`
	MCP          MCPConfig          `yaml:"mcp"`
	StepLoop     StepLoopConfig     `yaml:"stepLoop"`
	Conversation ConversationConfig `yaml:"conversation"`
	Stall        StallConfig        `yaml:"stall"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Browser      BrowserConfig      `yaml:"browser"`
	Obs          ObsConfig          `yaml:"obs"`
	Store        StoreConfig        `yaml:"store"`
	SystemPrompt string             `yaml:"systemPrompt"`
}

// Load reads configuration from the environment (optionally overlaid by a
// local .env via godotenv.Overload) and applies
// defaults for anything left unset.
func Load() (Config, error) {
	// Overload so a local .env deterministically wins over the ambient
	// shell environment; missing file is not an error.
	_ = godotenv.Overload()

	cfg := defaults()

	cfg.SystemPrompt = strings.TrimSpace(os.Getenv("SYSTEM_PROMPT"))

	cfg.LLMClient.Provider = firstNonEmpty(os.Getenv("LLM_PROVIDER"), cfg.LLMClient.Provider)
	cfg.LLMClient.Model = firstNonEmpty(os.Getenv("LLM_MODEL"), cfg.LLMClient.Model)

	cfg.LLMClient.OpenAI.APIKey = getenv("OPENAI_API_KEY", cfg.LLMClient.OpenAI.APIKey)
	cfg.LLMClient.OpenAI.Model = getenv("OPENAI_MODEL", cfg.LLMClient.OpenAI.Model)
	cfg.LLMClient.OpenAI.BaseURL = firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL"), cfg.LLMClient.OpenAI.BaseURL)
	cfg.LLMClient.OpenAI.API = getenv("OPENAI_API", cfg.LLMClient.OpenAI.API)

	cfg.LLMClient.Anthropic.APIKey = getenv("ANTHROPIC_API_KEY", cfg.LLMClient.Anthropic.APIKey)
	cfg.LLMClient.Anthropic.Model = getenv("ANTHROPIC_MODEL", cfg.LLMClient.Anthropic.Model)
	cfg.LLMClient.Anthropic.BaseURL = getenv("ANTHROPIC_BASE_URL", cfg.LLMClient.Anthropic.BaseURL)

	cfg.LLMClient.Google.APIKey = getenv("GOOGLE_LLM_API_KEY", cfg.LLMClient.Google.APIKey)
	cfg.LLMClient.Google.Model = getenv("GOOGLE_LLM_MODEL", cfg.LLMClient.Google.Model)
	cfg.LLMClient.Google.BaseURL = getenv("GOOGLE_LLM_BASE_URL", cfg.LLMClient.Google.BaseURL)

	cfg.StepLoop.MaxSteps = intFromEnv("MAX_STEPS", cfg.StepLoop.MaxSteps)
	cfg.StepLoop.StepDeadlineMs = intFromEnv("STEP_DEADLINE_MS", cfg.StepLoop.StepDeadlineMs)
	cfg.StepLoop.ModelDeadlineMs = intFromEnv("MODEL_DEADLINE_MS", cfg.StepLoop.ModelDeadlineMs)
	cfg.StepLoop.FailureThreshold = intFromEnv("FAILURE_THRESHOLD", cfg.StepLoop.FailureThreshold)
	cfg.StepLoop.RetryDelaySeconds = intFromEnv("RETRY_DELAY_SECONDS", cfg.StepLoop.RetryDelaySeconds)
	cfg.StepLoop.CommandsPerStep = intFromEnv("COMMANDS_PER_STEP", cfg.StepLoop.CommandsPerStep)
	cfg.StepLoop.EnableStrategy = boolFromEnv("ENABLE_STRATEGY", cfg.StepLoop.EnableStrategy)
	cfg.StepLoop.StrategyInterval = intFromEnv("STRATEGY_INTERVAL", cfg.StepLoop.StrategyInterval)
	cfg.StepLoop.RestrategizeOnStall = boolFromEnv("RESTRATEGIZE_ON_STALL", cfg.StepLoop.RestrategizeOnStall)
	cfg.StepLoop.AutoNavigateToURLs = boolFromEnv("AUTO_NAVIGATE_TO_URLS", cfg.StepLoop.AutoNavigateToURLs)
	cfg.StepLoop.DiagnosticModel = getenv("DIAGNOSTIC_MODEL", cfg.StepLoop.DiagnosticModel)
	cfg.StepLoop.PreflightCommands = csvFromEnv("PREFLIGHT_COMMANDS", cfg.StepLoop.PreflightCommands)
	cfg.StepLoop.PricingTablePath = getenv("PRICING_TABLE_PATH", cfg.StepLoop.PricingTablePath)

	cfg.Conversation.ContextWindowTokens = intFromEnv("CONTEXT_WINDOW_TOKENS", cfg.Conversation.ContextWindowTokens)
	cfg.Conversation.SummaryEnabled = boolFromEnv("SUMMARY_ENABLED", cfg.Conversation.SummaryEnabled)
	cfg.Conversation.SummaryInterval = intFromEnv("SUMMARY_INTERVAL_STEPS", cfg.Conversation.SummaryInterval)
	cfg.Conversation.SummaryTargetPercent = floatFromEnv("SUMMARY_TARGET_PERCENT", cfg.Conversation.SummaryTargetPercent)

	cfg.Stall.WindowSize = intFromEnv("STALL_WINDOW_SIZE", cfg.Stall.WindowSize)
	cfg.Stall.MaxRepeatedActions = intFromEnv("STALL_MAX_REPEATED_ACTIONS", cfg.Stall.MaxRepeatedActions)
	cfg.Stall.MaxRepeatedFingerprints = intFromEnv("STALL_MAX_REPEATED_FINGERPRINTS", cfg.Stall.MaxRepeatedFingerprints)
	cfg.Stall.MaxStagnantPages = intFromEnv("STALL_MAX_STAGNANT_PAGES", cfg.Stall.MaxStagnantPages)

	cfg.Sandbox.TimeoutSeconds = intFromEnv("SANDBOX_TIMEOUT_SECONDS", cfg.Sandbox.TimeoutSeconds)
	cfg.Sandbox.MaxMemoryMB = intFromEnv("SANDBOX_MAX_MEMORY_MB", cfg.Sandbox.MaxMemoryMB)
	cfg.Sandbox.AllowedDomains = csvFromEnv("SANDBOX_ALLOWED_DOMAINS", cfg.Sandbox.AllowedDomains)
	cfg.Sandbox.BlockedDomains = csvFromEnv("SANDBOX_BLOCKED_DOMAINS", cfg.Sandbox.BlockedDomains)
	cfg.Sandbox.EnableNetworking = boolFromEnv("SANDBOX_ENABLE_NETWORKING", cfg.Sandbox.EnableNetworking)
	cfg.Sandbox.EnableFileAccess = boolFromEnv("SANDBOX_ENABLE_FILE_ACCESS", cfg.Sandbox.EnableFileAccess)
	cfg.Sandbox.WorkDir = getenv("SANDBOX_WORKDIR", cfg.Sandbox.WorkDir)
	cfg.Sandbox.ResourceCheckIntervalMs = intFromEnv("SANDBOX_RESOURCE_CHECK_INTERVAL_MS", cfg.Sandbox.ResourceCheckIntervalMs)
	cfg.Sandbox.CaptureOutput = boolFromEnv("SANDBOX_CAPTURE_OUTPUT", cfg.Sandbox.CaptureOutput)
	cfg.Sandbox.StepLimit = intFromEnv("SANDBOX_STEP_LIMIT", cfg.Sandbox.StepLimit)

	cfg.Browser.Headless = boolFromEnv("BROWSER_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.ExecPath = getenv("BROWSER_EXEC_PATH", cfg.Browser.ExecPath)
	cfg.Browser.UserAgent = getenv("BROWSER_USER_AGENT", cfg.Browser.UserAgent)
	cfg.Browser.NavigationTimeoutSeconds = intFromEnv("BROWSER_NAVIGATION_TIMEOUT_SECONDS", cfg.Browser.NavigationTimeoutSeconds)
	cfg.Browser.SearXNGEndpoint = getenv("SEARXNG_ENDPOINT", cfg.Browser.SearXNGEndpoint)

	cfg.Obs.ServiceName = getenv("OTEL_SERVICE_NAME", cfg.Obs.ServiceName)
	cfg.Obs.ServiceVersion = getenv("SERVICE_VERSION", cfg.Obs.ServiceVersion)
	cfg.Obs.Environment = getenv("ENVIRONMENT", cfg.Obs.Environment)
	cfg.Obs.OTLP = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Obs.OTLP)
	cfg.Obs.LogPath = getenv("LOG_PATH", cfg.Obs.LogPath)
	cfg.Obs.LogLevel = getenv("LOG_LEVEL", cfg.Obs.LogLevel)
	cfg.Obs.LogPayloads = boolFromEnv("LOG_PAYLOADS", cfg.Obs.LogPayloads)
	cfg.Obs.TruncateBytes = intFromEnv("OUTPUT_TRUNCATE_BYTES", cfg.Obs.TruncateBytes)

	cfg.Store.PostgresDSN = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("POSTGRES_DSN"), cfg.Store.PostgresDSN)
	cfg.Store.S3.Bucket = getenv("S3_BUCKET", cfg.Store.S3.Bucket)
	cfg.Store.S3.Region = getenv("S3_REGION", cfg.Store.S3.Region)
	cfg.Store.S3.Endpoint = getenv("S3_ENDPOINT", cfg.Store.S3.Endpoint)
	cfg.Store.S3.Prefix = getenv("S3_PREFIX", cfg.Store.S3.Prefix)
	cfg.Store.S3.AccessKey = getenv("S3_ACCESS_KEY", cfg.Store.S3.AccessKey)
	cfg.Store.S3.SecretKey = getenv("S3_SECRET_KEY", cfg.Store.S3.SecretKey)
	cfg.Store.S3.UsePathStyle = boolFromEnv("S3_USE_PATH_STYLE", cfg.Store.S3.UsePathStyle)
	cfg.Store.S3.TLSInsecureSkipVerify = boolFromEnv("S3_TLS_INSECURE_SKIP_VERIFY", cfg.Store.S3.TLSInsecureSkipVerify)
	cfg.Store.S3.SSE.Mode = getenv("S3_SSE_MODE", cfg.Store.S3.SSE.Mode)
	cfg.Store.S3.SSE.KMSKeyID = getenv("S3_SSE_KMS_KEY_ID", cfg.Store.S3.SSE.KMSKeyID)
	cfg.Store.ClickHouseDSN = getenv("CLICKHOUSE_DSN", cfg.Store.ClickHouseDSN)
	cfg.Store.ClickHouseTable = getenv("CLICKHOUSE_TABLE", cfg.Store.ClickHouseTable)
	cfg.Store.KafkaBrokers = csvFromEnv("KAFKA_BROKERS", cfg.Store.KafkaBrokers)
	cfg.Store.KafkaTopic = getenv("KAFKA_EVENTS_TOPIC", cfg.Store.KafkaTopic)
	cfg.Store.RedisAddr = getenv("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = getenv("REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = intFromEnv("REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.QdrantAddr = getenv("QDRANT_ADDR", cfg.Store.QdrantAddr)
	cfg.Store.QdrantCollection = getenv("QDRANT_COLLECTION", cfg.Store.QdrantCollection)

	if err := applyYAMLOverlay(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// applyYAMLOverlay lets an optional config.yaml (path from CONFIG_FILE, or
// "config.yaml" in the working directory) override the env-derived config.
// A missing file is not an error — the overlay is opt-in. yaml.Unmarshal
// only sets fields present in the document, so env/defaults values survive
// for anything the file omits.
func applyYAMLOverlay(cfg *Config) error {
	path := getenv("CONFIG_FILE", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// defaults mirrors the values that are awkward to leave as Go zero-values.
func defaults() Config {
	var cfg Config
	cfg.LLMClient.Provider = "openai"
	cfg.StepLoop.MaxSteps = 50
	cfg.StepLoop.FailureThreshold = 5
	cfg.StepLoop.RetryDelaySeconds = 2
	cfg.StepLoop.CommandsPerStep = 10
	cfg.StepLoop.StrategyInterval = 5
	cfg.Conversation.SummaryTargetPercent = 0.60
	cfg.Stall.WindowSize = 10
	cfg.Stall.MaxRepeatedActions = 3
	cfg.Stall.MaxRepeatedFingerprints = 3
	cfg.Stall.MaxStagnantPages = 5
	cfg.Sandbox.TimeoutSeconds = 300
	cfg.Sandbox.MaxMemoryMB = 2048
	cfg.Sandbox.EnableNetworking = true
	cfg.Sandbox.ResourceCheckIntervalMs = 500
	cfg.Sandbox.CaptureOutput = true
	cfg.Browser.Headless = true
	cfg.Browser.NavigationTimeoutSeconds = 30
	cfg.Obs.ServiceName = "openbrowser"
	cfg.Obs.LogLevel = "info"
	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func csvFromEnv(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
