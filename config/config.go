package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir string `json:"project_dir"`
	DataDir    string `json:"data_dir"`
	CacheDir   string `json:"cache_dir"`
	ResultsDir string `json:"results_dir"`

	// KIS OpenAPI credentials
	KISAppKey      string `json:"kis_app_key"`
	KISAppSecret   string `json:"kis_app_secret"`
	KISAccountNo   string `json:"kis_account_no"`
	KISAccountCode string `json:"kis_account_code"`
	KISBaseURL     string `json:"kis_base_url"`

	// Overseas exchange segments queried for balances
	ExchangeSegments []string `json:"exchange_segments"`
	TradeCurrency    string   `json:"trade_currency"`

	// Order guardrails
	MaxOrderValue  float64 `json:"max_order_value"`
	MaxPositionPct float64 `json:"max_position_pct"`
	MinCashReserve float64 `json:"min_cash_reserve"`
	InitialCash    float64 `json:"initial_cash"`

	// LLM committee
	LLMProvider    string `json:"llm_provider"`
	LLMModel       string `json:"llm_model"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	OpenAIBaseURL  string `json:"openai_base_url"`
	MaxTokens      int    `json:"max_tokens"`

	// Eino debug inspector
	DebugEnabled bool `json:"debug_enabled"`
	DebugPort    int  `json:"debug_port"`

	// Quote source: kis, yahoo or longport
	QuoteSource     string `json:"quote_source"`
	CacheEnabled    bool   `json:"cache_enabled"`
	CacheTTLMinutes int    `json:"cache_ttl_minutes"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token"`

	// Telegram notifications
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`

	HTTPTimeoutSeconds int     `json:"http_timeout_seconds"`
	BrokerRateLimit    float64 `json:"broker_rate_limit"`
	BrokerRateBurst    int     `json:"broker_rate_burst"`

	SessionTTLMinutes int `json:"session_ttl_minutes"`
	ScreenerTopN      int `json:"screener_top_n"`

	LogLevel string `json:"log_level"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()

	cfg := &Config{
		ProjectDir: currentDir,
		DataDir:    filepath.Join(currentDir, "data"),
		CacheDir:   filepath.Join(currentDir, "data", "cache"),
		ResultsDir: filepath.Join(currentDir, "results"),

		KISBaseURL: "https://openapi.koreainvestment.com:9443",

		ExchangeSegments: []string{"NASD", "NYSE", "AMEX"},
		TradeCurrency:    "USD",

		MaxOrderValue:  10000,
		MaxPositionPct: 0.30,
		MinCashReserve: 100,
		InitialCash:    100000,

		LLMProvider: "deepseek",
		LLMModel:    "deepseek-chat",
		MaxTokens:   4000,

		DebugEnabled: false,
		DebugPort:    52538,

		QuoteSource:     "kis",
		CacheEnabled:    true,
		CacheTTLMinutes: 15,

		HTTPTimeoutSeconds: 30,
		BrokerRateLimit:    2,
		BrokerRateBurst:    1,

		SessionTTLMinutes: 60,
		ScreenerTopN:      5,

		LogLevel: "info",
	}

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("KISTRADE_DATA_DIR"); val != "" {
		c.DataDir = val
		c.CacheDir = filepath.Join(val, "cache")
	}
	if val := os.Getenv("KISTRADE_RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}

	if val := os.Getenv("KIS_APP_KEY"); val != "" {
		c.KISAppKey = val
	}
	if val := os.Getenv("KIS_APP_SECRET"); val != "" {
		c.KISAppSecret = val
	}
	if val := os.Getenv("KIS_ACCOUNT_NO"); val != "" {
		c.KISAccountNo = val
	}
	if val := os.Getenv("KIS_ACCOUNT_CODE"); val != "" {
		c.KISAccountCode = val
	}
	if val := os.Getenv("KIS_BASE_URL"); val != "" {
		c.KISBaseURL = val
	}
	if val := os.Getenv("KIS_EXCHANGE_SEGMENTS"); val != "" {
		var segments []string
		for _, seg := range strings.Split(val, ",") {
			if seg = strings.TrimSpace(seg); seg != "" {
				segments = append(segments, seg)
			}
		}
		if len(segments) > 0 {
			c.ExchangeSegments = segments
		}
	}

	if val := os.Getenv("MAX_ORDER_VALUE"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.MaxOrderValue = v
		}
	}
	if val := os.Getenv("MAX_POSITION_PCT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.MaxPositionPct = v
		}
	}
	if val := os.Getenv("MIN_CASH_RESERVE"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.MinCashReserve = v
		}
	}
	if val := os.Getenv("INITIAL_CASH"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.InitialCash = v
		}
	}

	if val := os.Getenv("LLM_PROVIDER"); val != "" {
		c.LLMProvider = val
	}
	if val := os.Getenv("LLM_MODEL"); val != "" {
		c.LLMModel = val
	}
	if val := os.Getenv("DEEPSEEK_API_KEY"); val != "" {
		c.DeepSeekAPIKey = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.OpenAIAPIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		c.OpenAIBaseURL = val
	}
	if val := os.Getenv("LLM_MAX_TOKENS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.MaxTokens = v
		}
	}

	if val := os.Getenv("KISTRADE_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.DebugEnabled = enabled
		}
	}
	if val := os.Getenv("KISTRADE_DEBUG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.DebugPort = port
		}
	}

	if val := os.Getenv("QUOTE_SOURCE"); val != "" {
		c.QuoteSource = strings.ToLower(val)
	}
	if val := os.Getenv("CACHE_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.CacheEnabled = enabled
		}
	}
	if val := os.Getenv("CACHE_TTL_MINUTES"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.CacheTTLMinutes = v
		}
	}

	if val := os.Getenv("LONGPORT_APP_KEY"); val != "" {
		c.LongportAppKey = val
	}
	if val := os.Getenv("LONGPORT_APP_SECRET"); val != "" {
		c.LongportAppSecret = val
	}
	if val := os.Getenv("LONGPORT_ACCESS_TOKEN"); val != "" {
		c.LongportAccessToken = val
	}

	if val := os.Getenv("TELEGRAM_BOT_TOKEN"); val != "" {
		c.TelegramBotToken = val
	}
	if val := os.Getenv("TELEGRAM_CHAT_ID"); val != "" {
		c.TelegramChatID = val
	}

	if val := os.Getenv("HTTP_TIMEOUT_SECONDS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.HTTPTimeoutSeconds = v
		}
	}
	if val := os.Getenv("BROKER_RATE_LIMIT"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.BrokerRateLimit = v
		}
	}
	if val := os.Getenv("BROKER_RATE_BURST"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.BrokerRateBurst = v
		}
	}

	if val := os.Getenv("SESSION_TTL_MINUTES"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.SessionTTLMinutes = v
		}
	}
	if val := os.Getenv("SCREENER_TOP_N"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.ScreenerTopN = v
		}
	}

	if val := os.Getenv("KISTRADE_LOG_LEVEL"); val != "" {
		c.LogLevel = strings.ToLower(val)
	}
}

// LedgerPath is the portfolio book file inside the data directory.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "portfolio.json")
}

// SessionDBPath is the sqlite database holding sessions and the order journal.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "kistrade.db")
}

// Validate checks that the configuration can drive broker operations.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.KISAppKey) == "" {
		missing = append(missing, "KIS_APP_KEY")
	}
	if strings.TrimSpace(c.KISAppSecret) == "" {
		missing = append(missing, "KIS_APP_SECRET")
	}
	if strings.TrimSpace(c.KISAccountNo) == "" {
		missing = append(missing, "KIS_ACCOUNT_NO")
	}
	if strings.TrimSpace(c.KISAccountCode) == "" {
		missing = append(missing, "KIS_ACCOUNT_CODE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.MaxOrderValue <= 0 {
		return fmt.Errorf("max order value must be positive, got %v", c.MaxOrderValue)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("max position pct must be in (0, 1], got %v", c.MaxPositionPct)
	}
	if c.MinCashReserve < 0 {
		return fmt.Errorf("min cash reserve cannot be negative, got %v", c.MinCashReserve)
	}
	if len(c.ExchangeSegments) == 0 {
		return fmt.Errorf("at least one exchange segment is required")
	}

	switch c.QuoteSource {
	case "kis", "yahoo":
	case "longport":
		if c.LongportAppKey == "" || c.LongportAppSecret == "" || c.LongportAccessToken == "" {
			return fmt.Errorf("quote source longport requires LONGPORT_APP_KEY, LONGPORT_APP_SECRET and LONGPORT_ACCESS_TOKEN")
		}
	default:
		return fmt.Errorf("unknown quote source %q (want kis, yahoo or longport)", c.QuoteSource)
	}

	return nil
}

// HasLLM reports whether a committee model can be constructed.
func (c *Config) HasLLM() bool {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey != ""
	default:
		return c.DeepSeekAPIKey != ""
	}
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.CacheDir, c.ResultsDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
