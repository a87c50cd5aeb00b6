package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cycletrader/pkg/crypto"
	"cycletrader/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Bridge   BridgeConfig
	Remote   RemoteConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt-хеш API токена. Сам токен нигде не хранится.
	APITokenHash string

	// Ключ AES-256 для шифрования учетных данных моста и зеркала
	EncryptionKey string
}

// BridgeConfig - настройки подключения к мосту торгового терминала
type BridgeConfig struct {
	URL     string
	Token   string
	Account string

	// Лимит запросов к мосту
	Rate  float64
	Burst float64

	Timeout time.Duration
}

// RemoteConfig - настройки удаленного зеркала циклов
type RemoteConfig struct {
	Enabled bool
	URL     string
	Token   string

	Timeout time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// BotConfig - настройки торгового движка
type BotConfig struct {
	AccountID string
	BotID     string
	Strategy  string // zone или martingale
	Symbol    string

	// Базовые торговые параметры
	BaseLot     float64
	TakeProfit  float64 // целевая прибыль цикла в валюте счета
	RecoveryLot float64 // 0 = не открывать recovery-ордер при пробое
	Slippage    int
	Magic       int64

	// Зонная стратегия
	Zones         []float64 // размеры зон в пипсах по индексу зоны
	ThresholdStep float64   // шаг пороговых ордеров в пипсах
	AddAllToPNL   bool      // учитывать ли неисполнившиеся закрытые ноги

	// Мартингейл-лестница
	HedgeDistance       float64
	LotSizes            []float64
	MaxLevels           int
	ActivationThreshold float64
	MaxDrawdown         float64

	// Дневные лимиты
	DailyProfitTarget float64
	DailyLossLimit    float64
	MaxExposure       float64

	// Интервалы циклов движка
	TickInterval      time.Duration
	CommandInterval   time.Duration
	HeartbeatInterval time.Duration

	// Автооткрытие циклов
	Autotrade         bool
	AutotradeDistance float64 // минимальный отход цены от последнего цикла, в пипсах
	AutotradeType     string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "cycletrader"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Bridge: BridgeConfig{
			URL:     getEnv("BRIDGE_URL", "http://127.0.0.1:5005"),
			Token:   getEnv("BRIDGE_TOKEN", ""),
			Account: getEnv("BRIDGE_ACCOUNT", ""),
			Rate:    getEnvAsFloat("BRIDGE_RATE", 20),
			Burst:   getEnvAsFloat("BRIDGE_BURST", 40),
			Timeout: getEnvAsDuration("BRIDGE_TIMEOUT", 10*time.Second),
		},
		Remote: RemoteConfig{
			Enabled:          getEnvAsBool("REMOTE_ENABLED", false),
			URL:              getEnv("REMOTE_URL", ""),
			Token:            getEnv("REMOTE_TOKEN", ""),
			Timeout:          getEnvAsDuration("REMOTE_TIMEOUT", 10*time.Second),
			BreakerThreshold: getEnvAsInt("REMOTE_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvAsDuration("REMOTE_BREAKER_COOLDOWN", 30*time.Second),
		},
		Bot: BotConfig{
			AccountID: getEnv("ACCOUNT_ID", ""),
			BotID:     getEnv("BOT_ID", "bot-1"),
			Strategy:  getEnv("STRATEGY", "zone"),
			Symbol:    utils.NormalizeSymbol(getEnv("SYMBOL", "EURUSD")),

			BaseLot:     getEnvAsFloat("BASE_LOT", 0.01),
			TakeProfit:  getEnvAsFloat("TAKE_PROFIT", 10),
			RecoveryLot: getEnvAsFloat("RECOVERY_LOT", 0),
			Slippage:    getEnvAsInt("SLIPPAGE", 3),
			Magic:       int64(getEnvAsInt("MAGIC", 20260101)),

			Zones:         getEnvAsFloatSlice("ZONES", []float64{500, 750, 1000}),
			ThresholdStep: getEnvAsFloat("THRESHOLD_STEP", 0),
			AddAllToPNL:   getEnvAsBool("ADD_ALL_TO_PNL", false),

			HedgeDistance:       getEnvAsFloat("HEDGE_DISTANCE", 50),
			LotSizes:            getEnvAsFloatSlice("LOT_SIZES", nil),
			MaxLevels:           getEnvAsInt("MAX_LEVELS", 5),
			ActivationThreshold: getEnvAsFloat("ACTIVATION_THRESHOLD", 0),
			MaxDrawdown:         getEnvAsFloat("MAX_DRAWDOWN", 0),

			DailyProfitTarget: getEnvAsFloat("DAILY_PROFIT_TARGET", 0),
			DailyLossLimit:    getEnvAsFloat("DAILY_LOSS_LIMIT", 0),
			MaxExposure:       getEnvAsFloat("MAX_EXPOSURE", 0),

			TickInterval:      getEnvAsDuration("TICK_INTERVAL", 1*time.Second),
			CommandInterval:   getEnvAsDuration("COMMAND_INTERVAL", 2*time.Second),
			HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),

			Autotrade:         getEnvAsBool("AUTOTRADE", false),
			AutotradeDistance: getEnvAsFloat("AUTOTRADE_DISTANCE", 100),
			AutotradeType:     getEnv("AUTOTRADE_TYPE", "BUY"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	// Токены моста и зеркала могут храниться зашифрованными
	// (AES-256-GCM, base64). Зашифрованный вариант имеет приоритет.
	if enc := os.Getenv("BRIDGE_TOKEN_ENC"); enc != "" {
		token, err := crypto.DecryptWithKeyString(enc, cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("BRIDGE_TOKEN_ENC: %w", err)
		}
		cfg.Bridge.Token = token
	}
	if enc := os.Getenv("REMOTE_TOKEN_ENC"); enc != "" {
		token, err := crypto.DecryptWithKeyString(enc, cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("REMOTE_TOKEN_ENC: %w", err)
		}
		cfg.Remote.Token = token
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования учетных данных
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting credentials")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// API_TOKEN_HASH обязателен: без него API остается открытым
	if c.Security.APITokenHash == "" {
		return fmt.Errorf("API_TOKEN_HASH is required for API authentication")
	}

	if !strings.HasPrefix(c.Security.APITokenHash, "$2") {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Bot.AccountID == "" {
		return fmt.Errorf("ACCOUNT_ID is required")
	}

	if c.Bot.Strategy != "zone" && c.Bot.Strategy != "martingale" {
		return fmt.Errorf("STRATEGY must be zone or martingale, got %q", c.Bot.Strategy)
	}

	if err := utils.ValidateSymbol(c.Bot.Symbol); err != nil {
		return fmt.Errorf("SYMBOL: %w", err)
	}

	if err := utils.ValidateVolume(c.Bot.BaseLot); err != nil {
		return fmt.Errorf("BASE_LOT: %w", err)
	}

	if c.Bot.TakeProfit <= 0 {
		return fmt.Errorf("TAKE_PROFIT must be positive, got %v", c.Bot.TakeProfit)
	}

	if err := utils.ValidateZoneTable(c.Bot.Zones); err != nil {
		return fmt.Errorf("ZONES: %w", err)
	}

	// Пустая таблица лотов допустима: мартингейл удваивает базовый лот
	if len(c.Bot.LotSizes) > 0 {
		if err := utils.ValidateLotTable(c.Bot.LotSizes); err != nil {
			return fmt.Errorf("LOT_SIZES: %w", err)
		}
	}

	if err := utils.ValidatePips(c.Bot.HedgeDistance); err != nil {
		return fmt.Errorf("HEDGE_DISTANCE: %w", err)
	}

	if c.Bot.MaxLevels < 1 {
		return fmt.Errorf("MAX_LEVELS must be at least 1, got %d", c.Bot.MaxLevels)
	}

	if c.Bot.DailyLossLimit < 0 {
		return fmt.Errorf("DAILY_LOSS_LIMIT cannot be negative, got %v", c.Bot.DailyLossLimit)
	}

	if c.Bot.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %v", c.Bot.TickInterval)
	}

	if c.Remote.Enabled && c.Remote.URL == "" {
		return fmt.Errorf("REMOTE_URL is required when REMOTE_ENABLED=true")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloatSlice читает comma-separated список чисел
// Пример: ZONES=500,750,1000
func getEnvAsFloatSlice(key string, defaultValue []float64) []float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return defaultValue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
