package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
// Все значения иммутабельны на время жизни компонента:
// реконфигурация = пересоздание, не мутация на лету.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Guardian GuardianConfig `mapstructure:"guardian"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (durable audit store).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (control plane: Pub/Sub сигналы).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к RSA-ключу для JWT и bcrypt-хэш операторского
// токена, которым защищен control-plane (байпас/блоклист).
type AuthConfig struct {
	PublicKeyPath     string `mapstructure:"public_key_path"`
	OperatorTokenHash string `mapstructure:"operator_token_hash"` // bcrypt
	PublicKey         []byte
}

// GuardianConfig — специфичные настройки governance-ядра.
type GuardianConfig struct {
	// Тикер
	TickerFPS         float64 `mapstructure:"ticker_fps"`
	FrameCapacity     int     `mapstructure:"frame_capacity"`
	PressureThreshold float64 `mapstructure:"pressure_threshold"`
	DecimationFactor  int     `mapstructure:"decimation_factor"`

	// Дрейф
	DriftAlpha          float64 `mapstructure:"drift_alpha"`
	DriftWindowSize     int     `mapstructure:"drift_window_size"`
	DriftWarnThreshold  float64 `mapstructure:"drift_warn_threshold"`
	DriftBlockThreshold float64 `mapstructure:"drift_block_threshold"`

	// Энричер
	EnrichCaching             bool    `mapstructure:"enrich_caching"`
	EnrichAdvancedDetection   bool    `mapstructure:"enrich_advanced_detection"`
	EnrichConfidenceThreshold float64 `mapstructure:"enrich_confidence_threshold"`

	// Режим вердиктов: "live" или "simulated" (dry-run)
	EvaluatorMode string `mapstructure:"evaluator_mode"`

	// Аудит
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Переменные окружения перекрывают конфиг: SERVER_PORT=9000 -> server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("guardian.ticker_fps", 10.0)
	v.SetDefault("guardian.frame_capacity", 1000)
	v.SetDefault("guardian.pressure_threshold", 0.8)
	v.SetDefault("guardian.decimation_factor", 2)

	v.SetDefault("guardian.drift_alpha", 0.3)
	v.SetDefault("guardian.drift_window_size", 64)
	v.SetDefault("guardian.drift_warn_threshold", 0.15)
	v.SetDefault("guardian.drift_block_threshold", 0.25)

	v.SetDefault("guardian.enrich_caching", true)
	v.SetDefault("guardian.enrich_advanced_detection", false)
	v.SetDefault("guardian.enrich_confidence_threshold", 0.5)

	v.SetDefault("guardian.evaluator_mode", "live")

	v.SetDefault("guardian.audit_buffer_size", 10000)
	v.SetDefault("guardian.audit_batch_size", 100)
	v.SetDefault("guardian.audit_flush_interval", 500*time.Millisecond)
}

// loadKeyResource — универсальный хелпер: ключ либо напрямую в ENV (PEM),
// либо файлом по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
