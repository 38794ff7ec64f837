package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/lpbot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Lifecycle  LifecycleConfig  `yaml:"lifecycle" toml:"lifecycle"`
	Selector   SelectorConfig   `yaml:"selector" toml:"selector"`
	MarketData MarketDataConfig `yaml:"market_data" toml:"market_data"`
	Venue      VenueConfig      `yaml:"venue" toml:"venue"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	Archive    ArchiveConfig    `yaml:"archive" toml:"archive"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

// Duration wraps time.Duration so "5m" style strings decode from YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LifecycleConfig controla apertura, monitoreo, rebalanceo y cierre.
type LifecycleConfig struct {
	VolumeThreshold       float64  `yaml:"volume_threshold" toml:"volume_threshold"` // fracción del ratio de entrada
	CheckInterval         Duration `yaml:"check_interval" toml:"check_interval"`
	MaxLifespan           Duration `yaml:"max_lifespan" toml:"max_lifespan"`
	CapitalAllocation     string   `yaml:"capital_allocation" toml:"capital_allocation"` // token X, unidades base
	CapitalAllocationY    string   `yaml:"capital_allocation_y" toml:"capital_allocation_y"`
	RangeInterval         int      `yaml:"range_interval" toml:"range_interval"`
	RebalanceEnabled      bool     `yaml:"rebalance_enabled" toml:"rebalance_enabled"`
	RebalanceInterval     Duration `yaml:"rebalance_interval" toml:"rebalance_interval"`
	RebalanceThresholdPct float64  `yaml:"rebalance_threshold_pct" toml:"rebalance_threshold_pct"`
	MaxPositions          int      `yaml:"max_positions" toml:"max_positions"`
	CallTimeout           Duration `yaml:"call_timeout" toml:"call_timeout"`
	CloseMaxAttempts      int      `yaml:"close_max_attempts" toml:"close_max_attempts"`
	CloseBackoff          Duration `yaml:"close_backoff" toml:"close_backoff"`
	StoreWriteAttempts    int      `yaml:"store_write_attempts" toml:"store_write_attempts"`
}

// SelectorConfig controla la selección de candidatos.
type SelectorConfig struct {
	TrendingLimit int                 `yaml:"trending_limit" toml:"trending_limit"`
	Workers       int                 `yaml:"workers" toml:"workers"` // 0 = NumCPU*2
	IdleInterval  Duration            `yaml:"idle_interval" toml:"idle_interval"`
	Weights       domain.ScoreWeights `yaml:"weights" toml:"weights"`
}

// MarketDataConfig elige y configura el proveedor de datos de mercado.
type MarketDataConfig struct {
	Provider       string  `yaml:"provider" toml:"provider"` // birdeye | dexscreener
	Chain          string  `yaml:"chain" toml:"chain"`
	BirdeyeBase    string  `yaml:"birdeye_base" toml:"birdeye_base"`
	BirdeyeAPIKey  string  `yaml:"birdeye_api_key" toml:"birdeye_api_key"`
	DexscreenerURL string  `yaml:"dexscreener_base" toml:"dexscreener_base"`
	RatePerSec     float64 `yaml:"rate_per_sec" toml:"rate_per_sec"`
}

// VenueConfig configura el venue y el directorio de pools.
type VenueConfig struct {
	Mode           string   `yaml:"mode" toml:"mode"` // gateway | paper
	GatewayURL     string   `yaml:"gateway_url" toml:"gateway_url"`
	AuthToken      string   `yaml:"auth_token" toml:"auth_token"`
	Timeout        Duration `yaml:"timeout" toml:"timeout"`
	PoolsURL       string   `yaml:"pools_url" toml:"pools_url"`
	PoolsCacheTTL  Duration `yaml:"pools_cache_ttl" toml:"pools_cache_ttl"`
	BinStep        int      `yaml:"bin_step" toml:"bin_step"` // 0 = cualquier bin step
	PaperFeeRateHr float64  `yaml:"paper_fee_rate_per_hour" toml:"paper_fee_rate_per_hour"`
}

// StorageConfig controla dónde se persisten las posiciones.
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn" toml:"dsn"`       // ruta SQLite o DSN de Postgres
	// PostgreSQL, usados si DSN está vacío
	Host          string `yaml:"host" toml:"host"`
	Port          int    `yaml:"port" toml:"port"`
	Database      string `yaml:"database" toml:"database"`
	User          string `yaml:"user" toml:"user"`
	Password      string `yaml:"password" toml:"password"`
	SSLMode       string `yaml:"sslmode" toml:"sslmode"`
	MaxConns      int    `yaml:"max_conns" toml:"max_conns"`
	RunMigrations bool   `yaml:"run_migrations" toml:"run_migrations"`
}

// RedisConfig habilita el lease por posición y la publicación de eventos.
type RedisConfig struct {
	Enabled    bool     `yaml:"enabled" toml:"enabled"`
	Addr       string   `yaml:"addr" toml:"addr"`
	Password   string   `yaml:"password" toml:"password"`
	DB         int      `yaml:"db" toml:"db"`
	PoolSize   int      `yaml:"pool_size" toml:"pool_size"`
	TLSEnabled bool     `yaml:"tls_enabled" toml:"tls_enabled"`
	KeyPrefix  string   `yaml:"key_prefix" toml:"key_prefix"`
	Channel    string   `yaml:"channel" toml:"channel"`
	LeaseTTL   Duration `yaml:"lease_ttl" toml:"lease_ttl"`
}

// ArchiveConfig habilita el archivo S3 de posiciones cerradas.
type ArchiveConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Region         string `yaml:"region" toml:"region"`
	Bucket         string `yaml:"bucket" toml:"bucket"`
	Prefix         string `yaml:"prefix" toml:"prefix"`
	AccessKey      string `yaml:"access_key" toml:"access_key"`
	SecretKey      string `yaml:"secret_key" toml:"secret_key"`
	UseSSL         bool   `yaml:"use_ssl" toml:"use_ssl"`
	ForcePathStyle bool   `yaml:"force_path_style" toml:"force_path_style"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`   // debug | info | warn | error
	Format     string `yaml:"format" toml:"format"` // text | json
	File       string `yaml:"file" toml:"file"`     // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// Load carga .env si existe, el archivo de configuración (YAML o TOML según la
// extensión), los overrides LPBOT_* y los defaults. No valida: el caller
// debe llamar a Validate.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Capital devuelve la asignación de capital por posición.
func (c *Config) Capital() (domain.TokenAmounts, error) {
	x, err := decimal.NewFromString(c.Lifecycle.CapitalAllocation)
	if err != nil {
		return domain.TokenAmounts{}, &domain.ConfigurationError{Field: "lifecycle.capital_allocation", Err: err}
	}
	y, err := decimal.NewFromString(c.Lifecycle.CapitalAllocationY)
	if err != nil {
		return domain.TokenAmounts{}, &domain.ConfigurationError{Field: "lifecycle.capital_allocation_y", Err: err}
	}
	return domain.TokenAmounts{X: x, Y: y}, nil
}

// Validate rechaza valores con los que no se puede abrir una posición.
func (c *Config) Validate() error {
	bad := func(field, msg string) error {
		return &domain.ConfigurationError{Field: field, Err: errors.New(msg)}
	}

	lc := c.Lifecycle
	switch {
	case lc.VolumeThreshold <= 0 || lc.VolumeThreshold > 1:
		return bad("lifecycle.volume_threshold", "must be in (0, 1]")
	case lc.CheckInterval.Duration <= 0:
		return bad("lifecycle.check_interval", "must be > 0")
	case lc.MaxLifespan.Duration < lc.CheckInterval.Duration:
		return bad("lifecycle.max_lifespan", "must be >= check_interval")
	case lc.RangeInterval <= 0:
		return bad("lifecycle.range_interval", "must be > 0, a zero-span range cannot hold liquidity")
	case lc.RebalanceEnabled && lc.RebalanceThresholdPct <= 0:
		return bad("lifecycle.rebalance_threshold_pct", "must be > 0")
	case lc.MaxPositions <= 0:
		return bad("lifecycle.max_positions", "must be > 0")
	}
	capital, err := c.Capital()
	if err != nil {
		return err
	}
	if capital.X.IsNegative() || capital.Y.IsNegative() || capital.IsZero() {
		return bad("lifecycle.capital_allocation", "must be positive")
	}

	switch c.MarketData.Provider {
	case "birdeye":
		if c.MarketData.BirdeyeAPIKey == "" {
			return bad("market_data.birdeye_api_key", "required for provider birdeye")
		}
	case "dexscreener":
	default:
		return bad("market_data.provider", fmt.Sprintf("unknown provider %q", c.MarketData.Provider))
	}

	switch c.Venue.Mode {
	case "gateway":
		if c.Venue.GatewayURL == "" {
			return bad("venue.gateway_url", "required for mode gateway")
		}
	case "paper":
	default:
		return bad("venue.mode", fmt.Sprintf("unknown mode %q", c.Venue.Mode))
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return bad("storage.driver", fmt.Sprintf("unknown driver %q", c.Storage.Driver))
	}

	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Region == "") {
		return bad("archive", "bucket and region are required when enabled")
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Los secretos (API keys, tokens, passwords) normalmente llegan por aquí.
func applyEnvOverrides(cfg *Config) {
	// compatibilidad con el formato anterior
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.Log.Format, "LOG_FORMAT")

	setFloat64(&cfg.Lifecycle.VolumeThreshold, "LPBOT_LIFECYCLE_VOLUME_THRESHOLD")
	setDuration(&cfg.Lifecycle.CheckInterval, "LPBOT_LIFECYCLE_CHECK_INTERVAL")
	setDuration(&cfg.Lifecycle.MaxLifespan, "LPBOT_LIFECYCLE_MAX_LIFESPAN")
	setStr(&cfg.Lifecycle.CapitalAllocation, "LPBOT_LIFECYCLE_CAPITAL_ALLOCATION")
	setBool(&cfg.Lifecycle.RebalanceEnabled, "LPBOT_LIFECYCLE_REBALANCE_ENABLED")
	setInt(&cfg.Lifecycle.MaxPositions, "LPBOT_LIFECYCLE_MAX_POSITIONS")

	setStr(&cfg.MarketData.Provider, "LPBOT_MARKET_DATA_PROVIDER")
	setStr(&cfg.MarketData.BirdeyeAPIKey, "LPBOT_BIRDEYE_API_KEY")

	setStr(&cfg.Venue.Mode, "LPBOT_VENUE_MODE")
	setStr(&cfg.Venue.GatewayURL, "LPBOT_VENUE_GATEWAY_URL")
	setStr(&cfg.Venue.AuthToken, "LPBOT_VENUE_AUTH_TOKEN")

	setStr(&cfg.Storage.Driver, "LPBOT_STORAGE_DRIVER")
	setStr(&cfg.Storage.DSN, "LPBOT_STORAGE_DSN")
	setStr(&cfg.Storage.Password, "LPBOT_STORAGE_PASSWORD")

	setBool(&cfg.Redis.Enabled, "LPBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LPBOT_REDIS_PASSWORD")

	setBool(&cfg.Archive.Enabled, "LPBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Bucket, "LPBOT_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "LPBOT_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "LPBOT_ARCHIVE_SECRET_KEY")

	setStr(&cfg.Log.Level, "LPBOT_LOG_LEVEL")
	setStr(&cfg.Log.Format, "LPBOT_LOG_FORMAT")
	setStr(&cfg.Log.File, "LPBOT_LOG_FILE")
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	lc := &cfg.Lifecycle
	if lc.VolumeThreshold == 0 {
		lc.VolumeThreshold = 0.15
	}
	if lc.CheckInterval.Duration == 0 {
		lc.CheckInterval.Duration = 5 * time.Minute
	}
	if lc.MaxLifespan.Duration == 0 {
		lc.MaxLifespan.Duration = 72 * time.Hour
	}
	if lc.CapitalAllocation == "" {
		lc.CapitalAllocation = "10000000"
	}
	if lc.CapitalAllocationY == "" {
		lc.CapitalAllocationY = "0"
	}
	if lc.RangeInterval == 0 {
		lc.RangeInterval = 10
	}
	if lc.RebalanceInterval.Duration == 0 {
		lc.RebalanceInterval.Duration = 15 * time.Minute
	}
	if lc.RebalanceThresholdPct == 0 {
		lc.RebalanceThresholdPct = 20
	}
	if lc.MaxPositions == 0 {
		lc.MaxPositions = 1
	}
	if lc.CallTimeout.Duration == 0 {
		lc.CallTimeout.Duration = 2 * time.Minute
	}
	if lc.CloseMaxAttempts == 0 {
		lc.CloseMaxAttempts = 5
	}
	if lc.CloseBackoff.Duration == 0 {
		lc.CloseBackoff.Duration = 5 * time.Second
	}
	if lc.StoreWriteAttempts == 0 {
		lc.StoreWriteAttempts = 3
	}

	if cfg.Selector.TrendingLimit <= 0 {
		cfg.Selector.TrendingLimit = 5
	}
	if cfg.Selector.IdleInterval.Duration == 0 {
		cfg.Selector.IdleInterval.Duration = time.Minute
	}
	if cfg.Selector.Weights == (domain.ScoreWeights{}) {
		cfg.Selector.Weights = domain.DefaultScoreWeights()
	}

	md := &cfg.MarketData
	if md.Provider == "" {
		md.Provider = "birdeye"
	}
	if md.Chain == "" {
		md.Chain = "solana"
	}
	if md.BirdeyeBase == "" {
		md.BirdeyeBase = "https://public-api.birdeye.so"
	}
	if md.DexscreenerURL == "" {
		md.DexscreenerURL = "https://api.dexscreener.com"
	}

	v := &cfg.Venue
	if v.Mode == "" {
		v.Mode = "gateway"
	}
	if v.Timeout.Duration == 0 {
		v.Timeout.Duration = 90 * time.Second
	}
	if v.PoolsURL == "" {
		v.PoolsURL = "https://dlmm-api.meteora.ag"
	}
	if v.PoolsCacheTTL.Duration == 0 {
		v.PoolsCacheTTL.Duration = 5 * time.Minute
	}
	if v.PaperFeeRateHr == 0 {
		v.PaperFeeRateHr = 0.001
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "lpbot.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "lpbot"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "lpbot:lifecycle"
	}

	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "positions"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

// Typed env-var helpers. Each only mutates the target when the variable is set.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
