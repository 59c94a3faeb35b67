// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Markets     MarketsConfig     `mapstructure:"markets"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Lighter     LighterConfig     `mapstructure:"lighter"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	HealthPort int `mapstructure:"health_port"`
}

// MarketsConfig holds the tracked assets and venue market mappings.
type MarketsConfig struct {
	AvailableAssets  []string       `mapstructure:"available_assets"`
	LighterMarketMap map[string]int `mapstructure:"lighter_market_map"`
	DepthLevels      int            `mapstructure:"depth_levels"`
}

// LighterMarketFor returns the Lighter market index for a symbol.
func (c *MarketsConfig) LighterMarketFor(symbol string) (int, bool) {
	idx, ok := c.LighterMarketMap[symbol]
	return idx, ok
}

// SymbolForLighterMarket reverse-maps a Lighter market index to its symbol.
func (c *MarketsConfig) SymbolForLighterMarket(idx int) (string, bool) {
	for sym, i := range c.LighterMarketMap {
		if i == idx {
			return sym, true
		}
	}
	return "", false
}

// BroadcastConfig holds fan-out cadence and derived-data settings.
type BroadcastConfig struct {
	FrequencyHz           float64   `mapstructure:"frequency_hz"`
	PriceHistorySeconds   float64   `mapstructure:"price_history_seconds"`
	LiquiditySizes        []float64 `mapstructure:"liquidity_sizes"`
	ImmediatePriceUpdates bool      `mapstructure:"immediate_price_updates"`
}

// Interval returns the cadence loop period.
func (c *BroadcastConfig) Interval() time.Duration {
	if c.FrequencyHz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / c.FrequencyHz)
}

// HyperliquidConfig holds the Hyperliquid upstream settings.
type HyperliquidConfig struct {
	WebSocketURL   string        `mapstructure:"websocket_url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// LighterConfig holds the Lighter upstream settings.
type LighterConfig struct {
	WebSocketURL       string        `mapstructure:"websocket_url"`
	RESTURL            string        `mapstructure:"rest_url"`
	ResnapshotInterval time.Duration `mapstructure:"resnapshot_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RequestsPerMinute  int           `mapstructure:"requests_per_minute"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("AGG")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "AGG_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "AGG_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "AGG_LOG_LEVEL", "LOG_LEVEL")

	// Server
	v.BindEnv("server.port", "AGG_SERVER_PORT", "PORT")
	v.BindEnv("server.health_port", "AGG_HEALTH_PORT")

	// Markets
	v.BindEnv("markets.available_assets", "AGG_AVAILABLE_ASSETS")

	// Broadcast
	v.BindEnv("broadcast.frequency_hz", "AGG_BROADCAST_FREQUENCY_HZ")
	v.BindEnv("broadcast.price_history_seconds", "AGG_PRICE_HISTORY_SECONDS")

	// Upstreams
	v.BindEnv("hyperliquid.websocket_url", "AGG_HYPERLIQUID_WS_URL", "HYPERLIQUID_WS_URL")
	v.BindEnv("lighter.websocket_url", "AGG_LIGHTER_WS_URL", "LIGHTER_WS_URL")
	v.BindEnv("lighter.rest_url", "AGG_LIGHTER_REST_URL", "LIGHTER_REST_URL")

	// Telemetry
	v.BindEnv("telemetry.enabled", "AGG_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "AGG_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "AGG_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "orderbook-aggregator")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", "10s")

	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.health_port", 8081)

	// Markets defaults
	v.SetDefault("markets.available_assets", []string{"ETH", "BTC", "SOL"})
	v.SetDefault("markets.lighter_market_map", map[string]int{"ETH": 0, "BTC": 1, "SOL": 2})
	v.SetDefault("markets.depth_levels", 20)

	// Broadcast defaults
	v.SetDefault("broadcast.frequency_hz", 10.0)
	v.SetDefault("broadcast.price_history_seconds", 3600.0)
	v.SetDefault("broadcast.liquidity_sizes", []float64{1000, 5000, 10000, 50000, 100000, 200000, 500000, 1000000})
	v.SetDefault("broadcast.immediate_price_updates", true)

	// Hyperliquid defaults
	v.SetDefault("hyperliquid.websocket_url", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("hyperliquid.reconnect_delay", "5s")

	// Lighter defaults
	v.SetDefault("lighter.websocket_url", "wss://mainnet.zklighter.elliot.ai/stream")
	v.SetDefault("lighter.rest_url", "https://mainnet.zklighter.elliot.ai")
	v.SetDefault("lighter.resnapshot_interval", "5s")
	v.SetDefault("lighter.request_timeout", "10s")
	v.SetDefault("lighter.requests_per_minute", 300)
	v.SetDefault("lighter.reconnect_delay", "5s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "orderbook-aggregator")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Markets.AvailableAssets) == 0 {
		return fmt.Errorf("markets.available_assets cannot be empty")
	}
	if c.Markets.DepthLevels < 1 || c.Markets.DepthLevels > 100 {
		return fmt.Errorf("markets.depth_levels must be in [1,100], got %d", c.Markets.DepthLevels)
	}
	if c.Broadcast.FrequencyHz <= 0 {
		return fmt.Errorf("broadcast.frequency_hz must be positive, got %v", c.Broadcast.FrequencyHz)
	}
	if c.Broadcast.PriceHistorySeconds <= 0 {
		return fmt.Errorf("broadcast.price_history_seconds must be positive, got %v", c.Broadcast.PriceHistorySeconds)
	}
	if len(c.Broadcast.LiquiditySizes) == 0 {
		return fmt.Errorf("broadcast.liquidity_sizes cannot be empty")
	}
	if c.Hyperliquid.WebSocketURL == "" {
		return fmt.Errorf("hyperliquid.websocket_url is required")
	}
	if c.Lighter.WebSocketURL == "" {
		return fmt.Errorf("lighter.websocket_url is required")
	}
	if c.Lighter.RESTURL == "" {
		return fmt.Errorf("lighter.rest_url is required")
	}
	return nil
}
