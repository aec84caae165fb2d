package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/voicesell/bridge/internal/domain"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Signing material and transport endpoint handed out with every grant.
	// Deployment defects if absent; issuance fails without retry.
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	WsURL     string `mapstructure:"ws_url"`

	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`

	// Issuance rate limit per client token.
	IssueLimit  int           `mapstructure:"issue_limit"`
	IssueWindow time.Duration `mapstructure:"issue_window"`

	WebhookURL string `mapstructure:"webhook_url"`

	Tenant domain.TenantConfig `mapstructure:"tenant"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("token_ttl", "15m")
	v.SetDefault("rpc_timeout", "10s")
	v.SetDefault("issue_limit", 10)
	v.SetDefault("issue_window", "1m")
	v.SetDefault("tenant.company_name", "Voice Sell AI")
	v.SetDefault("tenant.room_prefix", "voicesell")
	v.SetDefault("tenant.agent_identity", "voice-sell-agent")
	v.SetDefault("tenant.start_button_text", "Start Booking Call")
	v.SetDefault("tenant.supports_chat_input", true)

	// Secrets come from the environment, never from the yaml file.
	_ = v.BindEnv("api_key", "API_KEY")
	_ = v.BindEnv("api_secret", "API_SECRET")
	_ = v.BindEnv("ws_url", "WS_URL")
	_ = v.BindEnv("webhook_url", "WEBHOOK_URL")
	_ = v.BindEnv("secret", "COOKIE_SECRET")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Tenant: %s\n", cfg.Mode, cfg.Port, cfg.Tenant.CompanyName)
	return &cfg, nil
}
