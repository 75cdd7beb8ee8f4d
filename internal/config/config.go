package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Feed    FeedConfig
	Venue   VenueConfig
	Signing SigningConfig
	Signals SignalsConfig
	Gate    GateConfig
	Runtime RuntimeConfig
}

type FeedConfig struct {
	URL            string
	Symbols        []string
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
}

type VenueConfig struct {
	BaseURL  string
	APIToken string
}

type SigningConfig struct {
	AgentKey     string
	OwnerAddress string
}

type SignalsConfig struct {
	Alpha              float64
	ScoreDeadband      float64
	ConvictionDeadband float64
	ForceRefresh       time.Duration
	BiasStreak         int
	PlanTTL            time.Duration
	PlanSweepEvery     time.Duration
}

type GateConfig struct {
	Enabled          bool
	Interval         time.Duration
	MinNotionalUSD   float64
	MaxNotionalUSD   float64
	Cooldown         time.Duration
	SubmitTimeout    time.Duration
	TriggerScore     float64
	TriggerStreak    int
	TriggerNotional  float64
	TriggerCooldown  time.Duration
	MaxOpenPositions int
	AuthTTL          time.Duration
}

type RuntimeConfig struct {
	Log         LogConfig
	MetricsAddr string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Load() (*Config, error) {
	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	setDefaults()

	cfg.Feed = FeedConfig{
		URL:            viper.GetString("feed.url"),
		Symbols:        viper.GetStringSlice("feed.symbols"),
		ReconnectDelay: viper.GetDuration("feed.reconnect_delay"),
		SettleDelay:    viper.GetDuration("feed.settle_delay"),
	}

	cfg.Venue = VenueConfig{
		BaseURL:  viper.GetString("venue.base_url"),
		APIToken: envSub("venue.api_token"),
	}

	cfg.Signing = SigningConfig{
		AgentKey:     envSub("signing.agent_key"),
		OwnerAddress: viper.GetString("signing.owner_address"),
	}

	cfg.Signals = SignalsConfig{
		Alpha:              viper.GetFloat64("signals.alpha"),
		ScoreDeadband:      viper.GetFloat64("signals.score_deadband"),
		ConvictionDeadband: viper.GetFloat64("signals.conviction_deadband"),
		ForceRefresh:       viper.GetDuration("signals.force_refresh"),
		BiasStreak:         viper.GetInt("signals.bias_streak"),
		PlanTTL:            viper.GetDuration("signals.plan_ttl"),
		PlanSweepEvery:     viper.GetDuration("signals.plan_sweep_every"),
	}

	cfg.Gate = GateConfig{
		Enabled:          viper.GetBool("gate.enabled"),
		Interval:         viper.GetDuration("gate.interval"),
		MinNotionalUSD:   viper.GetFloat64("gate.min_notional_usd"),
		MaxNotionalUSD:   viper.GetFloat64("gate.max_notional_usd"),
		Cooldown:         viper.GetDuration("gate.cooldown"),
		SubmitTimeout:    viper.GetDuration("gate.submit_timeout"),
		TriggerScore:     viper.GetFloat64("gate.trigger_score"),
		TriggerStreak:    viper.GetInt("gate.trigger_streak"),
		TriggerNotional:  viper.GetFloat64("gate.trigger_notional_usd"),
		TriggerCooldown:  viper.GetDuration("gate.trigger_cooldown"),
		MaxOpenPositions: viper.GetInt("gate.max_open_positions"),
		AuthTTL:          viper.GetDuration("gate.auth_ttl"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
		MetricsAddr: viper.GetString("runtime.metrics_addr"),
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("feed.reconnect_delay", "3s")
	viper.SetDefault("feed.settle_delay", "500ms")

	viper.SetDefault("signals.alpha", 0.08)
	viper.SetDefault("signals.score_deadband", 3.0)
	viper.SetDefault("signals.conviction_deadband", 0.1)
	viper.SetDefault("signals.force_refresh", "10s")
	viper.SetDefault("signals.bias_streak", 5)
	viper.SetDefault("signals.plan_ttl", "60s")
	viper.SetDefault("signals.plan_sweep_every", "5s")

	viper.SetDefault("gate.interval", "3s")
	viper.SetDefault("gate.min_notional_usd", 10.0)
	viper.SetDefault("gate.max_notional_usd", 5000.0)
	viper.SetDefault("gate.cooldown", "90s")
	viper.SetDefault("gate.submit_timeout", "10s")
	viper.SetDefault("gate.trigger_score", 65.0)
	viper.SetDefault("gate.trigger_streak", 5)
	viper.SetDefault("gate.trigger_notional_usd", 250.0)
	viper.SetDefault("gate.trigger_cooldown", "10m")
	viper.SetDefault("gate.max_open_positions", 3)
	viper.SetDefault("gate.auth_ttl", "24h")

	viper.SetDefault("runtime.log.level", "info")
	viper.SetDefault("runtime.metrics_addr", ":9105")
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
