package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	ReadLimit int64  `mapstructure:"read_limit"`

	Engine Engine `mapstructure:"engine"`
}

// Engine holds every tunable of the session-coordination core. The
// defaults below are the contract values; tests override them freely.
type Engine struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	DegradedAfter     time.Duration `mapstructure:"degraded_after"`
	ReconnectingAfter time.Duration `mapstructure:"reconnecting_after"`
	ReconnectGrace    time.Duration `mapstructure:"reconnect_grace"`
	RoomIdleGrace     time.Duration `mapstructure:"room_idle_grace"`
	Tick              time.Duration `mapstructure:"tick"`

	PresenceDebounce time.Duration `mapstructure:"presence_debounce"`
	TypingExpiry     time.Duration `mapstructure:"typing_expiry"`

	HistorySize   int           `mapstructure:"history_size"`
	ChatQueue     int           `mapstructure:"chat_queue"`
	ActivityQueue int           `mapstructure:"activity_queue"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`

	ClaimProbeGrace time.Duration `mapstructure:"claim_probe_grace"`

	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
}

// DefaultEngine returns the engine tunables at their contract values.
func DefaultEngine() Engine {
	return Engine{
		HeartbeatInterval: 5 * time.Second,
		DegradedAfter:     10 * time.Second,
		ReconnectingAfter: 20 * time.Second,
		ReconnectGrace:    30 * time.Second,
		RoomIdleGrace:     60 * time.Second,
		Tick:              time.Second,
		PresenceDebounce:  150 * time.Millisecond,
		TypingExpiry:      5 * time.Second,
		HistorySize:       500,
		ChatQueue:         64,
		ActivityQueue:     32,
		SendBuffer:        64,
		WriteTimeout:      5 * time.Second,
		ClaimProbeGrace:   2 * time.Second,
		JoinRateLimit:     10,
		JoinRateInterval:  time.Minute,
	}
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

	def := DefaultEngine()
	v.SetDefault("engine.heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("engine.degraded_after", def.DegradedAfter)
	v.SetDefault("engine.reconnecting_after", def.ReconnectingAfter)
	v.SetDefault("engine.reconnect_grace", def.ReconnectGrace)
	v.SetDefault("engine.room_idle_grace", def.RoomIdleGrace)
	v.SetDefault("engine.tick", def.Tick)
	v.SetDefault("engine.presence_debounce", def.PresenceDebounce)
	v.SetDefault("engine.typing_expiry", def.TypingExpiry)
	v.SetDefault("engine.history_size", def.HistorySize)
	v.SetDefault("engine.chat_queue", def.ChatQueue)
	v.SetDefault("engine.activity_queue", def.ActivityQueue)
	v.SetDefault("engine.send_buffer", def.SendBuffer)
	v.SetDefault("engine.write_timeout", def.WriteTimeout)
	v.SetDefault("engine.claim_probe_grace", def.ClaimProbeGrace)
	v.SetDefault("engine.join_rate_limit", def.JoinRateLimit)
	v.SetDefault("engine.join_rate_interval", def.JoinRateInterval)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
