package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the sync service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	RedisURL          string
	NatsURL           string
	DatabaseURL       string
	DocPrefix         string
	LocalStorePath    string
	JWTSecret         string
	HeartbeatInterval time.Duration
	PresenceWindow    time.Duration
	DismissDelay      time.Duration
	StunServers       []string
	OpenAIAPIKey      string
	AIModel           string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// defaultStunServers is the STUN set used to build peer connections when no
// override is configured.
var defaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// Load reads configuration values from environment variables and an optional
// .env file. An absent Redis URL is not an error: the service then runs in
// local fallback mode.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TRUST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Trust Sync API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("doc.prefix", "trust")
	v.SetDefault("local.store_path", "trust_app_data.json")
	v.SetDefault("heartbeat.interval", "1m")
	v.SetDefault("presence.window", "5m")
	v.SetDefault("call.dismiss_delay", "1500ms")
	v.SetDefault("ai.model", "gpt-4o-mini")

	heartbeat, err := time.ParseDuration(v.GetString("heartbeat.interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid heartbeat interval: %w", err)
	}

	window, err := time.ParseDuration(v.GetString("presence.window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence window: %w", err)
	}

	dismiss, err := time.ParseDuration(v.GetString("call.dismiss_delay"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid call dismiss delay: %w", err)
	}

	stun := defaultStunServers
	if raw := v.GetString("stun.servers"); raw != "" {
		stun = nil
		for _, server := range strings.Split(raw, ",") {
			if server = strings.TrimSpace(server); server != "" {
				stun = append(stun, server)
			}
		}
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		RedisURL:          v.GetString("redis.url"),
		NatsURL:           v.GetString("nats.url"),
		DatabaseURL:       v.GetString("database.url"),
		DocPrefix:         v.GetString("doc.prefix"),
		LocalStorePath:    v.GetString("local.store_path"),
		JWTSecret:         v.GetString("jwt.secret"),
		HeartbeatInterval: heartbeat,
		PresenceWindow:    window,
		DismissDelay:      dismiss,
		StunServers:       stun,
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		AIModel:           v.GetString("ai.model"),
	}

	return cfg, nil
}
