package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/john/orchid/internal/kick"
	"github.com/john/orchid/internal/window"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Kick     KickConfig     `yaml:"kick"`
	Emotes   EmoteConfig    `yaml:"emotes"`
	Redis    RedisConfig    `yaml:"redis"`
	Recorder RecorderConfig `yaml:"recorder"`
	S3       S3Config       `yaml:"s3"`
	Uploader UploaderConfig `yaml:"uploader"`
}

// ServerConfig holds the HTTP and overlay socket settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" validate:"required"`
	StaticDir       string        `yaml:"static_dir"`
	HistorySize     int           `yaml:"history_size" validate:"min=1,max=1000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// OverlayConfig is used by the watch command, which runs the overlay client
type OverlayConfig struct {
	URL            string        `yaml:"url" validate:"omitempty,url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"min=0"`
	Heartbeat      time.Duration `yaml:"heartbeat" validate:"min=0"`
	Greeting       string        `yaml:"greeting"`
}

// TwitchConfig holds Twitch-specific configuration. Without credentials the
// connection is anonymous.
type TwitchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Username string   `yaml:"username"`
	OAuth    string   `yaml:"oauth"`
	Channels []string `yaml:"channels" validate:"dive,required"`
}

// KickConfig holds Kick-specific configuration
type KickConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Channels []kick.ChannelConfig `yaml:"channels"`
}

// EmoteConfig selects third-party emote providers
type EmoteConfig struct {
	FFZ        bool   `yaml:"ffz"`
	FFZBaseURL string `yaml:"ffz_base_url" validate:"omitempty,url"`
}

// RedisConfig enables Redis-backed history and layout. Empty Addr keeps
// both in memory.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"min=0"`
	HistoryKey string `yaml:"history_key"`
	LayoutKey  string `yaml:"layout_key"`
}

// RecorderConfig holds chat archive configuration
type RecorderConfig struct {
	Enabled         bool   `yaml:"enabled"`
	OutputDir       string `yaml:"output_dir"`
	RotateMinutes   int    `yaml:"rotate_minutes" validate:"min=1"`
	RotateMegabytes int    `yaml:"rotate_megabytes" validate:"min=1"`
	BufferSize      int    `yaml:"buffer_size" validate:"min=1"`
}

// S3Config holds S3 upload configuration. Uploads are off while Bucket is
// empty.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region" validate:"required_with=Bucket"`
	// RoleARN is the IAM role assumed through OIDC.
	RoleARN string `yaml:"role_arn"`
	// Legacy static credentials
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// Endpoint points at an S3-compatible service.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries" validate:"min=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":3000",
			HistorySize:     window.DefaultSize,
			ShutdownTimeout: 30 * time.Second,
		},
		Overlay: OverlayConfig{
			URL:            "ws://localhost:3000/ws",
			ReconnectDelay: 5 * time.Second,
		},
		Twitch: TwitchConfig{Enabled: true},
		Emotes: EmoteConfig{FFZ: true},
		Recorder: RecorderConfig{
			OutputDir:       "./data",
			RotateMinutes:   60,
			RotateMegabytes: 100,
			BufferSize:      100,
		},
		Uploader: UploaderConfig{
			DeleteAfterUpload: true,
			MaxRetries:        3,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"LISTEN_ADDR", &c.Server.ListenAddr},
		{"OVERLAY_URL", &c.Overlay.URL},
		{"TWITCH_USERNAME", &c.Twitch.Username},
		{"TWITCH_OAUTH", &c.Twitch.OAuth},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"AWS_ROLE_ARN", &c.S3.RoleARN},
		{"S3_ACCESS_KEY_ID", &c.S3.AccessKeyID},
		{"S3_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

var validate = validator.New()

// Validate checks field constraints and the rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Kick.Enabled {
		for _, ch := range c.Kick.Channels {
			if ch.Slug == "" {
				return fmt.Errorf("kick.channels: slug is required")
			}
		}
	}

	if c.S3.Bucket != "" {
		// Either OIDC role or static credentials required
		if c.S3.RoleARN == "" && c.S3.AccessKeyID == "" {
			return fmt.Errorf("either s3.role_arn (OIDC) or s3.access_key_id (legacy) is required")
		}
		if c.S3.AccessKeyID != "" && c.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3.secret_access_key is required when using access_key_id")
		}
	}

	return nil
}

// UploadsEnabled reports whether archives are shipped to S3.
func (c *Config) UploadsEnabled() bool {
	return c.Recorder.Enabled && c.S3.Bucket != ""
}
