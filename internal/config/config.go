package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Delete policies for attendance history when an identity is removed.
const (
	DeletePolicyCascade = "cascade"
	DeletePolicyRetain  = "retain"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Web         WebConfig         `yaml:"web"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Storage     StorageConfig     `yaml:"storage"`
	Hub         HubConfig         `yaml:"hub"`
	Redis       RedisConfig       `yaml:"redis"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	DeletePolicy string `yaml:"delete_policy"`  // cascade | retain
}

type WebConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	SessionSecret  string        `yaml:"session_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

type RecognitionConfig struct {
	Threshold       float64       `yaml:"threshold"`        // initial threshold when settings are empty
	Dimension       int           `yaml:"dimension"`        // encoding length, 128 for dlib encoders
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables periodic store reloads
}

type EncoderConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	UserImagesDir string `yaml:"user_images_dir"`
	MaxImageSize  int    `yaml:"max_image_size"` // longest edge of stored enrollment images
}

type HubConfig struct {
	QueueSize    int           `yaml:"queue_size"` // per-subscriber outbound queue
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RedisConfig struct {
	URL     string `yaml:"url"` // empty disables the cross-instance relay
	Channel string `yaml:"channel"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float from the environment, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration parses a Go duration string; negative or invalid values keep the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the configuration baked into the binary.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load builds the configuration from the embedded defaults, the optional YAML
// file named by ATTENDANCE_CONFIG, and finally environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ATTENDANCE_CONFIG"); path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.DeletePolicy = envString("DELETE_POLICY", c.Database.DeletePolicy)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.SessionSecret = envString("WEB_SESSION_SECRET", c.Web.SessionSecret)
	c.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", c.Web.AllowedOrigins)
	c.Web.SessionTTL = envDuration("WEB_SESSION_TTL", c.Web.SessionTTL)

	c.Recognition.Threshold = envFloat("FACE_RECOGNITION_THRESHOLD", c.Recognition.Threshold)
	c.Recognition.Dimension = envInt("ENCODING_DIM", c.Recognition.Dimension)
	c.Recognition.RefreshInterval = envDuration("ENCODINGS_REFRESH_INTERVAL", c.Recognition.RefreshInterval)

	c.Encoder.URL = envString("ENCODER_URL", c.Encoder.URL)
	c.Encoder.Timeout = envDuration("ENCODER_TIMEOUT", c.Encoder.Timeout)

	c.Storage.UserImagesDir = envString("USER_IMAGES_DIR", c.Storage.UserImagesDir)
	c.Storage.MaxImageSize = envInt("MAX_IMAGE_SIZE", c.Storage.MaxImageSize)

	c.Hub.QueueSize = envInt("HUB_QUEUE_SIZE", c.Hub.QueueSize)
	c.Hub.WriteTimeout = envDuration("HUB_WRITE_TIMEOUT", c.Hub.WriteTimeout)

	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)
	c.Redis.Channel = envString("REDIS_CHANNEL", c.Redis.Channel)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.DeletePolicy {
	case DeletePolicyCascade, DeletePolicyRetain:
	default:
		return fmt.Errorf("invalid delete policy %q (want %q or %q)",
			c.Database.DeletePolicy, DeletePolicyCascade, DeletePolicyRetain)
	}
	if c.Recognition.Dimension <= 0 {
		return fmt.Errorf("invalid encoding dimension %d", c.Recognition.Dimension)
	}
	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("invalid hub queue size %d", c.Hub.QueueSize)
	}
	return nil
}

// Addr returns the host:port the web server listens on.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
