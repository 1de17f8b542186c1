package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CELLOVERLAY"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
	History   HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PublicURL       string        `mapstructure:"public_url"`
	StaticDir       string        `mapstructure:"static_dir"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CacheConfig 进程内缓存，Redis 不可用时使用
type CacheConfig struct {
	LocalMaxBytes int64         `mapstructure:"local_max_bytes"`
	LocalTTL      time.Duration `mapstructure:"local_ttl"`
}

type UploadConfig struct {
	MaxSize          int64    `mapstructure:"max_size"`
	UploadDir        string   `mapstructure:"upload_dir"`
	ProcessedDir     string   `mapstructure:"processed_dir"`
	AllowedTypes     []string `mapstructure:"allowed_types"`
	CleanupTempFiles bool     `mapstructure:"cleanup_temp_files"`
}

type SegmenterConfig struct {
	InferenceURL  string        `mapstructure:"inference_url"`
	Confidence    float64       `mapstructure:"confidence"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	Label         string        `mapstructure:"label"`
}

type OverlayConfig struct {
	Alpha            float64 `mapstructure:"alpha"`
	PreserveUnmasked bool    `mapstructure:"preserve_unmasked"`
	Engine           string  `mapstructure:"engine"` // go, opencv
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 从 YAML 文件加载配置，环境变量优先。
// 配置文件不存在时使用默认值和环境变量；解析或校验失败时返回错误。
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	if c.Overlay.Alpha < 0 || c.Overlay.Alpha > 1 {
		return fmt.Errorf("overlay.alpha must be within [0,1], got %v", c.Overlay.Alpha)
	}
	switch c.Overlay.Engine {
	case "go", "opencv":
	default:
		return fmt.Errorf("overlay.engine must be go or opencv, got %q", c.Overlay.Engine)
	}
	if c.Segmenter.MaxConcurrent <= 0 {
		return fmt.Errorf("segmenter.max_concurrent must be positive, got %d", c.Segmenter.MaxConcurrent)
	}
	if c.Upload.UploadDir == "" || c.Upload.ProcessedDir == "" {
		return fmt.Errorf("upload.upload_dir and upload.processed_dir are required")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.public_url", d.Server.PublicURL)
	v.SetDefault("server.static_dir", d.Server.StaticDir)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("cache.local_max_bytes", d.Cache.LocalMaxBytes)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.upload_dir", d.Upload.UploadDir)
	v.SetDefault("upload.processed_dir", d.Upload.ProcessedDir)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)
	v.SetDefault("upload.cleanup_temp_files", d.Upload.CleanupTempFiles)

	v.SetDefault("segmenter.inference_url", d.Segmenter.InferenceURL)
	v.SetDefault("segmenter.confidence", d.Segmenter.Confidence)
	v.SetDefault("segmenter.timeout", d.Segmenter.Timeout)
	v.SetDefault("segmenter.max_concurrent", d.Segmenter.MaxConcurrent)
	v.SetDefault("segmenter.queue_timeout", d.Segmenter.QueueTimeout)
	v.SetDefault("segmenter.label", d.Segmenter.Label)

	v.SetDefault("overlay.alpha", d.Overlay.Alpha)
	v.SetDefault("overlay.preserve_unmasked", d.Overlay.PreserveUnmasked)
	v.SetDefault("overlay.engine", d.Overlay.Engine)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			PublicURL:       "http://127.0.0.1:8080",
			StaticDir:       "./static",
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Cache: CacheConfig{
			LocalMaxBytes: 8 * 1024 * 1024,
			LocalTTL:      time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:          16 * 1024 * 1024,
			UploadDir:        "./static/uploads",
			ProcessedDir:     "./static/processed",
			AllowedTypes:     []string{"image/jpeg", "image/png", "image/jpg", "image/tiff", "image/bmp", "image/webp"},
			CleanupTempFiles: false,
		},
		Segmenter: SegmenterConfig{
			InferenceURL:  "http://localhost:5000/predict",
			Confidence:    0.25,
			Timeout:       30 * time.Second,
			MaxConcurrent: 3,
			QueueTimeout:  30 * time.Second,
			Label:         "cell",
		},
		Overlay: OverlayConfig{
			Alpha:            0.7,
			PreserveUnmasked: false,
			Engine:           "go",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./overlays.db",
		},
	}
}

// Default 返回内置默认配置
func Default() *Config {
	return getDefaultConfig()
}
