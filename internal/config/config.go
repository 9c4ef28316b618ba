package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at process start and passed by reference into each
// component. Components never read the environment themselves.
type Config struct {
	AppName  string         `mapstructure:"appName"`
	Server   ServerConfig   `mapstructure:"server"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Video    VideoConfig    `mapstructure:"video"`
	Exposure ExposureConfig `mapstructure:"exposure"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatasetConfig struct {
	// BaseDir holds one subdirectory per run id, each with the run's data
	// file plus media/ and video_frames/.
	BaseDir string `mapstructure:"baseDir"`
	SortKey string `mapstructure:"sortKey"`
	TopN    int    `mapstructure:"topN"`
}

type VideoConfig struct {
	FramesPerVideo int `mapstructure:"framesPerVideo"`
	MaxVideos      int `mapstructure:"maxVideos"`
}

type ExposureConfig struct {
	PortMin       int    `mapstructure:"portMin"`
	PortMax       int    `mapstructure:"portMax"`
	Tunnel        bool   `mapstructure:"tunnel"`
	NgrokAPIURL   string `mapstructure:"ngrokAPIURL"`
	TunnelTimeout int    `mapstructure:"tunnelTimeoutSeconds"`
}

type AnalysisConfig struct {
	Provider       string  `mapstructure:"provider"`
	OpenAIAPIKey   string  `mapstructure:"openAIAPIKey"`
	GeminiAPIKey   string  `mapstructure:"geminiAPIKey"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"maxTokens"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxImagesPerAd int     `mapstructure:"maxImagesPerAd"`
	TimeoutMinutes int     `mapstructure:"timeoutMinutes"`
	PromptFile     string  `mapstructure:"promptFile"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RequestTimeout is the deadline for one provider call. Vision analysis of
// many images is slow, so the default is measured in minutes.
func (c AnalysisConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Load reads the yaml config file, applies ADLENS_* environment overrides
// and fills defaults. A missing config file is not an error.
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("adlens")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("appName", "adlens")
	v.SetDefault("server.port", 8080)
	v.SetDefault("dataset.baseDir", "./datasets/facebook")
	v.SetDefault("dataset.sortKey", "impressions")
	v.SetDefault("dataset.topN", 10)
	v.SetDefault("video.framesPerVideo", 3)
	v.SetDefault("video.maxVideos", 5)
	v.SetDefault("exposure.portMin", 8100)
	v.SetDefault("exposure.portMax", 8999)
	v.SetDefault("exposure.tunnel", true)
	v.SetDefault("exposure.ngrokAPIURL", "http://127.0.0.1:4040")
	v.SetDefault("exposure.tunnelTimeoutSeconds", 15)
	v.SetDefault("analysis.provider", "openai")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.maxTokens", 4096)
	v.SetDefault("analysis.temperature", 0.5)
	v.SetDefault("analysis.maxImagesPerAd", 3)
	v.SetDefault("analysis.timeoutMinutes", 10)
	v.SetDefault("database.path", "./adlens.db")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Exposure.PortMin > cfg.Exposure.PortMax {
		return nil, fmt.Errorf("invalid exposure port range [%d, %d]", cfg.Exposure.PortMin, cfg.Exposure.PortMax)
	}

	return &cfg, nil
}
