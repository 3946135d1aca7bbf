package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service. Values come from environment
// variables with sensible defaults; an optional YAML file named by
// AUDIOGRAB_CONFIG overrides whatever the environment produced.
type Config struct {
	ListenAddr    string `env:"AUDIOGRAB_LISTEN_ADDR" envDefault:"0.0.0.0:8080" yaml:"listen_addr"`
	CacheDir      string `env:"AUDIOGRAB_CACHE_DIR" envDefault:"./audios" yaml:"cache_dir"`
	PublicBaseURL string `env:"AUDIOGRAB_PUBLIC_BASE_URL" yaml:"public_base_url"`

	RetentionPeriod time.Duration `env:"AUDIOGRAB_RETENTION_PERIOD" envDefault:"2h" yaml:"retention_period"`
	SweepInterval   time.Duration `env:"AUDIOGRAB_SWEEP_INTERVAL" envDefault:"100s" yaml:"sweep_interval"`
	DurationCeiling time.Duration `env:"AUDIOGRAB_DURATION_CEILING" envDefault:"5m" yaml:"duration_ceiling"`
	FetchTimeout    time.Duration `env:"AUDIOGRAB_FETCH_TIMEOUT" envDefault:"10m" yaml:"fetch_timeout"`
	RefreshDebounce time.Duration `env:"AUDIOGRAB_REFRESH_DEBOUNCE" envDefault:"500ms" yaml:"refresh_debounce"`

	Bitrate     string `env:"AUDIOGRAB_BITRATE" envDefault:"256k" yaml:"bitrate"`
	SearchLimit int    `env:"AUDIOGRAB_SEARCH_LIMIT" envDefault:"15" yaml:"search_limit"`

	YTDLPPath  string `env:"AUDIOGRAB_YTDLP_PATH" envDefault:"yt-dlp" yaml:"ytdlp_path"`
	FFmpegPath string `env:"AUDIOGRAB_FFMPEG_PATH" envDefault:"ffmpeg" yaml:"ffmpeg_path"`

	// Courtesy ceiling on calls to the upstream catalog and extractor.
	UpstreamPerMinute int `env:"AUDIOGRAB_UPSTREAM_PER_MINUTE" envDefault:"50" yaml:"upstream_per_minute"`
}

// Load builds the configuration from the environment and, when
// AUDIOGRAB_CONFIG is set, applies the YAML file on top of it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("AUDIOGRAB_CONFIG")); path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return Config{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", resolved, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects combinations the rest of the service cannot work with.
func (c Config) Validate() error {
	if c.RetentionPeriod <= 0 {
		return errors.New("retention period must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.SweepInterval >= c.RetentionPeriod {
		return errors.New("sweep interval must be shorter than the retention period")
	}
	if c.DurationCeiling <= 0 {
		return errors.New("duration ceiling must be positive")
	}
	if c.SearchLimit <= 0 {
		return errors.New("search limit must be positive")
	}
	if strings.TrimSpace(c.Bitrate) == "" {
		return errors.New("bitrate must not be empty")
	}
	return nil
}

// ResolveCacheDir returns the absolute cache directory, creating it when it
// does not yet exist.
func (c Config) ResolveCacheDir() (string, error) {
	dir := strings.TrimSpace(c.CacheDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cwd, "audios")
	}

	abs, err := resolvePath(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}

	return abs, nil
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Abs(path)
}
