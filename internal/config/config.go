package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig
	RateLimit  RateLimitConfig
	Resolver   ResolverConfig
	Matcher    MatcherConfig
	Metrics    MetricsConfig
}

type DatabaseConfig struct {
	Path string
}

// ServiceLimit is any subset of {RPS, RPM, TPM, RPD}; a zero value means the
// window is not enforced for that service.
type ServiceLimit struct {
	RPS int `yaml:"rps"`
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
	RPD int `yaml:"rpd"`
}

type RateLimitConfig struct {
	Services map[string]ServiceLimit
	Default  ServiceLimit
}

type ResolverConfig struct {
	Mailto        string
	DownloadDir   string
	SciHubMirrors []string
	HTTPTimeout   time.Duration
}

type MatcherConfig struct {
	AcceptThreshold float64
	TieClusterWidth float64
}

type MetricsConfig struct {
	Addr string // empty disables the /metrics endpoint
}

var defaultSciHubMirrors = []string{
	"https://sci-hub.se",
	"https://sci-hub.st",
	"https://sci-hub.ru",
}

var defaultServiceLimits = map[string]ServiceLimit{
	"openalex":   {RPS: 9, RPD: 100000},
	"crossref":   {RPS: 5, RPD: 50000},
	"unpaywall":  {RPS: 8, RPD: 100000},
	"scihub":     {RPS: 1},
	"libgen":     {RPS: 1},
}

func Load() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./biblio.db"),
		},
		RateLimit: RateLimitConfig{
			Services: cloneLimits(defaultServiceLimits),
			Default:  ServiceLimit{RPS: 5},
		},
		Resolver: ResolverConfig{
			Mailto:        getEnv("MAILTO", ""),
			DownloadDir:   getEnv("DOWNLOAD_DIR", "./downloads"),
			SciHubMirrors: getSliceEnv("SCIHUB_MIRRORS", defaultSciHubMirrors),
			HTTPTimeout:   getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		},
		Matcher: MatcherConfig{
			AcceptThreshold: 0.85,
			TieClusterWidth: 0.05,
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
	}

	if path := getEnv("RATE_LIMIT_CONFIG", ""); path != "" {
		if err := loadRateLimitOverrides(path, &cfg.RateLimit); err != nil {
			fmt.Fprintf(os.Stderr, "rate limit config %s: %v (using defaults)\n", path, err)
		}
	}

	return cfg
}

func loadRateLimitOverrides(path string, into *RateLimitConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc struct {
		Default  ServiceLimit            `yaml:"default"`
		Services map[string]ServiceLimit `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Default != (ServiceLimit{}) {
		into.Default = doc.Default
	}
	for name, limit := range doc.Services {
		into.Services[name] = limit
	}
	return nil
}

func cloneLimits(m map[string]ServiceLimit) map[string]ServiceLimit {
	out := make(map[string]ServiceLimit, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
