package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the underfoot service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Geocoding GeocodingConfig `yaml:"geocoding"`
	Sources   SourcesConfig   `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds admin API authentication settings. Empty disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds cache store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Provider   string `yaml:"provider"`
	HNSWM      int    `yaml:"hnsw_m"`
	HNSWEF     int    `yaml:"hnsw_ef_construction"`
}

// LLMConfig holds chat-completion settings for the query parser and response composer.
type LLMConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	ParseMaxTokens    int     `yaml:"parse_max_tokens"`
	ComposeMaxTokens  int     `yaml:"compose_max_tokens"`
	ComposeTimeoutSec int     `yaml:"compose_timeout_sec"`
}

// GeocodingConfig holds geocoder settings.
type GeocodingConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Limit       int    `yaml:"limit"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

// SourceConfig holds one content source's settings. An empty API key
// disables sources that require one.
type SourceConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Limit      int    `yaml:"limit"`
	UserAgent  string `yaml:"user_agent"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// BreakerConfig holds circuit breaker settings shared by all sources.
type BreakerConfig struct {
	MaxRequests     uint32  `yaml:"max_requests"`
	IntervalSec     int     `yaml:"interval_sec"`
	OpenTimeoutSec  int     `yaml:"open_timeout_sec"`
	MinRequests     uint32  `yaml:"min_requests"`
	FailureRatio    float64 `yaml:"failure_ratio"`
	ConsecutiveFail uint32  `yaml:"consecutive_failures"`
}

// SourcesConfig holds settings for the three content sources.
type SourcesConfig struct {
	WebSearch SourceConfig  `yaml:"web_search"`
	Social    SourceConfig  `yaml:"social"`
	Events    SourceConfig  `yaml:"events"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// CacheConfig holds exact and semantic cache settings.
type CacheConfig struct {
	ExactTTLSec         int     `yaml:"exact_ttl_sec"`
	SemanticTTLSec      int     `yaml:"semantic_ttl_sec"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RadiusMiles         float64 `yaml:"radius_miles"`
	CandidateLimit      int     `yaml:"candidate_limit"`
	EmbeddingTTLSec     int     `yaml:"embedding_ttl_sec"`
	WriteWorkers        int     `yaml:"write_workers"`
	WriteTimeoutSec     int     `yaml:"write_timeout_sec"`
}

// ScoringConfig holds ranking weights and tier sizes.
type ScoringConfig struct {
	RelevanceWeight   float64  `yaml:"relevance_weight"`
	ReliabilityWeight float64  `yaml:"reliability_weight"`
	SignalsWeight     float64  `yaml:"signals_weight"`
	PrimarySize       int      `yaml:"primary_size"`
	NearbySize        int      `yaml:"nearby_size"`
	SourcePriority    []string `yaml:"source_priority"`
}

// UpstreamConfig holds timeouts for every outbound HTTP call.
type UpstreamConfig struct {
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	TotalTimeoutSec   int `yaml:"total_timeout_sec"`
}

// pathEnvVar names an explicit config file that overrides the env lookup.
const pathEnvVar = "UNDERFOOT_CONFIG"

// Load reads config/<env>.yaml, or the file named by UNDERFOOT_CONFIG.
func Load(env string) (Config, error) {
	path, err := resolvePath(env)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands ${VAR} and ${VAR:-default} references in data, decodes the
// YAML, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.Expand(string(data), lookupEnv)), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}
	return cfg, nil
}

// GetEnv returns the ENV variable, or "local" when unset.
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of independent defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-ada-002"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.HNSWM <= 0 {
		c.Embedding.HNSWM = 16
	}
	if c.Embedding.HNSWEF <= 0 {
		c.Embedding.HNSWEF = 200
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.ParseMaxTokens <= 0 {
		c.LLM.ParseMaxTokens = 200
	}
	if c.LLM.ComposeMaxTokens <= 0 {
		c.LLM.ComposeMaxTokens = 300
	}
	if c.LLM.ComposeTimeoutSec <= 0 {
		c.LLM.ComposeTimeoutSec = 15
	}

	if c.Geocoding.BaseURL == "" {
		c.Geocoding.BaseURL = "https://api.geoapify.com"
	}
	if c.Geocoding.Limit <= 0 {
		c.Geocoding.Limit = 5
	}
	if c.Geocoding.CacheTTLSec <= 0 {
		c.Geocoding.CacheTTLSec = int((24 * time.Hour).Seconds())
	}

	c.Sources.applyDefaults()
	c.Cache.applyDefaults()
	c.Scoring.applyDefaults()

	if c.Upstream.ConnectTimeoutSec <= 0 {
		c.Upstream.ConnectTimeoutSec = 5
	}
	if c.Upstream.TotalTimeoutSec <= 0 {
		c.Upstream.TotalTimeoutSec = 30
	}
}

func (s *SourcesConfig) applyDefaults() {
	if s.WebSearch.BaseURL == "" {
		s.WebSearch.BaseURL = "https://serpapi.com"
	}
	if s.Social.BaseURL == "" {
		s.Social.BaseURL = "https://www.reddit.com"
	}
	if s.Social.UserAgent == "" {
		s.Social.UserAgent = "Underfoot/1.0"
	}
	if s.Events.BaseURL == "" {
		s.Events.BaseURL = "https://www.eventbriteapi.com/v3"
	}
	for _, sc := range []*SourceConfig{&s.WebSearch, &s.Social, &s.Events} {
		if sc.Limit <= 0 {
			sc.Limit = 10
		}
		if sc.TimeoutSec <= 0 {
			sc.TimeoutSec = 10
		}
	}
	if s.Breaker.MaxRequests == 0 {
		s.Breaker.MaxRequests = 1
	}
	if s.Breaker.IntervalSec <= 0 {
		s.Breaker.IntervalSec = 60
	}
	if s.Breaker.OpenTimeoutSec <= 0 {
		s.Breaker.OpenTimeoutSec = 30
	}
	if s.Breaker.MinRequests == 0 {
		s.Breaker.MinRequests = 5
	}
	if s.Breaker.FailureRatio <= 0 {
		s.Breaker.FailureRatio = 0.6
	}
	if s.Breaker.ConsecutiveFail == 0 {
		s.Breaker.ConsecutiveFail = 5
	}
}

func (c *CacheConfig) applyDefaults() {
	if c.ExactTTLSec <= 0 {
		c.ExactTTLSec = int((30 * time.Minute).Seconds())
	}
	if c.SemanticTTLSec <= 0 {
		c.SemanticTTLSec = int((30 * time.Minute).Seconds())
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.85
	}
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = 50
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 10
	}
	if c.EmbeddingTTLSec <= 0 {
		c.EmbeddingTTLSec = int((24 * time.Hour).Seconds())
	}
	if c.WriteWorkers <= 0 {
		c.WriteWorkers = 16
	}
	if c.WriteTimeoutSec <= 0 {
		c.WriteTimeoutSec = 10
	}
}

func (s *ScoringConfig) applyDefaults() {
	if s.RelevanceWeight <= 0 && s.ReliabilityWeight <= 0 && s.SignalsWeight <= 0 {
		s.RelevanceWeight = 0.55
		s.ReliabilityWeight = 0.25
		s.SignalsWeight = 0.20
	}
	if s.PrimarySize <= 0 {
		s.PrimarySize = 5
	}
	if s.NearbySize <= 0 {
		s.NearbySize = 10
	}
	if len(s.SourcePriority) == 0 {
		s.SourcePriority = []string{"web-search", "social", "events"}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be redis, valkey or memory, got %q", c.Database.Driver)
	}
	if t := c.Cache.SimilarityThreshold; t > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in (0,1], got %g", t)
	}
	if c.Scoring.RelevanceWeight < 0 || c.Scoring.ReliabilityWeight < 0 || c.Scoring.SignalsWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	seen := make(map[string]bool, len(c.Scoring.SourcePriority))
	for _, s := range c.Scoring.SourcePriority {
		switch s {
		case "web-search", "social", "events":
		default:
			return fmt.Errorf("scoring.source_priority: unknown source %q", s)
		}
		if seen[s] {
			return fmt.Errorf("scoring.source_priority: duplicate source %q", s)
		}
		seen[s] = true
	}
	return nil
}

// Seconds converts a config integer of seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// resolvePath picks the first existing candidate: the UNDERFOOT_CONFIG
// override, config/ under the working directory, then config/ under the
// module root for binaries started from elsewhere in the tree.
func resolvePath(env string) (string, error) {
	if p := os.Getenv(pathEnvVar); p != "" {
		return p, nil
	}
	name := env + ".yaml"
	candidates := []string{filepath.Join("config", name)}
	if _, file, _, ok := runtime.Caller(0); ok {
		root := filepath.Join(filepath.Dir(file), "..", "..")
		candidates = append(candidates, filepath.Join(root, "config", name))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config for env %q (tried %s)", env, strings.Join(candidates, ", "))
}

// lookupEnv resolves one os.Expand reference. "$$" yields a literal "$".
func lookupEnv(ref string) string {
	if ref == "$" {
		return "$"
	}
	name, fallback, hasFallback := strings.Cut(ref, ":-")
	if v := os.Getenv(name); v != "" || !hasFallback {
		return v
	}
	return fallback
}
