package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every option the mediation service reads at startup.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstreams UpstreamsConfig `koanf:"upstreams"`
	Inference InferenceConfig `koanf:"inference"`
	Retry     RetryConfig     `koanf:"retry"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig      `koanf:"listen"`
	Logging LoggingConfig     `koanf:"logging"`
	Cache   ServerCacheConfig `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServerCacheConfig struct {
	Backend string                 `koanf:"backend"`
	TTL     CacheTTLConfig         `koanf:"ttl"`
	Redis   ServerRedisCacheConfig `koanf:"redis"`
}

// CacheTTLConfig fixes the per-category freshness windows. Values are duration
// strings ("24h", "30m"). A category's TTL is never negotiated with the
// upstream; these are the only knobs.
type CacheTTLConfig struct {
	Genomes     string `koanf:"genomes"`
	Chromosomes string `koanf:"chromosomes"`
	GeneSearch  string `koanf:"geneSearch"`
	GeneDetails string `koanf:"geneDetails"`
	Sequence    string `koanf:"sequence"`
	ClinVar     string `koanf:"clinvar"`
	NCBIProxy   string `koanf:"ncbiProxy"`
	UCSCProxy   string `koanf:"ucscProxy"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamsConfig names the two rate-limited registries the service mediates.
type UpstreamsConfig struct {
	UCSC UpstreamConfig `koanf:"ucsc"`
	NCBI UpstreamConfig `koanf:"ncbi"`
}

// UpstreamConfig carries one upstream's base URL, its dispatch spacing, and the
// per-attempt timeout applied to every network call against it.
type UpstreamConfig struct {
	BaseURL        string `koanf:"baseUrl"`
	SearchBaseURL  string `koanf:"searchBaseUrl"`
	MinIntervalMS  int    `koanf:"minIntervalMs"`
	AttemptTimeout string `koanf:"attemptTimeout"`
}

// MinInterval returns the minimum spacing between two consecutive dispatches.
func (u UpstreamConfig) MinInterval() time.Duration {
	return time.Duration(u.MinIntervalMS) * time.Millisecond
}

// Timeout parses the per-attempt timeout, defaulting to 30s.
func (u UpstreamConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(u.AttemptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// InferenceConfig points at the variant-analysis backend. Inference calls are
// passed through directly, so only the endpoint and timeout are configurable.
type InferenceConfig struct {
	Endpoint       string `koanf:"endpoint"`
	AttemptTimeout string `koanf:"attemptTimeout"`
}

// Timeout parses the inference per-attempt timeout, defaulting to 30s.
func (i InferenceConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(i.AttemptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RetryConfig shapes the retry executor. The rate-limited schedule is kept
// separate from the generic one: a 429 means the shared quota is already spent,
// so the next attempt has to back off harder.
type RetryConfig struct {
	MaxAttempts       int     `koanf:"maxAttempts"`
	BaseDelay         string  `koanf:"baseDelay"`
	Multiplier        float64 `koanf:"multiplier"`
	MaxJitter         string  `koanf:"maxJitter"`
	RateLimitedBase   string  `koanf:"rateLimitedBase"`
	RateLimitedFactor float64 `koanf:"rateLimitedFactor"`
	RateLimitedJitter string  `koanf:"rateLimitedJitter"`
}

func parseDurationDefault(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// BaseDelayDuration returns the first-attempt delay of the generic schedule.
func (r RetryConfig) BaseDelayDuration() time.Duration {
	return parseDurationDefault(r.BaseDelay, time.Second)
}

// MaxJitterDuration bounds the random component added to generic delays.
func (r RetryConfig) MaxJitterDuration() time.Duration {
	return parseDurationDefault(r.MaxJitter, time.Second)
}

// RateLimitedBaseDuration returns the first-attempt delay after a 429.
func (r RetryConfig) RateLimitedBaseDuration() time.Duration {
	return parseDurationDefault(r.RateLimitedBase, 2*time.Second)
}

// RateLimitedJitterDuration bounds the random component after a 429.
func (r RetryConfig) RateLimitedJitterDuration() time.Duration {
	return parseDurationDefault(r.RateLimitedJitter, 3*time.Second)
}

// Validate rejects configurations the runtime cannot act on. Failing here is
// the only place a missing endpoint surfaces; nothing downstream retries a
// configuration error.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	for _, ttl := range []struct {
		name  string
		value string
	}{
		{"genomes", c.Server.Cache.TTL.Genomes},
		{"chromosomes", c.Server.Cache.TTL.Chromosomes},
		{"geneSearch", c.Server.Cache.TTL.GeneSearch},
		{"geneDetails", c.Server.Cache.TTL.GeneDetails},
		{"sequence", c.Server.Cache.TTL.Sequence},
		{"clinvar", c.Server.Cache.TTL.ClinVar},
	} {
		if ttl.value == "" {
			continue
		}
		if d, err := time.ParseDuration(ttl.value); err != nil || d <= 0 {
			return fmt.Errorf("config: server.cache.ttl.%s invalid: %s", ttl.name, ttl.value)
		}
	}
	if strings.TrimSpace(c.Upstreams.UCSC.BaseURL) == "" {
		return errors.New("config: upstreams.ucsc.baseUrl required")
	}
	if strings.TrimSpace(c.Upstreams.NCBI.BaseURL) == "" {
		return errors.New("config: upstreams.ncbi.baseUrl required")
	}
	if strings.TrimSpace(c.Upstreams.NCBI.SearchBaseURL) == "" {
		return errors.New("config: upstreams.ncbi.searchBaseUrl required")
	}
	if c.Upstreams.UCSC.MinIntervalMS < 0 || c.Upstreams.NCBI.MinIntervalMS < 0 {
		return errors.New("config: upstream minIntervalMs must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.maxAttempts invalid: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 || c.Retry.RateLimitedFactor < 1 {
		return errors.New("config: retry multipliers must be >= 1")
	}
	return nil
}

// TTLFor resolves the freshness window for a cache category, falling back to
// the documented defaults when the config leaves a category blank.
func (c CacheTTLConfig) TTLFor(category string) time.Duration {
	raw := ""
	var fallback time.Duration
	switch category {
	case "genomes":
		raw, fallback = c.Genomes, 24*time.Hour
	case "chromosomes":
		raw, fallback = c.Chromosomes, 24*time.Hour
	case "gene_search":
		raw, fallback = c.GeneSearch, time.Hour
	case "gene_details":
		raw, fallback = c.GeneDetails, 12*time.Hour
	case "sequence":
		raw, fallback = c.Sequence, 6*time.Hour
	case "clinvar":
		raw, fallback = c.ClinVar, 30*time.Minute
	case "ncbi_proxy":
		raw, fallback = c.NCBIProxy, 5*time.Minute
	case "ucsc_proxy":
		raw, fallback = c.UCSCProxy, time.Hour
	default:
		return time.Hour
	}
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultConfig returns the baseline values that align with the published
// freshness windows and the observed rate limits of both registries.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8000,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: ServerCacheConfig{
				Backend: "memory",
				TTL: CacheTTLConfig{
					Genomes:     "24h",
					Chromosomes: "24h",
					GeneSearch:  "1h",
					GeneDetails: "12h",
					Sequence:    "6h",
					ClinVar:     "30m",
					NCBIProxy:   "5m",
					UCSCProxy:   "1h",
				},
			},
		},
		Upstreams: UpstreamsConfig{
			UCSC: UpstreamConfig{
				BaseURL:        "https://api.genome.ucsc.edu",
				MinIntervalMS:  3000,
				AttemptTimeout: "30s",
			},
			NCBI: UpstreamConfig{
				BaseURL:        "https://eutils.ncbi.nlm.nih.gov",
				SearchBaseURL:  "https://clinicaltables.nlm.nih.gov",
				MinIntervalMS:  5000,
				AttemptTimeout: "30s",
			},
		},
		Inference: InferenceConfig{
			AttemptTimeout: "30s",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         "1s",
			Multiplier:        2,
			MaxJitter:         "1s",
			RateLimitedBase:   "2s",
			RateLimitedFactor: 3,
			RateLimitedJitter: "3s",
		},
	}
}
