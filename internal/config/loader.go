package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.cache.ttl.genesearch":   "server.cache.ttl.geneSearch",
			"server.cache.ttl.genedetails":  "server.cache.ttl.geneDetails",
			"server.cache.ttl.ncbiproxy":    "server.cache.ttl.ncbiProxy",
			"server.cache.ttl.ucscproxy":    "server.cache.ttl.ucscProxy",
			"server.cache.redis.tls.cafile": "server.cache.redis.tls.caFile",
			"upstreams.ucsc.baseurl":        "upstreams.ucsc.baseUrl",
			"upstreams.ucsc.minintervalms":  "upstreams.ucsc.minIntervalMs",
			"upstreams.ucsc.attempttimeout": "upstreams.ucsc.attemptTimeout",
			"upstreams.ncbi.baseurl":        "upstreams.ncbi.baseUrl",
			"upstreams.ncbi.searchbaseurl":  "upstreams.ncbi.searchBaseUrl",
			"upstreams.ncbi.minintervalms":  "upstreams.ncbi.minIntervalMs",
			"upstreams.ncbi.attempttimeout": "upstreams.ncbi.attemptTimeout",
			"inference.attempttimeout":      "inference.attemptTimeout",
			"retry.maxattempts":             "retry.maxAttempts",
			"retry.basedelay":               "retry.baseDelay",
			"retry.maxjitter":               "retry.maxJitter",
			"retry.ratelimitedbase":         "retry.rateLimitedBase",
			"retry.ratelimitedfactor":       "retry.rateLimitedFactor",
			"retry.ratelimitedjitter":       "retry.rateLimitedJitter",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into listenport when callers
			// choose not to use double underscores for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"cache": map[string]any{
				"backend": cfg.Server.Cache.Backend,
				"ttl": map[string]any{
					"genomes":     cfg.Server.Cache.TTL.Genomes,
					"chromosomes": cfg.Server.Cache.TTL.Chromosomes,
					"geneSearch":  cfg.Server.Cache.TTL.GeneSearch,
					"geneDetails": cfg.Server.Cache.TTL.GeneDetails,
					"sequence":    cfg.Server.Cache.TTL.Sequence,
					"clinvar":     cfg.Server.Cache.TTL.ClinVar,
					"ncbiProxy":   cfg.Server.Cache.TTL.NCBIProxy,
					"ucscProxy":   cfg.Server.Cache.TTL.UCSCProxy,
				},
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
		},
		"upstreams": map[string]any{
			"ucsc": map[string]any{
				"baseUrl":        cfg.Upstreams.UCSC.BaseURL,
				"minIntervalMs":  cfg.Upstreams.UCSC.MinIntervalMS,
				"attemptTimeout": cfg.Upstreams.UCSC.AttemptTimeout,
			},
			"ncbi": map[string]any{
				"baseUrl":        cfg.Upstreams.NCBI.BaseURL,
				"searchBaseUrl":  cfg.Upstreams.NCBI.SearchBaseURL,
				"minIntervalMs":  cfg.Upstreams.NCBI.MinIntervalMS,
				"attemptTimeout": cfg.Upstreams.NCBI.AttemptTimeout,
			},
		},
		"inference": map[string]any{
			"endpoint":       cfg.Inference.Endpoint,
			"attemptTimeout": cfg.Inference.AttemptTimeout,
		},
		"retry": map[string]any{
			"maxAttempts":       cfg.Retry.MaxAttempts,
			"baseDelay":         cfg.Retry.BaseDelay,
			"multiplier":        cfg.Retry.Multiplier,
			"maxJitter":         cfg.Retry.MaxJitter,
			"rateLimitedBase":   cfg.Retry.RateLimitedBase,
			"rateLimitedFactor": cfg.Retry.RateLimitedFactor,
			"rateLimitedJitter": cfg.Retry.RateLimitedJitter,
		},
	}
}
