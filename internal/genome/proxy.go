package genome

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/shivazshu/evo2-vep/internal/cache"
	"github.com/shivazshu/evo2-vep/internal/upstream"
)

// ProxyResult carries one pass-through upstream response. JSON payloads stay
// raw so the caller can re-emit them byte for byte; anything else lands in
// Text.
type ProxyResult struct {
	JSON json.RawMessage `json:"json,omitempty"`
	Text string          `json:"text,omitempty"`
}

// Proxy forwards an arbitrary gene-registry URL through the gateway's cache
// and queue. Only the hosts the gateway is configured against are reachable;
// anything else fails before the network.
func (g *NCBI) Proxy(ctx context.Context, endpoint string) (ProxyResult, error) {
	allowed := hostAllowlist(g.baseURL, g.searchBaseURL)
	return proxyFetch(ctx, g.pipe, g.client, "ncbi_proxy", g.ttls.TTLFor("ncbi_proxy"), endpoint, allowed)
}

// Proxy forwards an arbitrary genome-registry URL through the gateway's cache
// and queue, with the same host restriction as the NCBI variant.
func (g *UCSC) Proxy(ctx context.Context, endpoint string) (ProxyResult, error) {
	allowed := hostAllowlist(g.baseURL)
	return proxyFetch(ctx, g.pipe, g.client, "ucsc_proxy", g.ttls.TTLFor("ucsc_proxy"), endpoint, allowed)
}

func proxyFetch(ctx context.Context, p *pipeline, client *resty.Client, category string, ttl time.Duration, endpoint string, allowed []string) (ProxyResult, error) {
	target, err := url.Parse(endpoint)
	if err != nil || target.Hostname() == "" {
		return ProxyResult{}, upstream.FatalError(p.service, fmt.Errorf("invalid proxy endpoint: %s", endpoint))
	}
	if !slices.Contains(allowed, target.Hostname()) {
		return ProxyResult{}, upstream.FatalError(p.service, fmt.Errorf("host not allowed: %s", target.Hostname()))
	}

	key := cache.Key(category, endpoint)
	tag := upstream.Tag{Category: category}
	return fetch(ctx, p, key, ttl, tag,
		func(ctx context.Context) (ProxyResult, error) {
			res, err := client.R().
				SetContext(ctx).
				SetHeader("Accept", "application/json").
				Get(endpoint)
			if err != nil {
				return ProxyResult{}, upstream.NetworkError(p.service, err)
			}
			if !res.IsSuccess() {
				return ProxyResult{}, upstream.StatusError(p.service, res.StatusCode(), res.Header(), res.String())
			}
			if strings.Contains(res.Header().Get("Content-Type"), "application/json") {
				return ProxyResult{JSON: json.RawMessage(res.Bytes())}, nil
			}
			return ProxyResult{Text: res.String()}, nil
		},
		nil)
}

// hostAllowlist collects the hostnames of the gateway's configured base URLs.
// With the default configuration this is exactly the production registry
// hosts, so the proxy cannot be pointed anywhere else.
func hostAllowlist(baseURLs ...string) []string {
	hosts := make([]string, 0, len(baseURLs))
	for _, raw := range baseURLs {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hosts
}
