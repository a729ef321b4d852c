package offlinecache

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is the cache/network interaction policy applied to a request.
type Strategy int

const (
	// StrategyPassThrough requests go straight to the network, untouched.
	StrategyPassThrough Strategy = iota
	// StrategyCacheFirst serves from cache, fetching only on a miss.
	StrategyCacheFirst
	// StrategyNetworkFirst tries the network, falling back to cache.
	StrategyNetworkFirst
	// StrategySWR returns cached content immediately while refreshing the
	// cache in the background.
	StrategySWR
	// StrategySWRContentKeyed is SWR with the request body folded into the
	// cache key, for query endpoints that multiplex over one URL.
	StrategySWRContentKeyed
)

func (s Strategy) String() string {
	switch s {
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategySWR:
		return "stale-while-revalidate"
	case StrategySWRContentKeyed:
		return "content-keyed-swr"
	default:
		return "pass-through"
	}
}

// Decision is the classifier's verdict for one request.
type Decision struct {
	Strategy Strategy
	Scope    Scope

	// Navigation marks page navigations, which fall back to the pre-cached
	// offline page instead of a synthesized 503.
	Navigation bool
}

// Classify maps a request to exactly one handling strategy. Predicates are
// checked in order and the first match wins; some of them overlap, so the
// order is load-bearing.
func Classify(cfg Config, r *http.Request) Decision {
	// Browser-extension and data URLs are never intercepted.
	if r.URL == nil || (r.URL.Scheme != "http" && r.URL.Scheme != "https") {
		return Decision{Strategy: StrategyPassThrough}
	}

	urlPath := r.URL.Path

	if r.Method == http.MethodGet && cfg.ListenPagePattern.MatchString(urlPath) {
		return Decision{Strategy: StrategySWR, Scope: ScopeDynamic}
	}

	// The query API multiplexes every read over one mount point; the
	// procedure name lives in the path, so the allow-list is checked there.
	// Both GETs and POSTs land here so that pre-fetched query responses are
	// found again regardless of how the page issues the call.
	if strings.HasPrefix(urlPath, cfg.QueryAPIPrefix) &&
		(r.Method == http.MethodGet || r.Method == http.MethodPost) &&
		cfg.CacheableQueries.MatchString(urlPath) {
		return Decision{Strategy: StrategySWRContentKeyed, Scope: ScopeQuery}
	}

	if r.Method != http.MethodGet {
		return Decision{Strategy: StrategyPassThrough}
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(urlPath), "."))

	if cfg.AudioFilePattern.MatchString(urlPath) ||
		cfg.AudioExtensions[ext] ||
		strings.Contains(r.Header.Get("Accept"), "audio/") {
		return Decision{Strategy: StrategyCacheFirst, Scope: ScopeAudio}
	}

	if cfg.StaticExtensions[ext] {
		return Decision{Strategy: StrategyCacheFirst, Scope: ScopeStatic}
	}

	if strings.HasPrefix(urlPath, cfg.APIPrefix) &&
		!strings.HasPrefix(urlPath, cfg.QueryAPIPrefix) {
		return Decision{Strategy: StrategyNetworkFirst, Scope: ScopeGeneric}
	}

	return Decision{
		Strategy:   StrategyNetworkFirst,
		Scope:      ScopeGeneric,
		Navigation: isNavigation(r),
	}
}

func isNavigation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
