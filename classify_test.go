package offlinecache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	tests := []struct {
		name       string
		method     string
		url        string
		accept     string
		body       string
		strategy   Strategy
		scope      Scope
		navigation bool
	}{
		{
			name:     "audio listen page",
			method:   http.MethodGet,
			url:      "https://example.com/audios/abc123/listen",
			strategy: StrategySWR,
			scope:    ScopeDynamic,
		},
		{
			name:     "playlist listen page",
			method:   http.MethodGet,
			url:      "https://example.com/playlists/p1/listen",
			strategy: StrategySWR,
			scope:    ScopeDynamic,
		},
		{
			name:     "allow-listed query POST",
			method:   http.MethodPost,
			url:      "https://example.com/api/trpc/marker.getMarkers",
			body:     `{"audioId":"x"}`,
			strategy: StrategySWRContentKeyed,
			scope:    ScopeQuery,
		},
		{
			name:     "allow-listed query GET",
			method:   http.MethodGet,
			url:      "https://example.com/api/trpc/audio.getById?input=%7B%22id%22%3A%22x%22%7D",
			strategy: StrategySWRContentKeyed,
			scope:    ScopeQuery,
		},
		{
			name:     "mutation POST passes through",
			method:   http.MethodPost,
			url:      "https://example.com/api/trpc/marker.createMarker",
			body:     `{"audioId":"x"}`,
			strategy: StrategyPassThrough,
		},
		{
			name:     "DELETE passes through",
			method:   http.MethodDelete,
			url:      "https://example.com/api/audio/abc123",
			strategy: StrategyPassThrough,
		},
		{
			name:     "audio file API route",
			method:   http.MethodGet,
			url:      "https://example.com/api/audio/abc123/file",
			strategy: StrategyCacheFirst,
			scope:    ScopeAudio,
		},
		{
			name:     "audio file extension",
			method:   http.MethodGet,
			url:      "https://example.com/uploads/track.mp3",
			strategy: StrategyCacheFirst,
			scope:    ScopeAudio,
		},
		{
			name:     "audio accept header",
			method:   http.MethodGet,
			url:      "https://example.com/stream/abc123",
			accept:   "audio/mpeg",
			strategy: StrategyCacheFirst,
			scope:    ScopeAudio,
		},
		{
			name:     "static asset",
			method:   http.MethodGet,
			url:      "https://example.com/assets/app.css",
			strategy: StrategyCacheFirst,
			scope:    ScopeStatic,
		},
		{
			name:     "font file",
			method:   http.MethodGet,
			url:      "https://example.com/fonts/inter.woff2",
			strategy: StrategyCacheFirst,
			scope:    ScopeStatic,
		},
		{
			name:     "generic API GET",
			method:   http.MethodGet,
			url:      "https://example.com/api/playlists",
			strategy: StrategyNetworkFirst,
			scope:    ScopeGeneric,
		},
		{
			name:     "non-allow-listed query GET is not generic API",
			method:   http.MethodGet,
			url:      "https://example.com/api/trpc/user.me",
			strategy: StrategyNetworkFirst,
			scope:    ScopeGeneric,
		},
		{
			name:       "page navigation",
			method:     http.MethodGet,
			url:        "https://example.com/playlists",
			accept:     "text/html,application/xhtml+xml",
			strategy:   StrategyNetworkFirst,
			scope:      ScopeGeneric,
			navigation: true,
		},
		{
			name:     "non-http scheme passes through",
			method:   http.MethodGet,
			url:      "chrome-extension://abcdef/script.js",
			strategy: StrategyPassThrough,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var body *strings.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			} else {
				body = strings.NewReader("")
			}
			r := httptest.NewRequest(tt.method, tt.url, body)
			if tt.accept != "" {
				r.Header.Set("Accept", tt.accept)
			}

			d := Classify(cfg, r)
			if d.Strategy != tt.strategy {
				t.Errorf("expected strategy %v, got %v", tt.strategy, d.Strategy)
			}
			if tt.strategy != StrategyPassThrough && d.Scope != tt.scope {
				t.Errorf("expected scope %q, got %q", tt.scope, d.Scope)
			}
			if d.Navigation != tt.navigation {
				t.Errorf("expected navigation %v, got %v", tt.navigation, d.Navigation)
			}
		})
	}
}

func TestClassifyOrderListenPageBeforeStatic(t *testing.T) {
	t.Parallel()

	// A listen path never carries an extension, but the predicate order
	// still matters for query POSTs versus the non-GET pass-through rule.
	cfg := DefaultConfig()
	r := httptest.NewRequest(http.MethodPost,
		"https://example.com/api/trpc/playlist.getById", strings.NewReader(`{"id":"p1"}`))

	if d := Classify(cfg, r); d.Strategy != StrategySWRContentKeyed {
		t.Fatalf("expected cacheable POST to classify before the non-GET rule, got %v", d.Strategy)
	}
}
