package offlinecache

import "regexp"

// Config is the immutable configuration the caching layer is constructed
// with: the cache version, the route tables that drive classification, and
// the asset manifest pre-cached at install time. The route tables are owned
// by the application's business layer; this package only consumes them.
type Config struct {
	// App is the namespace prefix shared by every cache partition,
	// eg. "audio-marker" in "audio-marker-audio-v2".
	App string

	// Version tags every namespace name. Bumping it marks all namespaces
	// carrying the old tag stale; they are deleted at the next activation.
	Version string

	// ListenPagePattern matches detail/listen page navigations served
	// stale-while-revalidate from the dynamic-pages namespace.
	ListenPagePattern *regexp.Regexp

	// AudioFilePattern matches the audio-file API route.
	AudioFilePattern *regexp.Regexp

	// QueryAPIPrefix is the RPC mount point for query-style calls.
	QueryAPIPrefix string

	// CacheableQueries allow-lists the read-only query names that are safe
	// to cache. Mutation-style operations must never match.
	CacheableQueries *regexp.Regexp

	// APIPrefix scopes generic API calls handled network-first.
	APIPrefix string

	// StaticExtensions and AudioExtensions classify GET requests by file
	// extension (without the leading dot).
	StaticExtensions map[string]bool
	AudioExtensions  map[string]bool

	// PrecacheManifest lists the paths fetched into the static namespace
	// during install. Install fails if any entry fails to fetch.
	PrecacheManifest []string

	// OfflinePagePath is the pre-cached HTML document served when a
	// navigation fails with no cached copy. It must appear in the manifest.
	OfflinePagePath string
}

// DefaultConfig returns the route tables and manifest of the audio-marker app.
func DefaultConfig() Config {
	return Config{
		App:               "audio-marker",
		Version:           "v1",
		ListenPagePattern: regexp.MustCompile(`^/(audios|playlists)/[^/]+/listen/?$`),
		AudioFilePattern:  regexp.MustCompile(`^/api/audio/[^/]+/file$`),
		QueryAPIPrefix:    "/api/trpc",
		CacheableQueries:  regexp.MustCompile(`marker\.getMarkers|audio\.getById|playlist\.getById`),
		APIPrefix:         "/api/",
		StaticExtensions: map[string]bool{
			"css": true, "js": true, "png": true, "jpg": true, "jpeg": true,
			"svg": true, "ico": true, "woff": true, "woff2": true, "ttf": true,
		},
		AudioExtensions: map[string]bool{
			"mp3": true, "wav": true, "ogg": true, "m4a": true,
			"aac": true, "flac": true, "webm": true,
		},
		PrecacheManifest: []string{
			"/",
			"/favicon.ico",
			"/logo.png",
			"/manifest.webmanifest",
			"/offline.html",
		},
		OfflinePagePath: "/offline.html",
	}
}
