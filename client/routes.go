// Package client holds the page-side offline hooks: mirroring fetched
// domain data into the snapshot store, bulk pre-fetching playlists through
// the control channel, and watching network status.
package client

import (
	"fmt"
	"net/url"
	"strings"
)

// Routes builds the app URLs the pre-fetch hook dispatches to the worker.
// They mirror the route tables the classifier is configured with.
type Routes struct {
	// Origin is the app origin, eg. "https://audiomark.app".
	Origin string
}

// NewRoutes normalizes the origin and returns a route builder.
func NewRoutes(origin string) Routes {
	return Routes{Origin: strings.TrimSuffix(origin, "/")}
}

// AudioListenPage is the listen navigation for one audio.
func (r Routes) AudioListenPage(audioID string) string {
	return fmt.Sprintf("%s/audios/%s/listen", r.Origin, audioID)
}

// PlaylistListenPage is the listen navigation for a playlist.
func (r Routes) PlaylistListenPage(playlistID string) string {
	return fmt.Sprintf("%s/playlists/%s/listen", r.Origin, playlistID)
}

// AudioFile is the audio-file API route for one audio.
func (r Routes) AudioFile(audioID string) string {
	return fmt.Sprintf("%s/api/audio/%s/file", r.Origin, audioID)
}

// MarkersQuery is the query-API call loading an audio's markers, with the
// arguments encoded in the query string so the response can be pre-fetched
// with a plain GET.
func (r Routes) MarkersQuery(audioID string) string {
	input := url.QueryEscape(fmt.Sprintf(`{"audioId":%q}`, audioID))
	return fmt.Sprintf("%s/api/trpc/marker.getMarkers?input=%s", r.Origin, input)
}
