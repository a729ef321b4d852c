package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"time"
)

// MsgType tags a control channel message.
type MsgType string

const (
	// Page to worker.
	MsgSkipWaiting      = MsgType("SKIP_WAITING")
	MsgClearCache       = MsgType("CLEAR_CACHE")
	MsgCacheForOffline  = MsgType("CACHE_FOR_OFFLINE")
	MsgGetCachedContent = MsgType("GET_CACHED_CONTENT")

	// Worker to page.
	MsgCacheComplete     = MsgType("CACHE_COMPLETE")
	MsgCachedContentList = MsgType("CACHED_CONTENT_LIST")
)

// Message is one control channel frame, page to worker or worker to page.
type Message struct {
	Type     MsgType  `json:"type"`
	PageURL  string   `json:"pageUrl,omitempty"`
	AudioURL string   `json:"audioUrl,omitempty"`
	TRPCURLs []string `json:"trpcUrls,omitempty"`

	Data *CachedContent `json:"data,omitempty"`
}

// CachedContent is the payload of a CACHED_CONTENT_LIST reply.
type CachedContent struct {
	ListenPages []string `json:"listenPages"`
	AudioFiles  []string `json:"audioFiles"`
}

// ErrUnknownMessage is returned for message types outside the protocol.
var ErrUnknownMessage = errors.New("unknown control message type")

type command struct {
	msg   Message
	reply chan Message
}

// Controller is the worker side of the control channel. Commands are
// processed one at a time by Run, matching the single-threaded event loop
// the rest of the layer assumes; replies that target only the requester go
// back on a per-command channel, completion notices are broadcast to every
// subscriber so any open tab can refresh its offline indicators.
type Controller struct {
	registry  *Registry
	lifecycle *Lifecycle
	network   http.RoundTripper
	logger    *slog.Logger

	commands chan command

	mu      sync.Mutex
	subs    map[int]chan Message
	nextSub int
}

// NewController builds the worker-side command handler. A nil logger
// discards output.
func NewController(registry *Registry, lifecycle *Lifecycle, network http.RoundTripper, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		registry:  registry,
		lifecycle: lifecycle,
		network:   network,
		logger:    logger,
		commands:  make(chan command, 16),
		subs:      make(map[int]chan Message),
	}
}

// Subscribe registers a tab for broadcast messages. The returned cancel
// function drops the subscription; the channel is buffered and slow
// consumers lose messages rather than stalling the worker.
func (c *Controller) Subscribe() (<-chan Message, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Message, 8)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Send enqueues a fire-and-forget command.
func (c *Controller) Send(ctx context.Context, msg Message) error {
	select {
	case c.commands <- command{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request enqueues a command and waits for its direct reply.
func (c *Controller) Request(ctx context.Context, msg Message) (Message, error) {
	reply := make(chan Message, 1)
	select {
	case c.commands <- command{msg: msg, reply: reply}:
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	select {
	case m := <-reply:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Run processes commands until the context is cancelled. Commands execute
// sequentially; a long pre-fetch job delays later commands rather than
// racing them.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			if err := c.handle(ctx, cmd); err != nil {
				c.logger.WarnContext(ctx, "control command failed",
					"type", string(cmd.msg.Type), "error", err)
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) error {
	switch cmd.msg.Type {
	case MsgSkipWaiting:
		return c.lifecycle.SkipWaiting(ctx)
	case MsgClearCache:
		return c.clearCache(ctx)
	case MsgCacheForOffline:
		return c.cacheForOffline(ctx, cmd.msg)
	case MsgGetCachedContent:
		return c.cachedContent(ctx, cmd.reply)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, cmd.msg.Type)
	}
}

// clearCache deletes every namespace regardless of version. Full reset,
// used for troubleshooting.
func (c *Controller) clearCache(ctx context.Context) error {
	names, err := c.registry.Names(ctx)
	if err != nil {
		return fmt.Errorf("enumerating namespaces: %w", err)
	}
	for _, name := range names {
		if err := c.registry.Drop(ctx, name); err != nil {
			return fmt.Errorf("dropping namespace %s: %w", name, err)
		}
	}
	c.logger.InfoContext(ctx, "all caches cleared", "count", len(names))
	return nil
}

// cacheForOffline pre-fetches one listen page, its audio file and any query
// responses into the matching namespaces. Page and audio are fetched in
// parallel; query URLs run in a loop with per-item error isolation, so one
// failing fetch never aborts the others. Completion is always broadcast,
// partial failures included, and every tab gets it.
func (c *Controller) cacheForOffline(ctx context.Context, msg Message) error {
	var wg sync.WaitGroup

	if msg.PageURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.fetchAndStore(ctx, msg.PageURL, ScopeDynamic); err != nil {
				c.logger.WarnContext(ctx, "pre-fetching page failed",
					"url", msg.PageURL, "error", err)
			}
		}()
	}

	if msg.AudioURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.fetchAndStore(ctx, msg.AudioURL, ScopeAudio); err != nil {
				c.logger.WarnContext(ctx, "pre-fetching audio failed",
					"url", msg.AudioURL, "error", err)
			}
		}()
	}

	wg.Wait()

	for _, u := range msg.TRPCURLs {
		if err := c.fetchAndStore(ctx, u, ScopeQuery); err != nil {
			c.logger.WarnContext(ctx, "pre-fetching query failed", "url", u, "error", err)
		}
	}

	c.broadcast(Message{
		Type:     MsgCacheComplete,
		PageURL:  msg.PageURL,
		AudioURL: msg.AudioURL,
	})
	return nil
}

// cachedContent replies directly to the requesting tab with the URLs
// currently held in the dynamic-pages and audio namespaces.
func (c *Controller) cachedContent(ctx context.Context, reply chan Message) error {
	listenPages, err := c.namespaceURLs(ctx, ScopeDynamic)
	if err != nil {
		return err
	}
	audioFiles, err := c.namespaceURLs(ctx, ScopeAudio)
	if err != nil {
		return err
	}

	msg := Message{
		Type: MsgCachedContentList,
		Data: &CachedContent{ListenPages: listenPages, AudioFiles: audioFiles},
	}
	if reply != nil {
		reply <- msg
	}
	return nil
}

func (c *Controller) namespaceURLs(ctx context.Context, scope Scope) ([]string, error) {
	store, err := c.registry.Open(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("opening %s namespace: %w", scope, err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s namespace: %w", scope, err)
	}

	urls := make([]string, 0, len(keys))
	for _, k := range keys {
		// Keys are METHOD#URL; content-keyed entries carry a further
		// #body segment, which never occurs in these two namespaces.
		if _, url, ok := strings.Cut(k, "#"); ok {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

// fetchAndStore performs one network GET and persists a 200 response under
// its canonical key in the given scope.
func (c *Controller) fetchAndStore(ctx context.Context, url string, scope Scope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.network.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}

	store, err := c.registry.Open(ctx, scope)
	if err != nil {
		return fmt.Errorf("opening %s namespace: %w", scope, err)
	}
	if err := store.Set(ctx, http.MethodGet+"#"+url, &Item{Response: raw, StoredAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("storing: %w", err)
	}
	return nil
}

func (c *Controller) broadcast(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			c.logger.Warn("dropping broadcast for slow subscriber", "subscriber", id)
		}
	}
}
