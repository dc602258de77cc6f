package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/snippet-share/internal/authstate"
	"github.com/sakif/snippet-share/internal/feed"
	"github.com/sakif/snippet-share/internal/model"
)

// liveReadLimit caps one websocket message from the client.
const liveReadLimit = 64 << 10

// FeedHandler serves the feed, both as a plain GET and as a live search
// over a websocket.
type FeedHandler struct {
	aggregator *feed.Aggregator
	states     *authstate.Manager
	debounce   time.Duration
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewFeedHandler creates a FeedHandler. debounce is the quiet period the
// live search waits for before filtering; zero uses feed.DefaultDebounce.
func NewFeedHandler(aggregator *feed.Aggregator, states *authstate.Manager, debounce time.Duration, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		aggregator: aggregator,
		states:     states,
		debounce:   debounce,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
		},
		logger: logger,
	}
}

// FeedResponse is one filtered view of a feed load. A non-empty section
// error means that part failed; the client can simply ask again.
type FeedResponse struct {
	Items         []feed.Item `json:"items"`
	Tags          []string    `json:"tags"`
	Languages     []string    `json:"languages"`
	SnippetsError string      `json:"snippetsError,omitempty"`
	TalliesError  string      `json:"talliesError,omitempty"`
	CommentsError string      `json:"commentsError,omitempty"`
}

func newFeedResponse(f *feed.Feed, c feed.Criteria) FeedResponse {
	return FeedResponse{
		Items:         f.Items(c),
		Tags:          feed.AllTags(f.Snippets),
		Languages:     model.Languages,
		SnippetsError: f.SnippetsError,
		TalliesError:  f.TalliesError,
		CommentsError: f.CommentsError,
	}
}

// HandleFeed loads and filters the feed.
//
// HTTP: GET /api/feed?q=text&language=go&tag=cli&tag=http
//
// Always 200: section failures are reported in the body, next to whatever
// did load.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	f := h.aggregator.Load(r.Context(), viewerName(r, h.states))
	writeJSON(w, http.StatusOK, newFeedResponse(f, criteriaFrom(r.URL.Query())))
}

func criteriaFrom(q url.Values) feed.Criteria {
	return feed.Criteria{
		Search:   q.Get("q"),
		Language: q.Get("language"),
		Tags:     q["tag"],
	}
}

// LiveRequest is a message from the live search client. Action "reload"
// fetches the feed again; anything else is a criteria change.
type LiveRequest struct {
	Action   string   `json:"action"`
	Search   string   `json:"q"`
	Language string   `json:"language"`
	Tags     []string `json:"tags"`
}

// LiveResponse wraps a FeedResponse with the criteria it was filtered by.
type LiveResponse struct {
	Action string `json:"action"`
	Search string `json:"q"`
	FeedResponse
}

// liveSession is one websocket connection. The debouncer sends from its own
// goroutine, so writes and the cached feed are guarded.
type liveSession struct {
	ws *websocket.Conn

	mu       sync.Mutex
	feed     *feed.Feed
	criteria feed.Criteria
}

func (s *liveSession) send(c feed.Criteria) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria = c
	return s.ws.WriteJSON(LiveResponse{
		Action:       "results",
		Search:       c.Search,
		FeedResponse: newFeedResponse(s.feed, c),
	})
}

func (s *liveSession) replace(f *feed.Feed) feed.Criteria {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = f
	return s.criteria
}

// HandleLive runs the live search.
//
// HTTP: GET /api/feed/live (websocket)
//
// The feed is loaded once on connect and sent unfiltered. After that every
// keystroke the client sends is debounced: only the last criteria of a
// burst is filtered and sent back. Filtering runs on the cached load, so
// typing never reaches the backend; "reload" does.
func (h *FeedHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	viewer := viewerName(r, h.states)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(liveReadLimit)

	// A hijacked connection's request context isn't cancelled when the
	// client goes away; the read loop ending is what stops us.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	live := &liveSession{ws: ws, feed: h.aggregator.Load(ctx, viewer)}
	if err := live.send(feed.Criteria{}); err != nil {
		return
	}

	d := feed.NewDebouncer(h.debounce, func(c feed.Criteria) {
		if err := live.send(c); err != nil {
			h.logger.Debug("live search write failed", slog.String("error", err.Error()))
		}
	})
	defer d.Stop()

	for {
		var req LiveRequest
		if err := ws.ReadJSON(&req); err != nil {
			h.logger.Debug("live search client disconnected", slog.String("error", err.Error()))
			return
		}

		if req.Action == "reload" {
			c := live.replace(h.aggregator.Load(ctx, viewer))
			if err := live.send(c); err != nil {
				return
			}
			continue
		}
		d.Push(feed.Criteria{Search: req.Search, Language: req.Language, Tags: req.Tags})
	}
}
