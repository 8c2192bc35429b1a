// Package ginsource provides an EventSource fed by browser signals posted to
// a gin route.
//
// A page-side shim forwards window error events and console.error calls as
// JSON to POST /v1/signals:
//
//	{"signals": [
//	  {"type": "runtime", "message": "a is undefined", "source": "https://x/app.js",
//	   "lineno": 12, "colno": 4, "error": {"name": "TypeError", "stack": "..."}},
//	  {"type": "resource", "tagName": "IMG", "url": "https://x/y.png", "baseURI": "https://x/"},
//	  {"type": "console", "arg": {"code": 42}}
//	]}
//
// Each signal is handed to the matching pipeline entry point in order.
package ginsource

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/strongdm/jstrack/pkg/jstrack"
)

// SignalsPath is the route Register mounts.
const SignalsPath = "/v1/signals"

// DefaultMaxBodyBytes caps a request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// ErrAlreadySubscribed is returned when a second pipeline subscribes to the
// same Source.
var ErrAlreadySubscribed = errors.New("ginsource: already subscribed")

// Signal types accepted in the request body.
const (
	TypeRuntime  = "runtime"
	TypeResource = "resource"
	TypeConsole  = "console"
)

// Signal is one browser signal as posted by the page.
type Signal struct {
	Type string `json:"type"`

	// runtime
	Message string               `json:"message,omitempty"`
	Source  string               `json:"source,omitempty"`
	Lineno  int                  `json:"lineno,omitempty"`
	Colno   int                  `json:"colno,omitempty"`
	Error   *jstrack.ScriptError `json:"error,omitempty"`

	// resource
	TagName      string `json:"tagName,omitempty"`
	URL          string `json:"url,omitempty"`
	BaseURI      string `json:"baseURI,omitempty"`
	WindowTarget bool   `json:"windowTarget,omitempty"`

	// console
	Arg any `json:"arg,omitempty"`
}

// SignalsRequest is the body of POST /v1/signals.
type SignalsRequest struct {
	Signals []Signal `json:"signals"`
}

// Option configures a Source.
type Option func(*Source)

// WithMaxBodyBytes caps the request body size (default: 1 MiB).
func WithMaxBodyBytes(n int64) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets the logger for rejected requests.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// Source implements jstrack.EventSource over HTTP.
type Source struct {
	mu       sync.RWMutex
	handlers *jstrack.Handlers

	maxBody int64
	logger  zerolog.Logger
}

var _ jstrack.EventSource = (*Source)(nil)

// New creates an unsubscribed Source.
func New(opts ...Option) *Source {
	s := &Source{
		maxBody: DefaultMaxBodyBytes,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe implements jstrack.EventSource.
func (s *Source) Subscribe(h jstrack.Handlers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers != nil {
		return ErrAlreadySubscribed
	}
	s.handlers = &h
	return nil
}

// Register mounts the signals route on r.
func (s *Source) Register(r gin.IRoutes) {
	r.POST(SignalsPath, s.handleSignals)
}

func (s *Source) handleSignals(c *gin.Context) {
	s.mu.RLock()
	h := s.handlers
	s.mu.RUnlock()
	if h == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline not subscribed"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)

	var req SignalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Debug().Err(err).Int("status", status).Msg("ginsource: rejected signals request")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	accepted := 0
	for _, sig := range req.Signals {
		if dispatch(h, sig) {
			accepted++
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// dispatch hands sig to the matching entry point. Unknown types are skipped.
func dispatch(h *jstrack.Handlers, sig Signal) bool {
	switch sig.Type {
	case TypeRuntime:
		if h.RuntimeError == nil {
			return false
		}
		rs := jstrack.RuntimeSignal{
			Message: sig.Message,
			Source:  sig.Source,
			Line:    sig.Lineno,
			Column:  sig.Colno,
		}
		if sig.Error != nil {
			rs.Err = sig.Error
		}
		h.RuntimeError(rs)
	case TypeResource:
		if h.ResourceError == nil {
			return false
		}
		h.ResourceError(jstrack.ResourceSignal{
			TagName:      sig.TagName,
			URL:          sig.URL,
			BaseURL:      sig.BaseURI,
			WindowTarget: sig.WindowTarget,
		})
	case TypeConsole:
		if h.ConsoleError == nil {
			return false
		}
		h.ConsoleError(sig.Arg)
	default:
		return false
	}
	return true
}
