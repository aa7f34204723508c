// Package adapter exposes the clacks service over HTTP.
//
// It turns a finished [clacks.Request] into an HTTP status and plain-text
// body, and serves the request, display log and WebSocket monitor routes
// on a gin router.
package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arloliu/go-clacks/clacks"
	"github.com/arloliu/go-clacks/logger"
	"github.com/arloliu/go-clacks/monitor"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response texts.
const (
	TextOK       = "ok"
	TextTimedOut = "query timed out!"
	TextNoBoard  = "No board listens!"
)

// DefaultMaxTimeout caps the timeout a client may ask for.
const DefaultMaxTimeout = time.Minute

// Outcome is the HTTP reply for one request.
type Outcome struct {
	Status int
	Body   string
}

// Resolve maps a request to its reply. A request that is still waiting is
// reported as timed out.
func Resolve(req *clacks.Request) Outcome {
	switch req.State() {
	case clacks.StateDone:
		return Outcome{Status: http.StatusOK, Body: TextOK}

	case clacks.StateResponseReady:
		resp, _ := req.Response()
		return Outcome{Status: http.StatusOK, Body: resp}

	default:
		return Outcome{Status: http.StatusBadRequest, Body: TextTimedOut}
	}
}

// ResolveError maps a submission error to its reply.
func ResolveError(err error) Outcome {
	switch {
	case errors.Is(err, clacks.ErrNoDevice), errors.Is(err, clacks.ErrServiceClosed):
		return Outcome{Status: http.StatusBadRequest, Body: TextNoBoard}

	case errors.Is(err, clacks.ErrInvalidTimeout), errors.Is(err, clacks.ErrInvalidMessage):
		return Outcome{Status: http.StatusBadRequest, Body: err.Error()}

	case errors.Is(err, clacks.ErrDuplicateID):
		return Outcome{Status: http.StatusConflict, Body: err.Error()}

	default:
		return Outcome{Status: http.StatusInternalServerError, Body: err.Error()}
	}
}

// ServiceProvider returns the current service, or nil when none is running.
type ServiceProvider func() *clacks.Service

// StaticService returns a provider that always returns svc.
func StaticService(svc *clacks.Service) ServiceProvider {
	return func() *clacks.Service { return svc }
}

type serialQuery struct {
	Msg     string `form:"msg" binding:"required"`
	Timeout int64  `form:"timeout" binding:"min=0"` // milliseconds
}

// Handler serves client requests for the device.
type Handler struct {
	provider   ServiceProvider
	logger     logger.Logger
	maxTimeout time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxTimeout caps the timeout accepted from clients.
func WithMaxTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.maxTimeout = d
		}
	}
}

// NewHandler creates a Handler resolving the service through p.
func NewHandler(p ServiceProvider, l logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		provider:   p,
		logger:     l,
		maxTimeout: DefaultMaxTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts the request route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/serial", h.Serial)
}

// Serial handles GET /serial?msg=<message>&timeout=<ms>.
//
// With timeout 0 (the default) the message is sent and "ok" is returned at
// once. Otherwise the handler waits for the device reply, up to timeout.
func (h *Handler) Serial(c *gin.Context) {
	var q serialQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.String(http.StatusBadRequest, "invalid query: %v", err)
		return
	}

	timeout := time.Duration(q.Timeout) * time.Millisecond
	if timeout > h.maxTimeout {
		c.String(http.StatusBadRequest, "invalid query: timeout exceeds %d ms", h.maxTimeout.Milliseconds())
		return
	}

	var svc *clacks.Service
	if h.provider != nil {
		svc = h.provider()
	}
	if svc == nil {
		c.String(http.StatusBadRequest, "%s", TextNoBoard)
		return
	}

	caller := uuid.NewString()

	req, err := svc.ProcessRequest(q.Msg, caller, timeout)
	if err != nil {
		out := ResolveError(err)
		h.logger.Info("adapter: request refused", "caller", caller, "error", err)
		c.String(out.Status, "%s", out.Body)

		return
	}
	defer svc.Release(req)

	if _, err := req.Wait(c.Request.Context()); err != nil {
		h.logger.Info("adapter: client gone", "caller", caller, "id", req.FullID(), "error", err)
		c.Abort()

		return
	}

	out := Resolve(req)
	h.logger.Debug("adapter: request finished",
		"caller", caller, "id", req.FullID(), "state", req.State().String(), "status", out.Status)

	c.String(out.Status, "%s", out.Body)
}

// RegisterMonitor mounts the monitor routes on r: the WebSocket feed at
// /monitor and the display log text at /monitor/log. Either may be nil.
func RegisterMonitor(r gin.IRouter, feed *monitor.Feed, display *monitor.DisplayLog) {
	if feed != nil {
		r.GET("/monitor", gin.WrapH(feed))
	}
	if display != nil {
		r.GET("/monitor/log", func(c *gin.Context) {
			c.String(http.StatusOK, "%s", display.Text())
		})
	}
}

// NewRouter builds a gin engine with the request and monitor routes.
func NewRouter(h *Handler, feed *monitor.Feed, display *monitor.DisplayLog) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	h.Register(r)
	RegisterMonitor(r, feed, display)

	return r
}

func requestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l.Debug("adapter: http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", fmt.Sprint(time.Since(start)),
		)
	}
}
