package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxParallelDispatch bounds the events of one batch running at once.
const maxParallelDispatch = 32

// EventDispatcher runs inbound events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt entities.EngagementEvent) entities.DispatchResult
	DispatchCallback(ctx context.Context, evt entities.ButtonEvent) entities.DispatchResult
}

// UsageReporter is the part of the usage ledger exposed over HTTP.
type UsageReporter interface {
	Status(ctx context.Context, ownerID string) (*entities.UsageStatus, error)
	TrackAccount(ctx context.Context, ownerID, accountID string) error
	UntrackAccount(ctx context.Context, ownerID, accountID string) error
}

type HandlerDeps struct {
	Dispatcher      EventDispatcher
	Ledger          UsageReporter
	Accounts        interfaces.AccountStore
	Logs            interfaces.EventLogReader
	Middleware      *Middleware
	DispatchTimeout time.Duration
}

type Handler struct {
	HandlerDeps
	router *gin.Engine
	log    *zap.Logger
	now    func() time.Time

	// in-flight background dispatches
	inflight sync.WaitGroup
}

func NewHandler(deps HandlerDeps, log *zap.Logger) *Handler {
	h := &Handler{
		HandlerDeps: deps,
		router:      gin.New(),
		log:         log,
		now:         time.Now,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Wait blocks until background dispatches started by the intake endpoints
// have finished.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) registerRoutes() {
	m := h.Middleware

	h.router.Use(gin.Recovery())
	h.router.Use(SecurityHeaders())
	h.router.Use(RequestSizeLimiter(MaxRequestSize))
	h.router.Use(m.RequestLogger())

	h.router.GET("/healthz", h.healthCheck)
	h.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhook := h.router.Group("/webhook")
	webhook.Use(m.RateLimitPerIP(), m.WebhookSignature())
	{
		webhook.POST("/events", h.receiveEvents)
		webhook.POST("/callbacks", h.receiveCallbacks)
	}

	api := h.router.Group("/api")
	api.Use(m.AuthRequired())
	{
		api.GET("/events/:event_id", h.getEventLog)

		owner := api.Group("/owners/:owner_id")
		owner.Use(m.OwnerScope())
		{
			owner.GET("/usage", h.getUsage)
			owner.POST("/accounts/:account_id/link", h.linkAccount)
			owner.POST("/accounts/:account_id/unlink", h.unlinkAccount)
		}
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// receiveEvents handles POST /webhook/events. Events are dispatched in the
// background and the request is answered with 202, unless ?wait=true asks
// for the dispatch results inline, in request order.
func (h *Handler) receiveEvents(c *gin.Context) {
	var req EventBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid event batch", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	now := h.now()
	events := make([]entities.EngagementEvent, 0, len(req.Events))
	for i := range req.Events {
		evt, err := req.Events[i].ToEvent(now)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
			return
		}
		events = append(events, evt)
	}

	h.run(c, len(events), func(ctx context.Context, i int) entities.DispatchResult {
		return h.Dispatcher.Dispatch(ctx, events[i])
	})
}

// receiveCallbacks handles POST /webhook/callbacks.
func (h *Handler) receiveCallbacks(c *gin.Context) {
	var req CallbackBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid callback batch", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	now := h.now()
	events := make([]entities.ButtonEvent, 0, len(req.Callbacks))
	for i := range req.Callbacks {
		evt, err := req.Callbacks[i].ToEvent(now)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
			return
		}
		events = append(events, evt)
	}

	h.run(c, len(events), func(ctx context.Context, i int) entities.DispatchResult {
		return h.Dispatcher.DispatchCallback(ctx, events[i])
	})
}

// run dispatches n events, each as its own unit of work with its own
// DispatchTimeout. Event contexts are detached from the request: a client
// that disconnects does not cut short an admitted event.
func (h *Handler) run(c *gin.Context, n int, dispatch func(ctx context.Context, i int) entities.DispatchResult) {
	parent := context.WithoutCancel(c.Request.Context())
	results := make([]entities.DispatchResult, n)

	runAll := func() {
		var g errgroup.Group
		g.SetLimit(maxParallelDispatch)
		for i := range n {
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(parent, h.DispatchTimeout)
				defer cancel()
				results[i] = dispatch(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	if c.Query("wait") == "true" {
		runAll()
		c.JSON(http.StatusOK, DispatchResponse{Accepted: n, Results: results})
		return
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		runAll()
	}()
	c.JSON(http.StatusAccepted, DispatchResponse{Accepted: n})
}
