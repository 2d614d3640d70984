package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/ledger"
	"github.com/example/tableorder/pkg/printqueue"
	"github.com/example/tableorder/pkg/repository"
	"github.com/example/tableorder/pkg/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuditLog reads the audit trail of an order.
type AuditLog interface {
	OrderAuditLogs(ctx context.Context, orderID uint, limit int64) ([]*repository.AuditLog, error)
}

// Gateway is the HTTP and WebSocket front of the ordering core.
type Gateway struct {
	config   *config.Config
	ledger   *ledger.Ledger
	queue    *printqueue.Queue
	sessions *session.Manager
	audit    AuditLog
	logger   *zap.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader
	server   *http.Server

	// ctx outlives single requests; cancelling it closes every socket.
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Gateway)

func WithAuditLog(audit AuditLog) Option {
	return func(g *Gateway) { g.audit = audit }
}

func NewGateway(cfg *config.Config, l *ledger.Ledger, queue *printqueue.Queue, sessions *session.Manager, logger *zap.Logger, opts ...Option) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:   cfg,
		ledger:   l,
		queue:    queue,
		sessions: sessions,
		logger:   logger,
		router:   router,
		ctx:      ctx,
		cancel:   cancel,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) SetupRoutes() {
	// Health check
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": g.sessions.Connections()})
	})

	// Realtime
	g.router.GET("/ws", g.serveWebSocket)

	// API v1 routes
	v1 := g.router.Group("/api/v1")
	{
		// Customer-facing table routes
		tables := v1.Group("/tables")
		{
			tables.GET("", g.listTables)
			tables.GET("/:id/orders", g.listTableOrders)
			tables.POST("/:id/orders", g.placeOrder)
			tables.POST("/:id/bill", g.requestBill)
			tables.POST("/:id/finish", g.finishSession)
		}

		// Staff order routes
		orders := v1.Group("/orders")
		{
			orders.GET("", g.listOrders)
			orders.GET("/:id", g.getOrder)
			orders.POST("/:id/deliver", g.markAllDelivered)
			orders.POST("/:id/paid", g.markPaid)
			orders.GET("/:id/audit", g.orderAudit)
		}

		v1.PUT("/items/:id/delivery", g.toggleItemDelivery)

		// Printer agents without a gRPC client poll here
		jobs := v1.Group("/print-jobs")
		{
			jobs.GET("", g.listPrintJobs)
			jobs.POST("/:id/printed", g.markPrinted)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := g.config.Server.Addr()
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes live sockets and drains HTTP requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	allowed := g.config.Realtime.AllowOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) serveWebSocket(c *gin.Context) {
	role, err := session.ParseRole(c.Query("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	if err := g.sessions.Serve(g.ctx, conn, role); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("Session ended with error", zap.Error(err))
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
