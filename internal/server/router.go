package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codesynclabs/codesync/internal/execution"
)

var (
	errMissingRelay    = errors.New("relay dependency required")
	errMissingExecutor = errors.New("executor dependency required")
)

// ConnectionHandler upgrades HTTP requests into relay sessions.
type ConnectionHandler interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
}

// Executor forwards a file bundle to the execution service.
type Executor interface {
	Execute(ctx context.Context, request execution.Request) (json.RawMessage, error)
}

// Dependencies carries the services the HTTP surface is built from.
type Dependencies struct {
	Relay    ConnectionHandler
	Executor Executor
	Logger   *zap.Logger
}

// NewHTTPHandler wires the websocket endpoint and the execution proxy
// behind a gin router with permissive CORS.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Relay == nil {
		return nil, errMissingRelay
	}
	if deps.Executor == nil {
		return nil, errMissingExecutor
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		executor: deps.Executor,
		logger:   logger,
	}

	router.GET("/ws", func(c *gin.Context) {
		deps.Relay.HandleConnection(c.Writer, c.Request)
	})
	router.POST("/execute", handler.handleExecute)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router, nil
}

type httpHandler struct {
	executor Executor
	logger   *zap.Logger
}

func (h *httpHandler) handleExecute(c *gin.Context) {
	var request execution.Request
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), request)
	if err != nil {
		if errors.Is(err, execution.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Warn("code execution failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "execution_failed"})
		return
	}

	c.Data(http.StatusOK, "application/json", result)
}
