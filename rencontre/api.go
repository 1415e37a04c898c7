package rencontre

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	pprofPrefix                = "/debug/pprof"
	apiPrefix                  = "/api"
	apiHealthCheck             = "/healthz"
	apiPathStats               = "/stats"
	apiPathRoster              = "/roster"
	apiPathSpeedEvents         = "/speed_events"
	apiPathSpeedEventsInFlight = "/speed_events/in_flight"
	apiPathSessions            = "/sessions"
	apiPathRegisterCommands    = "/discord/register_commands"
	apiPathQuit                = "/quit"

	xRequestIDHeader = "X-Request-ID"
	bearerPrefix     = "Bearer "
)

// API serves health and read-only admin endpoints
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	handlers *APIHandlers
}

func newAPI(r *Rencontre, config *APIConfig) (*API, error) {
	engine := gin.New()

	api := &API{
		config:   config,
		engine:   engine,
		logger:   newComponentLogger(config.LogLevel, "api"),
		handlers: &APIHandlers{r: r},
	}

	var tlsCfg *tls.Config
	if config.SSL.CertFile != "" && config.SSL.KeyFile != "" {
		cfg, err := tlsConfig(config.SSL.CertFile, config.SSL.KeyFile, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		tlsCfg = cfg
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           engine,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	engine.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(config.CORS.GINConfig()),
	)

	h := api.handlers
	engine.GET(apiHealthCheck, h.healthCheck)

	protected := engine.Group(apiPrefix)
	protected.Use(authMiddleware(config.Secret))

	protected.GET(apiPathStats, h.getStats)
	protected.GET(apiPathRoster, h.getRoster)
	protected.GET(apiPathSpeedEvents, h.getSpeedEvents)
	protected.GET(apiPathSpeedEventsInFlight, h.getSpeedEventsInFlight)
	protected.GET(apiPathSessions, h.getSessions)
	protected.POST(apiPathRegisterCommands, h.discordRegisterCommands)
	protected.POST(apiPathQuit, h.botQuit)

	if config.Development {
		ginPprof.Register(engine, pprofPrefix)
	}

	return api, nil
}

// Serve listens on the configured address until the server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

// APIHandlers holds the route handlers
type APIHandlers struct {
	r *Rencontre
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool      `json:"discord_gateway_connected"`
	OnboardingSessions      int       `json:"onboarding_sessions"`
	SpeedEventsInFlight     int       `json:"speed_events_in_flight"`
	StartedAt               time.Time `json:"started_at"`
	Version                 string    `json:"version"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	rv := healthCheckResponse{
		DiscordGatewayConnected: h.r.discord.connected.Load(),
		OnboardingSessions:      h.r.sessions.Len(),
		StartedAt:               h.r.startedAt,
		Version:                 Version,
	}
	if h.r.scheduler != nil {
		rv.SpeedEventsInFlight = len(h.r.scheduler.InFlight())
	}
	c.JSON(http.StatusOK, rv)
}

type statsResponse struct {
	Stats
	PublishedPercent float64             `json:"published_percent"`
	Settings         InteractionSettings `json:"settings"`
	LastRunAt        *time.Time          `json:"speed_dating_last_run_at,omitempty"`
}

func (h *APIHandlers) getStats(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.r.store.Stats(ctx)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting stats")
		return
	}
	settings, err := h.r.store.Settings(ctx)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting settings")
		return
	}
	rv := statsResponse{
		Stats:            st,
		PublishedPercent: st.PublishedPercent(),
		Settings:         settings,
	}
	if last := h.r.scheduler.LastRunAt(ctx); !last.IsZero() {
		rv.LastRunAt = &last
	}
	c.JSON(http.StatusOK, rv)
}

type rosterResponse struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

func (h *APIHandlers) getRoster(c *gin.Context) {
	ids, err := h.r.store.GetRoster(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting roster")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, rosterResponse{Count: len(ids), UserIDs: ids})
}

type speedEventsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (h *APIHandlers) getSpeedEvents(c *gin.Context) {
	var q speedEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	records, err := h.r.store.ListSpeedEvents(c.Request.Context(), q.Limit)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting speed events")
		return
	}
	if records == nil {
		records = []SpeedEventRecord{}
	}
	c.JSON(http.StatusOK, records)
}

type inFlightEvent struct {
	SessionID     string            `json:"session_id"`
	RequestedBy   string            `json:"requested_by"`
	StartedAt     time.Time         `json:"started_at"`
	ClosesAt      time.Time         `json:"closes_at"`
	Conversations []ConversationRef `json:"conversations"`
	Unpaired      []string          `json:"unpaired"`
}

func (h *APIHandlers) getSpeedEventsInFlight(c *gin.Context) {
	events := h.r.scheduler.InFlight()
	rv := make([]inFlightEvent, 0, len(events))
	for _, e := range events {
		rv = append(
			rv, inFlightEvent{
				SessionID:     e.SessionID,
				RequestedBy:   e.RequestedBy,
				StartedAt:     e.StartedAt,
				ClosesAt:      e.ClosesAt,
				Conversations: e.Conversations,
				Unpaired:      e.Unpaired,
			},
		)
	}
	c.JSON(http.StatusOK, rv)
}

type sessionsResponse struct {
	Active int `json:"active"`
}

func (h *APIHandlers) getSessions(c *gin.Context) {
	c.JSON(http.StatusOK, sessionsResponse{Active: h.r.sessions.Len()})
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	logger := ginContextLogger(c)
	if h.r.discord.session == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "discord session not ready"})
		return
	}
	created, err := h.r.discord.registerCommands()
	if err != nil {
		logger.Error("error registering commands", tint.Err(err))
		ginReplyError(c, "error registering commands")
		return
	}
	ginReplyMessage(c, fmt.Sprintf("registered %d commands", len(created)))
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("quit requested")
	select {
	case h.r.signalStop <- struct{}{}:
		ginReplyMessage(c, "stopping")
	default:
		c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "already stopping"})
	}
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

// authMiddleware requires "Authorization: Bearer <secret>". With an
// empty secret, every request is let through.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, bearerPrefix)
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			ginContextLogger(c).Warn("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns an ID to each request, returned in the
// X-Request-ID response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in the gin
// context, creating it with the request's details on first use.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's handled, along with
// any errors attached to the gin context
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", path,
				"remote_ip", c.RemoteIP(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				tint.Err(errors.New(errs.String())),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// ginReplyMessage sends a JSON message with HTTP status code 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError aborts with HTTP status code 500 and a JSON error
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
