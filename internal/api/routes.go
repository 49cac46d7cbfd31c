package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/auth"
	"github.com/satriahrh/sahayak/internal/websocket"
	"github.com/satriahrh/sahayak/usecase"
)

const claimsKey = "claims"

// Dependencies are the services the routes expose
type Dependencies struct {
	Live     *usecase.LiveService
	Chat     *usecase.ChatService
	Hub      *websocket.Hub
	Signer   *auth.Signer
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type handler struct {
	Dependencies
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handler{Dependencies: deps}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "sahayak",
		})
	})

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth", h.signIn)

	live := v1.Group("/live", h.requireAuth)
	live.GET("", h.liveState)
	live.POST("/start", h.liveStart)
	live.POST("/stop", h.liveStop)
	live.POST("/mute", h.liveMute)
	live.PUT("/voice", h.liveVoice)
	live.POST("/credential", h.liveCredential)

	v1.POST("/chat", h.chat, h.requireAuth)

	// WebSocket endpoint; browsers pass the token as a query parameter
	e.GET("/ws", h.serveWebSocket, h.requireAuth)
}

// requireAuth validates the bearer token when a JWT secret is configured.
func (h *handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.Signer.Enabled() {
			return next(c)
		}

		token := auth.BearerToken(c.Request().Header.Get("Authorization"))
		if token == "" {
			token = c.QueryParam("token")
		}
		if token == "" {
			h.Logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.Signer.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}

// userName returns the name from the token, or the profile name when
// authentication is disabled.
func (h *handler) userName(c echo.Context) string {
	if claims, ok := c.Get(claimsKey).(*auth.JWTClaims); ok {
		return claims.Name
	}
	return h.Live.Profile().UserName
}

func (h *handler) signIn(c echo.Context) error {
	var req AuthRequest
	if err := c.Bind(&req); err != nil {
		h.Logger.Error("Failed to bind auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Name is required",
		})
	}

	profile, err := h.Live.SetUserName(name)
	if err == nil && req.Voice != "" {
		profile, err = h.Live.SetVoice(req.Voice)
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_voice",
			Message: err.Error(),
		})
	}

	resp := AuthResponse{UserName: profile.UserName, Voice: profile.Voice}
	if h.Signer.Enabled() {
		token, claims, err := h.Signer.GenerateUserToken(name, profile.Voice)
		if err != nil {
			h.Logger.Error("Failed to generate user token", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "token_generation_failed",
				Message: "Failed to generate authentication token",
			})
		}
		expiresAt := claims.ExpiresAt.Time
		resp.Token = token
		resp.ExpiresAt = &expiresAt
	}

	h.Logger.Info("User signed in", zap.String("userName", name))
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) liveState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Live.Snapshot())
}

func (h *handler) liveStart(c echo.Context) error {
	snap, err := h.Live.Start(c.Request().Context(), h.userName(c))
	if err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handler) liveStop(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Live.Stop())
}

func (h *handler) liveMute(c echo.Context) error {
	muted, err := h.Live.ToggleMute()
	if err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, MuteResponse{Muted: muted})
}

func (h *handler) liveVoice(c echo.Context) error {
	var req VoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	profile, err := h.Live.SetVoice(req.Voice)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_voice",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *handler) liveCredential(c echo.Context) error {
	var req CredentialRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "API key is required",
		})
	}

	snap, err := h.Live.SelectCredential(c.Request().Context(), req.APIKey)
	if err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	reply, err := h.Chat.Reply(c.Request().Context(), repositories.ChatRequest{
		UserName: h.userName(c),
		Message:  req.Message,
		History:  req.History,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidRole) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: err.Error(),
			})
		}
		return h.sessionError(c, err)
	}
	return c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

func (h *handler) serveWebSocket(c echo.Context) error {
	return websocket.HandleWebSocket(h.Hub, c, h.userName(c), h.Logger)
}

// sessionError writes a classified session error.
func (h *handler) sessionError(c echo.Context, err error) error {
	code := websocket.ErrorCode(err)
	message := err.Error()
	var se *domain.SessionError
	if errors.As(err, &se) {
		message = se.Message
	}

	h.Logger.Warn("Live command failed", zap.String("path", c.Path()), zap.String("code", code), zap.Error(err))
	return c.JSON(statusFor(err), ErrorResponse{Error: code, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionCanceled), errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDevice):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
