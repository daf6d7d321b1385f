package agentapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"signalcraft-client/internal/analysis"
	"signalcraft-client/internal/datasource"
	"signalcraft-client/internal/diagnosis"
	"signalcraft-client/internal/history"
	"signalcraft-client/internal/session"
	"signalcraft-client/internal/shared/server/middleware"
	"signalcraft-client/internal/shared/server/respond"
	"signalcraft-client/internal/shared/telemetry"
)

const (
	groupCommand = "COMMAND"
	groupRead    = "READ"
)

// Authenticator exchanges operator credentials with the backend.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (session.User, *oauth2.Token, error)
	Me(ctx context.Context) (session.User, error)
}

// Deps wires a Handler.
type Deps struct {
	Session        *session.State
	Auth           Authenticator
	Source         datasource.Source
	Registry       *diagnosis.Registry
	History        history.Repo
	DemoEnabled    bool
	AllowedOrigins []string
	CommandLimit   middleware.RateLimitRule
}

// Handler serves the local companion API.
type Handler struct {
	session  *session.State
	auth     Authenticator
	source   datasource.Source
	registry *diagnosis.Registry
	history  history.Repo
	demo     bool
	limit    middleware.RateLimitRule
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps) *Handler {
	h := &Handler{
		session:  deps.Session,
		auth:     deps.Auth,
		source:   deps.Source,
		registry: deps.Registry,
		history:  deps.History,
		demo:     deps.DemoEnabled,
		limit:    deps.CommandLimit,
	}
	if h.history == nil {
		h.history = history.NewMemoryRepo()
	}
	h.upgrader = newUpgrader(deps.AllowedOrigins)
	return h
}

// RegisterRoutes attaches auth, catalog, device and diagnosis routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	api := rg.Group("/api/v1")

	auth := api.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/demo", h.loginDemo)
	auth.POST("/logout", h.logout)
	auth.GET("/me", h.me)

	protected := api.Group("", middleware.RequireSession(h.session))
	protected.GET("/models", h.models)
	protected.GET("/devices", h.listDevices)

	devices := protected.Group("/devices/:id", middleware.DeviceID(), middleware.RateLimit(middleware.RateLimitConfig{
		DefaultGroup: groupRead,
		GroupFor:     rateLimitGroup,
		Rules:        map[string]middleware.RateLimitRule{groupCommand: h.limit},
	}))
	devices.PATCH("/config", h.updateConfig)
	devices.GET("/report", h.report)
	devices.GET("/history", h.listHistory)
	devices.GET("/diagnosis", h.snapshot)
	devices.GET("/diagnosis/stream", h.stream)
	devices.POST("/diagnosis/start", h.command(startCommand))
	devices.POST("/diagnosis/pause", h.command(pauseCommand))
	devices.POST("/diagnosis/resume", h.command(resumeCommand))
	devices.POST("/diagnosis/stop", h.command(stopCommand))
	devices.POST("/diagnosis/reset", h.command(resetCommand))
	devices.POST("/diagnosis/upload", h.upload)
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost && strings.Contains(c.FullPath(), "/diagnosis/") {
		return groupCommand
	}
	return groupRead
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type meResponse struct {
	User session.User `json:"user"`
	Demo bool         `json:"demo"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "invalid request body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "username and password are required", nil)
		return
	}
	if h.auth == nil {
		respond.Error(c, http.StatusServiceUnavailable, "login_unavailable", "backend login is not configured", nil)
		return
	}
	user, tok, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, analysis.ErrUnauthorized) {
			respond.Error(c, http.StatusUnauthorized, analysis.ErrorCodeUnauthorized, "invalid username or password", nil)
			return
		}
		respond.Error(c, http.StatusBadGateway, "login_failed", analysis.SanitizeError(err), nil)
		return
	}
	if err := h.session.Login(user, tok); err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, meResponse{User: user})
}

func (h *Handler) loginDemo(c *gin.Context) {
	if !h.demo {
		respond.Error(c, http.StatusNotFound, "not_found", "demo mode is disabled", nil)
		return
	}
	user := h.session.LoginDemo()
	respond.OK(c, meResponse{User: user, Demo: true})
}

func (h *Handler) logout(c *gin.Context) {
	h.session.Logout(session.ReasonUser)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	user, ok := h.session.User()
	if !ok && h.session.IsAuthenticated() && h.auth != nil {
		// Restored token without a cached profile.
		fetched, err := h.auth.Me(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		h.session.SetUser(fetched)
		user, ok = fetched, true
	}
	if !ok {
		respond.Error(c, http.StatusUnauthorized, analysis.ErrorCodeUnauthorized, "login required", nil)
		return
	}
	respond.OK(c, meResponse{User: user, Demo: h.session.IsDemo()})
}

func (h *Handler) models(c *gin.Context) {
	models, err := h.source.Models(c.Request.Context(), strings.TrimSpace(c.Query("device_type")))
	if err != nil {
		writeError(c, err)
		return
	}
	if models == nil {
		models = []analysis.ModelDescriptor{}
	}
	respond.OK(c, gin.H{"models": models})
}

// listDevices returns the current snapshot of every device with a controller.
func (h *Handler) listDevices(c *gin.Context) {
	devices := make([]diagnosis.Snapshot, 0)
	for _, id := range h.registry.Devices() {
		if ctrl, ok := h.registry.Lookup(id); ok {
			devices = append(devices, ctrl.Snapshot())
		}
	}
	respond.OK(c, gin.H{"devices": devices})
}

func (h *Handler) updateConfig(c *gin.Context) {
	deviceID, ok := validDeviceID(c)
	if !ok {
		return
	}
	var cfg analysis.DeviceConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "invalid request body", nil)
		return
	}
	res, err := h.source.UpdateDeviceConfig(c.Request.Context(), deviceID, cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	telemetry.Info("device.config_updated", map[string]any{
		"device_id":            deviceID,
		"threshold_multiplier": res.ThresholdMultiplier,
		"sensitivity_level":    res.SensitivityLevel,
	})
	respond.OK(c, res)
}

func (h *Handler) report(c *gin.Context) {
	deviceID, ok := validDeviceID(c)
	if !ok {
		return
	}
	report, err := h.source.Report(c.Request.Context(), deviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, report)
}

func (h *Handler) listHistory(c *gin.Context) {
	deviceID, ok := validDeviceID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.Error(c, http.StatusBadRequest, analysis.ErrorCodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	entries, err := h.history.ListByDevice(c.Request.Context(), deviceID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respond.OK(c, gin.H{"items": entries})
}

func (h *Handler) snapshot(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	respond.OK(c, ctrl.Snapshot())
}

func (h *Handler) controller(c *gin.Context) (*diagnosis.Controller, bool) {
	ctrl, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ctrl, true
}

func validDeviceID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := validateDeviceID(id); err != nil {
		writeError(c, err)
		return "", false
	}
	return id, true
}
