package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/device"
	"aerospin-backend/internal/handshake"
	"aerospin-backend/internal/models"
	"aerospin-backend/internal/report"
	"aerospin-backend/internal/services"
)

// Handler serves the dashboard HTTP API
type Handler struct {
	dash    *services.Dashboard
	reports *report.Store
	clock   clock.Clock
	logger  *slog.Logger

	deps      []dependency
	wsClients func() int
}

type dependency struct {
	name string
	up   func() bool
}

func NewHandler(dash *services.Dashboard, reports *report.Store, clk clock.Clock, logger *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dash:    dash,
		reports: reports,
		clock:   clk,
		logger:  logger.With(slog.String("component", "api")),
	}
}

// AddDependency reports an optional backend (broker, archive) on /health
func (h *Handler) AddDependency(name string, up func() bool) {
	h.deps = append(h.deps, dependency{name: name, up: up})
}

// Health is always 200 while the process serves; a down dependency only
// marks the status degraded.
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	deps := make(map[string]bool, len(h.deps))
	for _, d := range h.deps {
		up := d.up()
		deps[d.name] = up
		if !up {
			status = "degraded"
		}
	}
	body := gin.H{
		"status":       status,
		"state":        h.dash.State(),
		"dependencies": deps,
	}
	if h.wsClients != nil {
		body["ws_clients"] = h.wsClients()
	}
	c.JSON(http.StatusOK, models.SuccessResponse(body))
}

type setupRequest struct {
	RuntimeSeconds *int `json:"runtimeSeconds" binding:"required"`
	Code           *int `json:"code"`
}

type confirmRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

type locationRequest struct {
	Latitude       *float64 `json:"latitude" binding:"required"`
	Longitude      *float64 `json:"longitude" binding:"required"`
	AccuracyMeters float64  `json:"accuracyMeters"`
}

// DeviceEvent handles every device push. Replies are unwrapped so existing
// firmware can read status and state at the top level.
func (h *Handler) DeviceEvent(c *gin.Context) {
	var ev models.DeviceEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.badRequest(c, err)
		return
	}
	if ev.Status == "" {
		h.badRequest(c, errors.New("status is required"))
		return
	}

	reply, err := h.dash.HandleDeviceEvent(c.Request.Context(), c.ClientIP(), ev)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// GetSnapshot serves the polling dashboard
func (h *Handler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.dash.Snapshot())
}

func (h *Handler) Setup(c *gin.Context) {
	var req setupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	reply, err := h.dash.Setup(*req.RuntimeSeconds, req.Code)
	h.respond(c, reply, err)
}

func (h *Handler) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	reply, err := h.dash.Confirm(*req.Accepted)
	h.respond(c, reply, err)
}

func (h *Handler) Stop(c *gin.Context) {
	reply, err := h.dash.Stop()
	h.respond(c, reply, err)
}

func (h *Handler) Restart(c *gin.Context) {
	reply, err := h.dash.Restart()
	h.respond(c, reply, err)
}

func (h *Handler) Reset(c *gin.Context) {
	h.respond(c, h.dash.Reset(), nil)
}

// SetLocation accepts a position from the operator's browser
func (h *Handler) SetLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	loc, err := h.dash.SetBrowserLocation(*req.Latitude, *req.Longitude, req.AccuracyMeters)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(loc))
}

// DownloadReport renders the most recently completed session as a PDF. The
// file is removed by the report store after its retention period.
func (h *Handler) DownloadReport(c *gin.Context) {
	records, err := h.dash.CompletedRecords()
	if err != nil {
		h.fail(c, err)
		return
	}
	art, err := h.reports.Write(records, h.clock.Now())
	if err != nil {
		h.logger.Error("failed to generate report", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse("failed to generate report"))
		return
	}
	c.FileAttachment(art.Path, art.Filename)
}

func (h *Handler) respond(c *gin.Context, reply models.EventReply, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(reply))
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, models.StateErrorResponse(err.Error(), h.dash.State()))
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnknownStatus),
		errors.Is(err, services.ErrMissingTelemetry),
		errors.Is(err, services.ErrInvalidTelemetry),
		errors.Is(err, services.ErrInvalidLocation),
		errors.Is(err, handshake.ErrInvalidAuthCode),
		errors.Is(err, handshake.ErrInvalidRuntime):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrInvalidTransition),
		errors.Is(err, services.ErrNotRunning),
		errors.Is(err, services.ErrSessionFrozen),
		errors.Is(err, handshake.ErrNoPendingConfirmation),
		errors.Is(err, handshake.ErrConfirmationPending),
		errors.Is(err, handshake.ErrNoAuthSession):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoReport):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
