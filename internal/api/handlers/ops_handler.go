package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/meetscribe/internal/gateway"
	"github.com/yoockh/meetscribe/internal/models"
	"github.com/yoockh/meetscribe/internal/monitor"
	"github.com/yoockh/meetscribe/internal/session"
	"github.com/yoockh/meetscribe/internal/utils"
)

// SessionHistory lists archived sessions.
type SessionHistory interface {
	ListRecent(ctx context.Context, limit int64) ([]models.Session, error)
}

type OpsHandler struct {
	machine *session.Machine
	monitor *monitor.Monitor
	gateway *gateway.Gateway
	history SessionHistory
}

func NewOpsHandler(m *session.Machine, mon *monitor.Monitor, gw *gateway.Gateway, history SessionHistory) *OpsHandler {
	return &OpsHandler{machine: m, monitor: mon, gateway: gw, history: history}
}

func (h *OpsHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *OpsHandler) ListSessions(c *gin.Context) {
	active := h.machine.ActiveSessions()

	var recent []models.Session
	if h.history != nil {
		var err error
		recent, err = h.history.ListRecent(c.Request.Context(), 20)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"active": active,
		"recent": recent,
	})
}

func (h *OpsHandler) Memory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"summary":            h.monitor.Summary(),
		"history":            h.monitor.History(),
		"gateway_generation": h.gateway.Generation(),
	})
}

// Redeliver sweeps the local backup directory and retries every preserved
// artifact.
func (h *OpsHandler) Redeliver(c *gin.Context) {
	delivered, remaining := h.gateway.RedeliverPending(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"delivered": delivered,
		"remaining": remaining,
	})
}

// EndMeeting force-finalizes the session bound to a meeting channel.
func (h *OpsHandler) EndMeeting(c *gin.Context) {
	channelID := c.Param("channel_id")
	if channelID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "OpsHandler.EndMeeting", "channel_id is required", nil))
		return
	}
	h.machine.HandleEndCommand(channelID)
	c.JSON(http.StatusAccepted, gin.H{"channel_id": channelID})
}
