// README: Device token registration for push notifications.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridelink/internal/http/middleware"
	"ridelink/internal/modules/notify"
	"ridelink/internal/types"
)

type DeviceHandler struct {
	tokens notify.TokenStore
}

func NewDeviceHandler(tokens notify.TokenStore) *DeviceHandler {
	return &DeviceHandler{tokens: tokens}
}

type deviceTokenReq struct {
	Token string `json:"token"`
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req deviceTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.tokens.SetToken(c.Request.Context(), types.ID(middleware.CallerUID(c)), req.Token); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
