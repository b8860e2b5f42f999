package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	identity "github.com/clinicore/identity"
)

// AuditHandler serves stored audit events.
type AuditHandler struct {
	querier identity.AuditQuerier
}

func NewAuditHandler(querier identity.AuditQuerier) *AuditHandler {
	return &AuditHandler{querier: querier}
}

// List filters by the userId, email, action, outcome and limit query
// parameters.
func (h *AuditHandler) List(c *gin.Context) {
	if h.querier == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: "audit log unavailable"})
		return
	}

	filter := identity.AuditFilter{
		UserID:  strings.TrimSpace(c.Query("userId")),
		Email:   strings.ToLower(strings.TrimSpace(c.Query("email"))),
		Action:  identity.AuditAction(strings.ToUpper(strings.TrimSpace(c.Query("action")))),
		Outcome: identity.AuditOutcome(strings.ToUpper(strings.TrimSpace(c.Query("outcome")))),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid limit", Field: "limit", Rule: "format"})
			return
		}
		filter.Limit = limit
	}

	logs, err := h.querier.Query(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
		return
	}
	if logs == nil {
		logs = []identity.AuditEvent{}
	}

	c.JSON(http.StatusOK, AuditLogsResponse{Message: "ok", Count: len(logs), Logs: logs})
}
