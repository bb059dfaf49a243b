package http

import (
	"errors"
	"net/http"

	"autodm/internal/entities"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Owner API. Every route here runs behind AuthRequired; the owner-scoped
// ones also behind OwnerScope.

// getUsage returns the owner's current usage window.
func (h *Handler) getUsage(c *gin.Context) {
	status, err := h.Ledger.Status(c.Request.Context(), c.Param("owner_id"))
	if err != nil {
		h.log.Error("Failed to get usage status", zap.Error(err), zap.String("owner_id", c.Param("owner_id")))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to fetch usage"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) linkAccount(c *gin.Context) {
	h.setLinked(c, true)
}

func (h *Handler) unlinkAccount(c *gin.Context) {
	h.setLinked(c, false)
}

// setLinked activates or deactivates an account and keeps the current
// usage window's account list in step.
func (h *Handler) setLinked(c *gin.Context, linked bool) {
	ctx := c.Request.Context()
	ownerID, accountID := c.Param("owner_id"), c.Param("account_id")

	account, err := h.Accounts.GetByID(ctx, accountID)
	if err != nil {
		h.log.Error("Failed to load account", zap.Error(err), zap.String("account_id", accountID))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to load account"})
		return
	}
	if account == nil || account.OwnerID != ownerID {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: entities.ErrAccountNotFound.Error()})
		return
	}

	if err := h.Accounts.SetActive(ctx, accountID, linked); err != nil {
		if errors.Is(err, entities.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
			return
		}
		h.log.Error("Failed to update account", zap.Error(err), zap.String("account_id", accountID))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to update account"})
		return
	}

	if linked {
		err = h.Ledger.TrackAccount(ctx, ownerID, accountID)
	} else {
		err = h.Ledger.UntrackAccount(ctx, ownerID, accountID)
	}
	if err != nil {
		h.log.Warn("Failed to update usage window accounts",
			zap.Error(err),
			zap.String("owner_id", ownerID),
			zap.String("account_id", accountID))
	}

	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "active": linked})
}

// getEventLog returns the recorded outcome of an event. Events of other
// owners are reported as missing.
func (h *Handler) getEventLog(c *gin.Context) {
	rec, err := h.Logs.GetLog(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		h.log.Error("Failed to load reply log", zap.Error(err), zap.String("event_id", c.Param("event_id")))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to load event"})
		return
	}
	if rec == nil || rec.OwnerID != c.GetString(ownerIDKey) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no record for event"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
