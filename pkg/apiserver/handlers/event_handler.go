package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/certhook/certhook/pkg/filter"
	"github.com/certhook/certhook/pkg/store"
)

// EventHandler serves the read-only status query over stored events.
type EventHandler struct {
	events store.EventStore
	logger *zap.Logger
}

func NewEventHandler(events store.EventStore, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

func (h *EventHandler) List(c *gin.Context) {
	page := parsePage(c.Query("page"))
	pageSize := parsePageSize(c.Query("page_size"))

	expr, err := filter.Compile(c.Query("filter"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "message": err.Error()})
		return
	}

	events, total, err := h.events.Query(c.Request.Context(), expr, page, pageSize)
	if err != nil {
		h.logger.Error("event query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "query failure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"events":      events,
	})
}
