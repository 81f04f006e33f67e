package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/certhook/certhook/pkg/metrics"
	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/store"
	"github.com/certhook/certhook/pkg/webhook"
)

const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"
)

// WebhookHandler is the synchronous ingestion path: authenticate, store
// PENDING, return. Dispatch happens in the engine process.
type WebhookHandler struct {
	events        store.EventStore
	authenticator *webhook.Authenticator
	logger        *zap.Logger
}

func NewWebhookHandler(events store.EventStore, authenticator *webhook.Authenticator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, authenticator: authenticator, logger: logger}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		rejected(c, http.StatusBadRequest, "unable to read request body")
		return
	}

	hdr := webhook.Headers{
		UserAgent:  c.GetHeader("User-Agent"),
		EventType:  c.GetHeader(headerEvent),
		Signature:  c.GetHeader(headerSignature),
		DeliveryID: c.GetHeader(headerDelivery),
	}

	if err := h.authenticator.Authenticate(body, hdr); err != nil {
		h.logger.Warn("webhook rejected",
			zap.String("delivery_id", hdr.DeliveryID),
			zap.String("event_type", hdr.EventType),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			metrics.EventsRejected.WithLabelValues("signature").Inc()
			rejected(c, http.StatusUnauthorized, "Invalid webhook signature")
		case errors.Is(err, webhook.ErrEventNotAllowed):
			metrics.EventsRejected.WithLabelValues("event_type").Inc()
			rejected(c, http.StatusBadRequest, fmt.Sprintf("Unsupported event type %q", hdr.EventType))
		default:
			metrics.EventsRejected.WithLabelValues("sender").Inc()
			rejected(c, http.StatusBadRequest, "Unrecognized webhook sender")
		}
		return
	}

	if hdr.DeliveryID == "" {
		metrics.EventsRejected.WithLabelValues("delivery_id").Inc()
		rejected(c, http.StatusBadRequest, "Missing delivery id header")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.EventsRejected.WithLabelValues("payload").Inc()
		rejected(c, http.StatusBadRequest, "Malformed JSON payload")
		return
	}

	event := &model.WebhookEvent{
		DeliveryID: hdr.DeliveryID,
		EventType:  hdr.EventType,
		Action:     stringField(payload, "action"),
		Repository: repositoryName(payload),
		SubjectID:  subjectID(payload),
		Payload:    payload,
		Status:     model.EventPending,
		ReceivedAt: time.Now().UTC(),
	}

	stored, created, err := h.events.InsertIfAbsent(c.Request.Context(), event)
	if err != nil {
		h.logger.Error("failed to store webhook event",
			zap.String("delivery_id", hdr.DeliveryID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "storage failure"})
		return
	}

	outcome := "stored"
	if !created {
		outcome = "replay"
	}
	metrics.EventsReceived.WithLabelValues(event.EventType, outcome).Inc()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"message":       "Event received",
		"delivery_id":   stored.DeliveryID,
		"event_type":    stored.EventType,
		"action":        stored.Action,
		"repository":    stored.Repository,
		"subject_id":    stored.SubjectID,
		"event_status":  stored.Status,
		"attempt_count": stored.AttemptCount,
		"received_at":   stored.ReceivedAt,
	})
}

func rejected(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": "rejected", "message": message})
}

func stringField(payload map[string]interface{}, key string) string {
	value, _ := payload[key].(string)
	return value
}

func repositoryName(payload map[string]interface{}) string {
	repo, _ := payload["repository"].(map[string]interface{})
	name, _ := repo["full_name"].(string)
	return name
}

// subjectID picks the most specific identifier the payload carries: the
// pull request number, the issue number, or a top-level number.
func subjectID(payload map[string]interface{}) string {
	for _, key := range []string{"pull_request", "issue"} {
		if nested, ok := payload[key].(map[string]interface{}); ok {
			if number, ok := nested["number"].(float64); ok {
				return fmt.Sprintf("%.0f", number)
			}
		}
	}
	if number, ok := payload["number"].(float64); ok {
		return fmt.Sprintf("%.0f", number)
	}
	return ""
}
