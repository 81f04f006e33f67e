package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/certhook/certhook/pkg/model"
	"github.com/certhook/certhook/pkg/target"
	"github.com/certhook/certhook/pkg/webhook"
)

const signatureHeader = "X-Certhook-Signature-256"

// HTTPSink POSTs the event envelope to the target callback URL, signing the
// body with the shared webhook secret so downstream pipelines can verify
// provenance the same way we verify GitHub's.
type HTTPSink struct {
	client *http.Client
	secret string
}

func NewHTTPSink(client *http.Client, secret string) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{client: client, secret: secret}
}

func (s *HTTPSink) Deliver(ctx context.Context, event *model.WebhookEvent, t *target.Target) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.DeliveryID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Callback.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request for target %s: %w", t.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Certhook-Delivery", event.DeliveryID)
	req.Header.Set("X-Certhook-Event", event.EventType)
	if s.secret != "" {
		req.Header.Set(signatureHeader, webhook.Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s to target %s: %w", event.DeliveryID, t.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver %s to target %s: callback returned %d", event.DeliveryID, t.Name, resp.StatusCode)
	}
	return nil
}
