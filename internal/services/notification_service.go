// internal/services/notification_service.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/nftbazaar/marketplace-backend/internal/config"
	"github.com/nftbazaar/marketplace-backend/internal/stream"
)

// NotificationService delivers market events to a configured webhook
// endpoint. Delivery is best-effort with retries; a marketplace settlement
// never fails because a webhook receiver is down.
type NotificationService struct {
	client *retryablehttp.Client
	cfg    *config.Config
}

type webhookPayload struct {
	Event     stream.Event `json:"event"`
	Source    string       `json:"source"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewNotificationService(cfg *config.Config) *NotificationService {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Webhook.RetryMax
	client.HTTPClient.Timeout = time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
	client.Logger = nil

	return &NotificationService{
		client: client,
		cfg:    cfg,
	}
}

// NotifyEvent posts the event to the configured webhook URL. A blank URL
// disables delivery.
func (s *NotificationService) NotifyEvent(event stream.Event) {
	if s.cfg.Webhook.URL == "" {
		return
	}

	go func() {
		if err := s.deliver(event); err != nil {
			logrus.WithError(err).WithField("event", string(event.Type)).
				Warn("Webhook delivery failed")
		}
	}()
}

func (s *NotificationService) deliver(event stream.Event) error {
	payload := webhookPayload{
		Event:     event,
		Source:    "nft-marketplace",
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequest("POST", s.cfg.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Webhook.Secret != "" {
		req.Header.Set("X-Webhook-Secret", s.cfg.Webhook.Secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}
