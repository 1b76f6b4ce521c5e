package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/config"
	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
)

// NotificationService forwards domain events to the configured outbound
// hooks. Delivery is best effort; a failed post is logged and dropped.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	client     *http.Client
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventRequestCreated, n.handleRequestCreated)
	n.dispatcher.Subscribe(events.EventRequestClaimed, n.handleRequestClaimed)
	n.dispatcher.Subscribe(events.EventRequestSwept, n.handleRequestSwept)
	n.dispatcher.Subscribe(events.EventSessionStarted, n.handleSessionStarted)
	n.dispatcher.Subscribe(events.EventSessionEnded, n.handleSessionEnded)
	n.dispatcher.Subscribe(events.EventSessionSwept, n.handleSessionEnded)
}

func (n *NotificationService) handleRequestCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("RequestCreated", zap.String("request_id", event.RequestID), zap.Any("payload", event.Payload))
	n.postWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleRequestClaimed(ctx context.Context, event events.Event) error {
	n.logger.Info("RequestClaimed", zap.String("request_id", event.RequestID), zap.Any("payload", event.Payload))
	n.postWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleRequestSwept(ctx context.Context, event events.Event) error {
	n.logger.Info("RequestSwept", zap.String("request_id", event.RequestID), zap.Any("payload", event.Payload))
	n.postWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionStarted(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionStarted", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.postWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionEnded(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionEnded", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.postWebhook(ctx, event)

	if payload, ok := event.Payload.(events.SessionEndedPayload); ok && payload.Outcome == domain.SessionStatusCompleted {
		n.postSettlement(ctx, event, payload)
	}
	return nil
}

func (n *NotificationService) postWebhook(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.post(ctx, n.cfg.WebhookURL, event)
}

// postSettlement notifies the billing side that a completed session is ready
// for payout calculation.
func (n *NotificationService) postSettlement(ctx context.Context, event events.Event, payload events.SessionEndedPayload) {
	if strings.TrimSpace(n.cfg.SettlementURL) == "" {
		return
	}
	n.post(ctx, n.cfg.SettlementURL, map[string]any{
		"session_id":  event.SessionID,
		"request_id":  event.RequestID,
		"duration_ms": payload.DurationMS,
		"forced":      payload.Forced,
		"swept":       payload.Swept,
		"ended_at":    event.Timestamp,
	})
}

func (n *NotificationService) post(ctx context.Context, url string, body any) {
	encoded, err := json.Marshal(body)
	if err != nil {
		n.logger.Error("notification payload encode failed", zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		n.logger.Error("notification request build failed", zap.String("url", url), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.logger.Warn("notification endpoint rejected delivery",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
	}
}
