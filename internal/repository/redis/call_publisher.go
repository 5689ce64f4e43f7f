package redis

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"signaling-core/internal/domain"
	"signaling-core/pkg/constants"
	appctx "signaling-core/pkg/context"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
)

// Publisher is the subset of the Redis client used for fan-out
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// CallPublisher publishes domain.CallStateMessage JSON on call:<call_id>,
// fanning persisted call changes out over Redis pub/sub so that
// every signaling instance can push them to its WebSocket clients.
type CallPublisher struct {
	client  Publisher
	timeout time.Duration
}

// NewCallPublisher creates a new CallPublisher
func NewCallPublisher(client Publisher) *CallPublisher {
	return &CallPublisher{client: client, timeout: constants.NotificationTimeout}
}

// OnCallStateChanged publishes the new call state. Failures are logged and
// counted; the persisted change stands regardless.
func (p *CallPublisher) OnCallStateChanged(ctx context.Context, call *domain.Call, event domain.CallEvent) {
	body, err := json.Marshal(domain.NewCallStateMessage(call, event))
	if err != nil {
		metrics.CallNotificationsTotal.WithLabelValues("redis", "error").Inc()
		logger.FromContext(ctx).Error("Failed to encode call state message",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return
	}

	pubCtx, cancel := appctx.Detached(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(pubCtx, domain.CallChannel(call.CallID), body); err != nil {
		metrics.CallNotificationsTotal.WithLabelValues("redis", "error").Inc()
		logger.FromContext(ctx).Warn("Failed to publish call state",
			zap.String("call_id", call.CallID.String()),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		return
	}

	metrics.CallNotificationsTotal.WithLabelValues("redis", "ok").Inc()
}
